// Package parser finds the lines where definitions begin in source files.
//
// The chunker uses these lines as extra window boundaries so a function or
// class tends to start at the top of a chunk instead of being split at an
// arbitrary line.
//
// # Detection
//
// Go files are parsed with go/parser and every top-level func, method and
// type declaration contributes its starting line. Files that fail to parse
// fall back to the prefix heuristics, which match trimmed line prefixes
// such as "def ", "class " or "export function " per extension.
//
//	d := parser.NewDetector()
//	lines := d.DefinitionLines("service.py", src) // 0-based line numbers
//
// # Build Modes
//
// Building with the treesitter tag swaps in tree-sitter grammars for
// Python, JavaScript and TypeScript:
//
//	CGO_ENABLED=1 go build -tags "treesitter" ./...
package parser
