package parser

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
)

// Detector reports the 0-based line numbers where function, method, class
// or type definitions begin.
type Detector interface {
	DefinitionLines(path string, src []byte) []int
}

// Parser detects definitions with go/parser for Go sources and with
// line-prefix heuristics for other languages.
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// definitionPrefixes maps extensions to the trimmed line prefixes that
// start a definition.
var definitionPrefixes = map[string][]string{
	".py":    {"def ", "async def ", "class "},
	".pyi":   {"def ", "async def ", "class "},
	".js":    {"function ", "async function ", "class ", "export function ", "export async function ", "export class ", "export default function ", "export default class "},
	".jsx":   {"function ", "async function ", "class ", "export function ", "export class ", "export default function "},
	".ts":    {"function ", "async function ", "class ", "interface ", "export function ", "export async function ", "export class ", "export interface ", "export default function ", "export default class ", "abstract class ", "export abstract class "},
	".tsx":   {"function ", "class ", "interface ", "export function ", "export class ", "export interface ", "export default function "},
	".java":  {"public class ", "class ", "public interface ", "interface ", "public enum ", "abstract class ", "public abstract class ", "final class ", "public final class "},
	".kt":    {"fun ", "class ", "object ", "interface ", "data class ", "private fun ", "override fun "},
	".kts":   {"fun ", "class ", "object "},
	".rs":    {"fn ", "pub fn ", "async fn ", "pub async fn ", "impl ", "struct ", "pub struct ", "enum ", "pub enum ", "trait ", "pub trait "},
	".rb":    {"def ", "class ", "module "},
	".php":   {"function ", "public function ", "private function ", "protected function ", "class ", "abstract class ", "final class ", "interface ", "trait "},
	".swift": {"func ", "class ", "struct ", "enum ", "protocol ", "extension ", "public func ", "private func "},
	".cs":    {"public class ", "class ", "internal class ", "public interface ", "interface ", "public struct ", "struct ", "public static class "},
	".sh":    {"function "},
	".bash":  {"function "},
	".zsh":   {"function "},
	".ps1":   {"function "},
	".psm1":  {"function "},
}

// DefinitionLines implements Detector.
func (p *Parser) DefinitionLines(path string, src []byte) []int {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".go" {
		if lines, ok := p.goDefinitionLines(path, src); ok {
			return lines
		}
	}
	return prefixDefinitionLines(ext, src)
}

// goDefinitionLines walks top-level declarations. ok is false when the
// file does not parse.
func (p *Parser) goDefinitionLines(path string, src []byte) ([]int, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil || file == nil {
		return nil, false
	}

	var lines []int
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			lines = append(lines, fset.Position(d.Pos()).Line-1)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			if d.Lparen.IsValid() {
				// Grouped type block: one boundary per spec.
				for _, spec := range d.Specs {
					lines = append(lines, fset.Position(spec.Pos()).Line-1)
				}
				continue
			}
			lines = append(lines, fset.Position(d.Pos()).Line-1)
		}
	}
	return normalize(lines), true
}

// prefixDefinitionLines applies the heuristic prefixes for ext.
func prefixDefinitionLines(ext string, src []byte) []int {
	prefixes, ok := definitionPrefixes[ext]
	if !ok {
		return nil
	}

	var lines []int
	for i, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		for _, prefix := range prefixes {
			if strings.HasPrefix(trimmed, prefix) {
				lines = append(lines, i)
				break
			}
		}
	}
	return lines
}

// normalize sorts and deduplicates line numbers.
func normalize(lines []int) []int {
	if len(lines) == 0 {
		return nil
	}
	sort.Ints(lines)
	out := lines[:1]
	for _, l := range lines[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	return out
}
