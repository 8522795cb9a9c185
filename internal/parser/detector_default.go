//go:build !treesitter
// +build !treesitter

package parser

// This file is compiled by default. Definitions are found with go/parser
// for Go sources and with line-prefix heuristics for other languages.
//
// Build with tree-sitter grammars instead:
//   CGO_ENABLED=1 go build -tags "treesitter" ./...

const (
	// DetectorMode describes the current build configuration
	DetectorMode = "heuristic"
)

// NewDetector returns the definition detector for this build.
func NewDetector() Detector {
	return New()
}
