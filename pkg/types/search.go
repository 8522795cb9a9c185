package types

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PreviewLines is the number of leading chunk lines returned as a preview.
const PreviewLines = 12

// Filters restricts which chunks a search may return.
type Filters struct {
	FileGlob   string   `json:"file_glob,omitempty"`  // doublestar pattern over the repository-relative path
	Extensions []string `json:"extensions,omitempty"` // e.g. ".go", "py"
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.FileGlob == "" && len(f.Extensions) == 0
}

// Match reports whether filePath passes the filters. An invalid glob
// matches nothing.
func (f Filters) Match(filePath string) bool {
	if f.FileGlob != "" {
		ok, err := doublestar.Match(f.FileGlob, filePath)
		if err != nil || !ok {
			return false
		}
	}
	if len(f.Extensions) > 0 {
		ext := strings.ToLower(path.Ext(filePath))
		for _, want := range f.Extensions {
			want = strings.ToLower(want)
			if !strings.HasPrefix(want, ".") {
				want = "." + want
			}
			if ext == want {
				return true
			}
		}
		return false
	}
	return true
}

// SearchRequest carries the parameters of a search. Nil pointers select
// the configured defaults.
type SearchRequest struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	Filters        Filters  `json:"filters"`
	UseSemantic    *bool    `json:"use_semantic,omitempty"`
	SemanticWeight *float64 `json:"semantic_weight,omitempty"`
	UseMMR         *bool    `json:"use_mmr,omitempty"`
}

// SearchResult is a single ranked chunk.
type SearchResult struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Preview   string  `json:"preview"`
}

// Preview returns the first n lines of content.
func Preview(content string, n int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }
