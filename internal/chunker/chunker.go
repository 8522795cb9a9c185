package chunker

import (
	"sort"
	"strings"
	"time"

	"github.com/dshills/codectx-mcp/internal/parser"
	"github.com/dshills/codectx-mcp/pkg/types"
)

const (
	// DefaultMaxLines is the window height in lines
	DefaultMaxLines = 80

	// DefaultOverlap is the number of lines shared by consecutive windows
	DefaultOverlap = 12
)

// Window is a line range of a file before tokenization.
type Window struct {
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Content   string
}

// Chunker splits file text into overlapping windows that start at
// definition lines and at a fixed stride.
type Chunker struct {
	maxLines int
	overlap  int
	detector parser.Detector
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithWindow sets the window height and overlap. Invalid values are ignored.
func WithWindow(maxLines, overlap int) Option {
	return func(c *Chunker) {
		if maxLines > 0 && overlap >= 0 && overlap < maxLines {
			c.maxLines = maxLines
			c.overlap = overlap
		}
	}
}

// WithDetector replaces the definition detector.
func WithDetector(d parser.Detector) Option {
	return func(c *Chunker) { c.detector = d }
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxLines: DefaultMaxLines,
		overlap:  DefaultOverlap,
		detector: parser.NewDetector(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Split returns the non-blank windows of text. path selects the definition
// heuristics. A window contained in an earlier one is not emitted.
func (c *Chunker) Split(path, text string) []Window {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	bounds := map[int]struct{}{0: {}}
	if c.detector != nil {
		for _, l := range c.detector.DefinitionLines(path, []byte(text)) {
			if l >= 0 && l < len(lines) {
				bounds[l] = struct{}{}
			}
		}
	}
	stride := c.maxLines - c.overlap
	for i := 0; i < len(lines); i += stride {
		bounds[i] = struct{}{}
	}

	starts := make([]int, 0, len(bounds))
	for b := range bounds {
		starts = append(starts, b)
	}
	sort.Ints(starts)

	windows := make([]Window, 0, len(starts))
	lastEnd := 0
	for _, start := range starts {
		end := min(len(lines), start+c.maxLines)
		// Starts are ascending, so a window ending where the last kept one
		// ends lies inside it.
		if end <= lastEnd {
			continue
		}
		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		lastEnd = end
		windows = append(windows, Window{
			StartLine: start + 1,
			EndLine:   end,
			Content:   content,
		})
	}
	return windows
}

// ChunkFile converts the windows of a file into chunks. relPath is the
// repository-relative path stored on each chunk; mtime feeds the chunk id.
// Windows without any token are dropped.
func (c *Chunker) ChunkFile(relPath, text string, mtime time.Time) []types.Chunk {
	windows := c.Split(relPath, text)
	chunks := make([]types.Chunk, 0, len(windows))

	for _, w := range windows {
		terms := Tokenize(w.Content)
		if len(terms) == 0 {
			continue
		}
		tokenCount := len(terms)
		if len(terms) > types.MaxChunkTerms {
			terms = terms[:types.MaxChunkTerms]
		}

		chunk := types.Chunk{
			ID:         types.ChunkID(relPath, w.StartLine, w.EndLine, mtime),
			FilePath:   relPath,
			StartLine:  w.StartLine,
			EndLine:    w.EndLine,
			Content:    w.Content,
			Terms:      terms,
			TokenCount: tokenCount,
			MTime:      mtime,
		}
		chunk.ComputeContentHash()
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitLines splits on "\n", trims a trailing "\r" per line and drops the
// empty element after a final newline.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
