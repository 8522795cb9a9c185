package chunker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// numberedLines returns n lines "line 1" .. "line n" joined by newlines.
func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

type fixedDetector []int

func (f fixedDetector) DefinitionLines(string, []byte) []int { return f }

func TestNew(t *testing.T) {
	c := New()
	assert.Equal(t, DefaultMaxLines, c.maxLines)
	assert.Equal(t, DefaultOverlap, c.overlap)
	assert.NotNil(t, c.detector)

	c = New(WithWindow(10, 10))
	assert.Equal(t, DefaultMaxLines, c.maxLines, "invalid window is ignored")
}

func TestSplit_SlidingWindows(t *testing.T) {
	c := New(WithDetector(fixedDetector(nil)))
	windows := c.Split("notes.txt", numberedLines(200))

	require.Len(t, windows, 3)
	assert.Equal(t, 1, windows[0].StartLine)
	assert.Equal(t, 80, windows[0].EndLine)
	assert.Equal(t, 69, windows[1].StartLine)
	assert.Equal(t, 148, windows[1].EndLine)
	assert.Equal(t, 137, windows[2].StartLine)
	assert.Equal(t, 200, windows[2].EndLine)

	assert.True(t, strings.HasPrefix(windows[1].Content, "line 69\n"))
	assert.True(t, strings.HasSuffix(windows[2].Content, "line 200"))
}

func TestSplit_DefinitionBoundaries(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		if i == 40 {
			b.WriteString("def handler(event):\n")
			continue
		}
		fmt.Fprintf(&b, "x_%d = %d\n", i, i)
	}

	windows := New().Split("app.py", b.String())
	require.Len(t, windows, 2, "the stride window at line 69 lies inside the definition window")
	assert.Equal(t, 1, windows[0].StartLine)
	assert.Equal(t, 80, windows[0].EndLine)
	assert.Equal(t, 41, windows[1].StartLine)
	assert.Equal(t, 100, windows[1].EndLine)
	assert.True(t, strings.HasPrefix(windows[1].Content, "def handler"))
}

func TestSplit_DropsContainedWindows(t *testing.T) {
	src := "package auth\n\n// parseToken parses.\nfunc parseToken() { parseToken() }\n"

	windows := New().Split("a.go", src)
	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].StartLine)
	assert.Equal(t, 4, windows[0].EndLine)

	chunks := New().ChunkFile("a.go", src, time.Unix(0, 0))
	require.Len(t, chunks, 1, "one retrievable chunk per short file")
}

func TestSplit_DropsBlankWindows(t *testing.T) {
	c := New(WithWindow(2, 0), WithDetector(fixedDetector(nil)))
	windows := c.Split("a.txt", "alpha\nbeta\n\n  \ngamma\n")

	require.Len(t, windows, 2)
	assert.Equal(t, "alpha\nbeta", windows[0].Content)
	assert.Equal(t, 5, windows[1].StartLine)
	assert.Equal(t, "gamma", windows[1].Content)
}

func TestSplit_EmptyAndCRLF(t *testing.T) {
	c := New()
	assert.Empty(t, c.Split("a.go", ""))
	assert.Empty(t, c.Split("a.txt", "\n\n\n"))

	windows := c.Split("a.txt", "one\r\ntwo\r\n")
	require.Len(t, windows, 1)
	assert.Equal(t, "one\ntwo", windows[0].Content)
	assert.Equal(t, 2, windows[0].EndLine)
}

func TestSplit_IgnoresOutOfRangeBoundaries(t *testing.T) {
	c := New(WithWindow(3, 0), WithDetector(fixedDetector{-1, 2, 500}))
	windows := c.Split("a.txt", "a1\nb2\nc3\nd4\n")
	require.Len(t, windows, 2)
	assert.Equal(t, 3, windows[1].StartLine)
}

func TestChunkFile(t *testing.T) {
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithDetector(fixedDetector(nil)))

	chunks := c.ChunkFile("pkg/auth.go", "func parseToken() {}\n{}\n", mtime)
	require.Len(t, chunks, 1)

	ch := chunks[0]
	assert.Equal(t, types.ChunkID("pkg/auth.go", 1, 2, mtime), ch.ID)
	assert.Equal(t, "pkg/auth.go", ch.FilePath)
	assert.Equal(t, []string{"func", "parsetoken"}, ch.Terms)
	assert.Equal(t, 2, ch.TokenCount)
	assert.Equal(t, mtime, ch.MTime)
	assert.NoError(t, ch.Validate())

	again := c.ChunkFile("pkg/auth.go", "func parseToken() {}\n{}\n", mtime)
	assert.Equal(t, chunks, again, "chunking is deterministic")
}

func TestChunkFile_DropsTokenlessWindows(t *testing.T) {
	c := New(WithWindow(1, 0), WithDetector(fixedDetector(nil)))
	chunks := c.ChunkFile("a.js", "{}\nreturn value\n();\n", time.Unix(0, 0))
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].StartLine)
}

func TestChunkFile_CapsTerms(t *testing.T) {
	line := strings.Repeat("token ", types.MaxChunkTerms+500)
	chunks := New().ChunkFile("big.txt", line, time.Unix(0, 0))
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Terms, types.MaxChunkTerms)
	assert.Equal(t, types.MaxChunkTerms+500, chunks[0].TokenCount)
}

func TestTokenize(t *testing.T) {
	got := Tokenize("parseToken(x, y_1) a _b __init__ 9ab")
	assert.Equal(t, []string{"parsetoken", "y_1", "_b", "__init__", "ab"}, got)
	assert.Empty(t, Tokenize("a b c 1 2 3 !!"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestTokenSet(t *testing.T) {
	set := TokenSet([]string{"a", "b", "a"})
	assert.Len(t, set, 2)
}

func TestDecodeSource(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"utf8", []byte("héllo"), "héllo"},
		{"invalid bytes replaced", []byte{'a', 0xff, 'b'}, "a�b"},
		{"utf8 bom stripped", []byte("\xEF\xBB\xBFhello"), "hello"},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSource(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.py")
	require.NoError(t, os.WriteFile(path, []byte("name = 'caf\xe9'\n"), 0o644))

	text, err := ReadSource(path)
	require.NoError(t, err)
	assert.Contains(t, text, "caf�")

	_, err = ReadSource(filepath.Join(dir, "missing.py"))
	assert.Error(t, err)
}
