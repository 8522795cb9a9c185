package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codectx-mcp/pkg/types"
)

func makeChunk(path string, start int, terms ...string) types.Chunk {
	mtime := time.Unix(1700000000, 0)
	c := types.Chunk{
		ID:         types.ChunkID(path, start, start+1, mtime),
		FilePath:   path,
		StartLine:  start,
		EndLine:    start + 1,
		Content:    path,
		Terms:      terms,
		TokenCount: len(terms),
		MTime:      mtime,
	}
	c.ComputeContentHash()
	return c
}

func testIndex(chunks ...types.Chunk) *Index {
	x := NewIndex()
	mtimes := make(map[string]time.Time)
	for _, c := range chunks {
		mtimes[c.FilePath] = c.MTime
	}
	x.Replace(chunks, mtimes, time.Unix(1700000000, 0))
	return x
}

func TestNewIndex_Empty(t *testing.T) {
	snap := NewIndex().Snapshot()

	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, 0, snap.FileCount())
	assert.Equal(t, 1.0, snap.AvgDocLen())
	assert.Empty(t, snap.Chunks())
	assert.Empty(t, snap.BM25([]string{"anything"}, 1.5, 0.75))

	sum := sha256.Sum256([]byte("[]"))
	assert.Equal(t, hex.EncodeToString(sum[:]), snap.Version())
}

func TestSnapshot_Accessors(t *testing.T) {
	a1 := makeChunk("a.go", 1, "parse", "token", "token")
	a2 := makeChunk("a.go", 20, "other")
	b := makeChunk("b.go", 1, "parse", "other")
	snap := testIndex(b, a2, a1).Snapshot()

	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, 2, snap.FileCount())
	assert.InDelta(t, 2.0, snap.AvgDocLen(), 1e-9)
	assert.Equal(t, 3, snap.DocLen(a1.ID))
	assert.Equal(t, map[string]int{a1.ID: 2}, snap.Postings("token"))

	chunks := snap.Chunks()
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{a1.ID, a2.ID, b.ID}, []string{chunks[0].ID, chunks[1].ID, chunks[2].ID})
	assert.Len(t, snap.FileChunks("a.go"), 2)
	assert.Equal(t, []string{"a.go", "b.go"}, snap.Files())

	got, ok := snap.Chunk(b.ID)
	require.True(t, ok)
	assert.Equal(t, "b.go", got.FilePath)
	_, ok = snap.Chunk("missing")
	assert.False(t, ok)
}

func TestBM25(t *testing.T) {
	a := makeChunk("a.go", 1, "parse", "token", "token")
	b := makeChunk("b.go", 1, "parse", "other")
	c := makeChunk("c.go", 1, "unrelated", "words")
	snap := testIndex(a, b, c).Snapshot()

	t.Run("sparse", func(t *testing.T) {
		scores := snap.BM25([]string{"token"}, 1.5, 0.75)
		require.Len(t, scores, 1)
		assert.Greater(t, scores[a.ID], 0.0)
	})

	t.Run("formula", func(t *testing.T) {
		k1, b := 1.5, 0.75
		n, df := 3.0, 1.0
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		avgdl := 7.0 / 3.0
		want := idf * 2 * (k1 + 1) / (2 + k1*(1-b+b*3/avgdl))
		assert.InDelta(t, want, snap.BM25([]string{"token"}, k1, b)[a.ID], 1e-12)
	})

	t.Run("shorter document wins on equal tf", func(t *testing.T) {
		scores := snap.BM25([]string{"parse"}, 1.5, 0.75)
		require.Len(t, scores, 2)
		assert.Greater(t, scores[b.ID], scores[a.ID])
	})

	t.Run("repeated query terms add up", func(t *testing.T) {
		once := snap.BM25([]string{"token"}, 1.5, 0.75)
		twice := snap.BM25([]string{"token", "token"}, 1.5, 0.75)
		assert.InDelta(t, 2*once[a.ID], twice[a.ID], 1e-12)
	})

	t.Run("unknown term", func(t *testing.T) {
		assert.Empty(t, snap.BM25([]string{"nothing"}, 1.5, 0.75))
	})
}

func TestComputeIndexVersion(t *testing.T) {
	a := makeChunk("a.go", 1, "x")
	b := makeChunk("b.go", 1, "y")

	v1 := ComputeIndexVersion([]types.Chunk{a, b})
	v2 := ComputeIndexVersion([]types.Chunk{b, a})
	assert.Equal(t, v1, v2, "order independent")
	assert.Len(t, v1, 64)

	changed := b
	changed.ContentHash = "different"
	assert.NotEqual(t, v1, ComputeIndexVersion([]types.Chunk{a, changed}))
	assert.NotEqual(t, v1, ComputeIndexVersion([]types.Chunk{a}))
}

func TestStateApply(t *testing.T) {
	a1 := makeChunk("a.go", 1, "old")
	b := makeChunk("b.go", 1, "keep")
	x := testIndex(a1, b)
	cur := x.cur.Load()

	a2 := makeChunk("a.go", 5, "new")
	next := cur.apply(&mutation{
		replaced: map[string]time.Time{"a.go": time.Unix(1800000000, 0)},
		chunks:   []types.Chunk{a2},
	}, time.Unix(1800000000, 0))

	assert.Len(t, next.chunks, 2)
	assert.NotContains(t, next.chunks, a1.ID)
	assert.Contains(t, next.chunks, a2.ID)
	assert.Nil(t, next.postings["old"])
	assert.Len(t, cur.chunks, 2, "previous state is untouched")
	assert.Contains(t, cur.chunks, a1.ID)

	removed := next.apply(&mutation{removed: []string{"b.go"}}, time.Unix(1800000001, 0))
	assert.Len(t, removed.chunks, 1)
	assert.NotContains(t, removed.fileMTimes, "b.go")
}
