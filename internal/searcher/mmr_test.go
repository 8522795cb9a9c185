package searcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ChunkID
	}
	return out
}

func dupCandidates() []Candidate {
	shared := strings.Fields("parse token stream reader buffer alpha beta gamma delta epsilon")
	return []Candidate{
		{ChunkID: "c", FilePath: "c.go", Score: 1, Terms: []string{"render", "widget", "html"}},
		{ChunkID: "b", FilePath: "b.go", Score: 1, Terms: append(append([]string(nil), shared...), "zeta")},
		{ChunkID: "a", FilePath: "a.go", Score: 1, Terms: shared},
	}
}

func TestSelectMMRFromScores_Diversity(t *testing.T) {
	got := SelectMMRFromScores(context.Background(), dupCandidates(), 3, MMROptions{Lambda: 0.7})
	assert.Equal(t, []string{"a", "c", "b"}, ids(got), "near duplicates are not picked back to back")

	got = SelectMMRFromScores(context.Background(), dupCandidates(), 2, MMROptions{})
	assert.Equal(t, []string{"a", "c"}, ids(got))
}

func TestSelectMMRFromScores_SeedIsMostRelevant(t *testing.T) {
	cands := []Candidate{
		{ChunkID: "low", FilePath: "a.go", Score: 0.2},
		{ChunkID: "high", FilePath: "z.go", Score: 0.9},
	}
	got := SelectMMRFromScores(context.Background(), cands, 1, MMROptions{})
	require.Len(t, got, 1)
	assert.Equal(t, "high", got[0].ChunkID)
	assert.Equal(t, 0.9, got[0].Score)
}

func TestSelectMMRFromScores_Bounds(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, SelectMMRFromScores(ctx, nil, 5, MMROptions{}))
	assert.Nil(t, SelectMMRFromScores(ctx, dupCandidates(), 0, MMROptions{}))
	assert.Len(t, SelectMMRFromScores(ctx, dupCandidates(), 10, MMROptions{}), 3)
}

func TestSelectMMRFromScores_LambdaOneIsTopK(t *testing.T) {
	cands := []Candidate{
		{ChunkID: "x", FilePath: "x.go", Score: 0.5, Terms: []string{"same"}},
		{ChunkID: "y", FilePath: "y.go", Score: 0.9, Terms: []string{"same"}},
		{ChunkID: "z", FilePath: "z.go", Score: 0.7, Terms: []string{"same"}},
	}
	got := SelectMMRFromScores(context.Background(), cands, 3, MMROptions{Lambda: 1})
	assert.Equal(t, []string{"y", "z", "x"}, ids(got))
}

func TestSelectMMRFromScores_EmbeddingSimilarity(t *testing.T) {
	// With embeddings, a and c are identical while b is orthogonal, the
	// opposite of their term overlap.
	vectors := map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
		"c": {1, 0},
	}
	embed := func(_ context.Context, c Candidate) ([]float32, error) {
		return vectors[c.ChunkID], nil
	}
	got := SelectMMRFromScores(context.Background(), dupCandidates(), 3, MMROptions{Embed: embed})
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))

	t.Run("one failure falls back to jaccard for the whole pass", func(t *testing.T) {
		failing := func(ctx context.Context, c Candidate) ([]float32, error) {
			if c.ChunkID == "c" {
				return nil, errors.New("embedding backend down")
			}
			return embed(ctx, c)
		}
		got := SelectMMRFromScores(context.Background(), dupCandidates(), 3, MMROptions{Embed: failing})
		assert.Equal(t, []string{"a", "c", "b"}, ids(got))
	})
}

func TestSelectMMRFromScores_TieBreak(t *testing.T) {
	cands := []Candidate{
		{ChunkID: "2", FilePath: "same.go", Score: 1},
		{ChunkID: "1", FilePath: "same.go", Score: 1},
		{ChunkID: "0", FilePath: "other.go", Score: 1},
	}
	for i := 0; i < 5; i++ {
		got := SelectMMRFromScores(context.Background(), cands, 3, MMROptions{})
		assert.Equal(t, []string{"0", "1", "2"}, ids(got))
	}
}

func TestSelectMMRFromIndex(t *testing.T) {
	idx := buildIndex(t, map[string]testFile{
		"a.go": {content: "func parseToken() { parseToken() }"},
		"b.go": {content: "func parseToken() {}"},
		"c.go": {content: "func render() {}"},
	})
	snap := idx.Snapshot()
	byPath := map[string]string{}
	for _, c := range snap.Chunks() {
		byPath[c.FilePath] = c.ID
	}

	got := SelectMMRFromIndex(context.Background(), snap, []string{"parsetoken"},
		[]string{byPath["c.go"], byPath["b.go"], byPath["a.go"], "missing"}, 3, MMROptions{Lambda: 1})
	require.Len(t, got, 3)
	assert.Equal(t, byPath["a.go"], got[0].ChunkID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9, "relevance is normalized by the max")
	assert.Equal(t, byPath["b.go"], got[1].ChunkID)
	assert.Equal(t, byPath["c.go"], got[2].ChunkID)
	assert.Zero(t, got[2].Score, "ids without postings have zero relevance")
}

func TestJaccard(t *testing.T) {
	set := func(s ...string) map[string]struct{} {
		m := map[string]struct{}{}
		for _, v := range s {
			m[v] = struct{}{}
		}
		return m
	}
	assert.InDelta(t, 1.0, jaccard(set("a", "b"), set("b", "a")), 1e-9)
	assert.InDelta(t, 1.0/3, jaccard(set("a", "b"), set("b", "c")), 1e-9)
	assert.Zero(t, jaccard(set(), set("a")))
	assert.Zero(t, jaccard(set(), set()))
}
