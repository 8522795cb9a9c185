package searcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codectx-mcp/internal/cache"
	"github.com/dshills/codectx-mcp/internal/chunker"
	"github.com/dshills/codectx-mcp/internal/embedder"
	"github.com/dshills/codectx-mcp/internal/indexer"
	"github.com/dshills/codectx-mcp/internal/semantic"
	"github.com/dshills/codectx-mcp/pkg/types"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testFile struct {
	content string
	mtime   time.Time
}

func buildIndex(t *testing.T, files map[string]testFile) *indexer.Index {
	t.Helper()
	idx := indexer.NewIndex()
	loadFiles(t, idx, files)
	return idx
}

func loadFiles(t *testing.T, idx *indexer.Index, files map[string]testFile) {
	t.Helper()
	ch := chunker.New()
	var chunks []types.Chunk
	mtimes := make(map[string]time.Time, len(files))
	for path, f := range files {
		mtime := f.mtime
		if mtime.IsZero() {
			mtime = testNow.Add(-time.Hour)
		}
		chunks = append(chunks, ch.ChunkFile(path, f.content, mtime)...)
		mtimes[path] = mtime
	}
	idx.Replace(chunks, mtimes, testNow)
}

func parseTokenRepo() map[string]testFile {
	return map[string]testFile{
		"a.go": {content: "func parseToken() {}\n// parseToken helper\n"},
		"b.go": {content: "func parseToken() {}\n// other helper\n"},
		"c.go": {content: "func render() {}\n// other helper\n"},
	}
}

func newSearcher(t *testing.T, idx *indexer.Index, cfg Config) *Searcher {
	t.Helper()
	if cfg.Cache == nil {
		c, err := cache.New(cache.NamespaceSearch, cache.Options{DefaultTTL: 2 * time.Minute})
		require.NoError(t, err)
		cfg.Cache = c
	}
	cfg.Clock = func() time.Time { return testNow }
	return New(idx, cfg)
}

func paths(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.FilePath
	}
	return out
}

func TestSearch_RanksByTermFrequency(t *testing.T) {
	s := newSearcher(t, buildIndex(t, parseTokenRepo()), Config{})

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "parseToken", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths(resp.Results))
	assert.Equal(t, types.SearchTypeBM25, resp.SearchType)
	assert.False(t, resp.CacheHit)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.Equal(t, 1, resp.Results[0].StartLine)
	assert.Contains(t, resp.Results[0].Preview, "parseToken")

	t.Run("mmr keeps the same two", func(t *testing.T) {
		resp, err := s.Search(context.Background(), types.SearchRequest{Query: "parseToken", Limit: 2, UseMMR: types.BoolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.go", "b.go"}, paths(resp.Results))
	})
}

func TestSearch_Deterministic(t *testing.T) {
	files := map[string]testFile{}
	for _, p := range []string{"z.go", "m.go", "a.go", "q.go"} {
		files[p] = testFile{content: "func same() {}"}
	}
	idx := buildIndex(t, files)

	for i := 0; i < 5; i++ {
		s := newSearcher(t, idx, Config{})
		resp, err := s.Search(context.Background(), types.SearchRequest{Query: "same"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.go", "m.go", "q.go", "z.go"}, paths(resp.Results))
	}
}

func TestSearch_QueryValidation(t *testing.T) {
	s := newSearcher(t, buildIndex(t, parseTokenRepo()), Config{})
	ctx := context.Background()

	_, err := s.Search(ctx, types.SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, types.ErrEmptyQuery)

	resp, err := s.Search(ctx, types.SearchRequest{Query: "!! ? x"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "no indexable tokens")

	resp, err = s.Search(ctx, types.SearchRequest{Query: "nonexistentidentifier"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_LimitBounds(t *testing.T) {
	files := map[string]testFile{}
	for _, p := range []string{"a.go", "b.go", "c.go", "d.go"} {
		files[p] = testFile{content: "func helper() {}"}
	}
	s := newSearcher(t, buildIndex(t, files), Config{Options: Options{DefaultLimit: 3}})

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "helper"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)

	resp, err = s.Search(context.Background(), types.SearchRequest{Query: "helper", Limit: MaxLimit * 10})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 4)
}

func TestSearch_Filters(t *testing.T) {
	idx := buildIndex(t, map[string]testFile{
		"src/a.go":   {content: "func helper() {}"},
		"src/b.py":   {content: "def helper(): pass"},
		"docs/c.md":  {content: "helper docs"},
		"src/d/e.go": {content: "func helper() {}"},
	})
	s := newSearcher(t, idx, Config{})
	ctx := context.Background()

	tests := []struct {
		name    string
		filters types.Filters
		want    []string
	}{
		{"extension", types.Filters{Extensions: []string{"go"}}, []string{"src/a.go", "src/d/e.go"}},
		{"glob", types.Filters{FileGlob: "src/**"}, []string{"src/a.go", "src/b.py", "src/d/e.go"}},
		{"glob and extension", types.Filters{FileGlob: "src/*", Extensions: []string{".py"}}, []string{"src/b.py"}},
		{"nothing matches", types.Filters{Extensions: []string{".rs"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.Search(ctx, types.SearchRequest{Query: "helper", Filters: tt.filters})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, paths(resp.Results))
		})
	}
}

func TestSearch_RecencyBreaksEqualRelevance(t *testing.T) {
	idx := buildIndex(t, map[string]testFile{
		"old.go": {content: "func helper() {}", mtime: testNow.Add(-90 * 24 * time.Hour)},
		"new.go": {content: "func helper() {}", mtime: testNow.Add(-time.Hour)},
	})
	s := newSearcher(t, idx, Config{})

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "helper"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new.go", "old.go"}, paths(resp.Results))
}

func TestSearch_CacheFollowsIndexVersion(t *testing.T) {
	idx := buildIndex(t, parseTokenRepo())
	s := newSearcher(t, idx, Config{})
	ctx := context.Background()
	req := types.SearchRequest{Query: "parseToken", Limit: 2}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(ctx, types.SearchRequest{Query: "  PARSETOKEN ", Limit: 2})
	require.NoError(t, err)
	assert.True(t, second.CacheHit, "normalized query hits")
	assert.Equal(t, first.Results, second.Results)

	other, err := s.Search(ctx, types.SearchRequest{Query: "parseToken", Limit: 1})
	require.NoError(t, err)
	assert.False(t, other.CacheHit, "limit is part of the key")

	files := parseTokenRepo()
	files["c.go"] = testFile{content: "func render() {}\n// parseToken parseToken parseToken\n", mtime: testNow}
	loadFiles(t, idx, files)

	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit, "a new index version misses")
	assert.NotEqual(t, first.Snapshot.Version(), third.Snapshot.Version())
	assert.Equal(t, "c.go", third.Results[0].FilePath)
}

// brokenEmbedder fails every request.
type brokenEmbedder struct{ *embedder.LocalProvider }

func (brokenEmbedder) GenerateEmbedding(context.Context, embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return nil, embedder.ErrProviderFailed
}

func (brokenEmbedder) GenerateBatch(context.Context, embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, embedder.ErrProviderFailed
}

func TestSearch_Hybrid(t *testing.T) {
	idx := buildIndex(t, parseTokenRepo())

	eng, err := semantic.New(semantic.Options{Embedder: embedder.NewLocalProvider(64)})
	require.NoError(t, err)
	s := newSearcher(t, idx, Config{Semantic: eng})
	assert.True(t, s.SemanticAvailable())

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "parseToken", UseSemantic: types.BoolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, types.SearchTypeHybrid, resp.SearchType)
	assert.Equal(t, []string{"a.go", "b.go"}, paths(resp.Results))
	assert.NotNil(t, s.EmbedFunc(resp.Snapshot))

	resp, err = s.Search(context.Background(), types.SearchRequest{Query: "parseToken"})
	require.NoError(t, err)
	assert.Equal(t, types.SearchTypeBM25, resp.SearchType, "semantic is off unless requested")
}

func TestSearch_HybridFallsBackToLexical(t *testing.T) {
	idx := buildIndex(t, parseTokenRepo())

	eng, err := semantic.New(semantic.Options{Embedder: brokenEmbedder{embedder.NewLocalProvider(8)}})
	require.NoError(t, err)
	s := newSearcher(t, idx, Config{Semantic: eng, Options: Options{UseSemantic: true}})

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "parseToken", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, types.SearchTypeBM25, resp.SearchType)
	assert.Equal(t, []string{"a.go", "b.go"}, paths(resp.Results))
}

func TestSearch_WithoutSemanticEngine(t *testing.T) {
	s := newSearcher(t, buildIndex(t, parseTokenRepo()), Config{})
	assert.False(t, s.SemanticAvailable())
	assert.Nil(t, s.EmbedFunc(nil))

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "parseToken", UseSemantic: types.BoolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, types.SearchTypeBM25, resp.SearchType)
}

func TestSearch_CancelledContext(t *testing.T) {
	s := newSearcher(t, buildIndex(t, parseTokenRepo()), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Search(ctx, types.SearchRequest{Query: "parseToken"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Defaults(t *testing.T) {
	s := New(indexer.NewIndex(), Config{})
	o := s.Options()
	assert.Equal(t, 1.5, o.K1)
	assert.Equal(t, 0.75, o.B)
	assert.Equal(t, DefaultHalfLifeDays, o.HalfLifeDays)
	assert.Equal(t, DefaultRecencyWeight, *o.RecencyWeight)
	assert.Equal(t, DefaultLambda, o.MMRLambda)
	assert.Equal(t, semantic.DefaultWeight, *o.SemanticWeight)
	assert.Equal(t, DefaultLimit, o.DefaultLimit)

	o = New(indexer.NewIndex(), Config{Options: Options{
		RecencyWeight:  types.Float64Ptr(0),
		SemanticWeight: types.Float64Ptr(0),
	}}).Options()
	assert.Zero(t, *o.RecencyWeight, "zero weights are kept")
	assert.Zero(t, *o.SemanticWeight)

	o = New(indexer.NewIndex(), Config{Options: Options{RecencyWeight: types.Float64Ptr(3)}}).Options()
	assert.Equal(t, 1.0, *o.RecencyWeight)
}

func TestSearch_ZeroRecencyWeight(t *testing.T) {
	idx := buildIndex(t, map[string]testFile{
		"old.go": {content: "func helper() { helper() }", mtime: testNow.Add(-90 * 24 * time.Hour)},
		"new.go": {content: "func helper() {}", mtime: testNow.Add(-time.Hour)},
	})
	s := newSearcher(t, idx, Config{Options: Options{RecencyWeight: types.Float64Ptr(0)}})

	resp, err := s.Search(context.Background(), types.SearchRequest{Query: "helper"})
	require.NoError(t, err)
	assert.Equal(t, []string{"old.go", "new.go"}, paths(resp.Results), "lexical score alone decides")
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.Zero(t, resp.Results[1].Score)
}

func TestSearch_HybridUsesRawLexicalScores(t *testing.T) {
	// Recency would flip these two; hybrid scoring starts from BM25 alone.
	idx := buildIndex(t, map[string]testFile{
		"old.go": {content: "func helper() { helper() }", mtime: testNow.Add(-365 * 24 * time.Hour)},
		"new.go": {content: "func helper() {}", mtime: testNow.Add(-time.Hour)},
	})
	eng, err := semantic.New(semantic.Options{Embedder: embedder.NewLocalProvider(64)})
	require.NoError(t, err)
	s := newSearcher(t, idx, Config{Semantic: eng, Options: Options{
		RecencyWeight:  types.Float64Ptr(1),
		SemanticWeight: types.Float64Ptr(0),
	}})

	lexical, err := s.Search(context.Background(), types.SearchRequest{Query: "helper"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new.go", "old.go"}, paths(lexical.Results))

	hybrid, err := s.Search(context.Background(), types.SearchRequest{Query: "helper", UseSemantic: types.BoolPtr(true)})
	require.NoError(t, err)
	require.Equal(t, types.SearchTypeHybrid, hybrid.SearchType)
	assert.Equal(t, []string{"old.go", "new.go"}, paths(hybrid.Results))
	assert.InDelta(t, 1.0, hybrid.Results[0].Score, 1e-9)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "parse token", NormalizeQuery("  Parse\t TOKEN \n"))
	assert.Equal(t, "", NormalizeQuery(" \t"))
}
