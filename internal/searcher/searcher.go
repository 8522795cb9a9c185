package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/codectx-mcp/internal/cache"
	"github.com/dshills/codectx-mcp/internal/chunker"
	"github.com/dshills/codectx-mcp/internal/indexer"
	"github.com/dshills/codectx-mcp/internal/semantic"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// Limits
const (
	DefaultLimit = 10
	MaxLimit     = 100
	// poolFactor sizes the candidate pool relative to the limit.
	poolFactor = 3
)

// Options holds ranking parameters. Zero values select the defaults; the
// weights are pointers because 0 is a valid weight.
type Options struct {
	K1             float64
	B              float64
	HalfLifeDays   float64
	RecencyWeight  *float64 // nil selects DefaultRecencyWeight
	MMRLambda      float64
	SemanticWeight *float64 // nil selects semantic.DefaultWeight
	DefaultLimit   int
	UseMMR         bool // Default when a request leaves UseMMR nil
	UseSemantic    bool // Default when a request leaves UseSemantic nil
}

// Config wires a Searcher.
type Config struct {
	Options
	Cache    *cache.Cache     // search namespace; nil disables result caching
	Semantic *semantic.Engine // nil disables hybrid ranking
	Logger   *slog.Logger
	Clock    func() time.Time
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results    []types.SearchResult
	SearchType string // types.SearchTypeBM25 or types.SearchTypeHybrid
	CacheHit   bool
	Duration   time.Duration

	// Snapshot is the index state the results were computed from.
	Snapshot *indexer.Snapshot
}

// cachedResponse is the cached part of a response.
type cachedResponse struct {
	Results    []types.SearchResult `json:"results"`
	SearchType string               `json:"search_type"`
}

// searchKey identifies a cached result set. Every input that changes the
// output is part of it.
type searchKey struct {
	Version  string        `json:"version"`
	Query    string        `json:"query"`
	Limit    int           `json:"limit"`
	Filters  types.Filters `json:"filters"`
	Semantic bool          `json:"semantic"`
	Weight   float64       `json:"weight"`
	MMR      bool          `json:"mmr"`
}

// Searcher ranks chunks of an index against free-text queries.
type Searcher struct {
	index    *indexer.Index
	cache    *cache.Cache
	semantic *semantic.Engine
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Searcher over index.
func New(index *indexer.Index, cfg Config) *Searcher {
	s := &Searcher{
		index:    index,
		cache:    cfg.Cache,
		semantic: cfg.Semantic,
		opts:     cfg.Options,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	o := &s.opts
	if o.K1 <= 0 {
		o.K1 = 1.5
	}
	if o.B <= 0 {
		o.B = 0.75
	}
	if o.HalfLifeDays <= 0 {
		o.HalfLifeDays = DefaultHalfLifeDays
	}
	o.RecencyWeight = weightOrDefault(o.RecencyWeight, DefaultRecencyWeight)
	if o.MMRLambda <= 0 {
		o.MMRLambda = DefaultLambda
	}
	o.SemanticWeight = weightOrDefault(o.SemanticWeight, semantic.DefaultWeight)
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = DefaultLimit
	}
	return s
}

// weightOrDefault returns a private copy of w clamped to [0, 1], or def
// when w is nil.
func weightOrDefault(w *float64, def float64) *float64 {
	if w == nil {
		return types.Float64Ptr(def)
	}
	return types.Float64Ptr(min(max(*w, 0), 1))
}

// Options returns the effective ranking parameters.
func (s *Searcher) Options() Options {
	o := s.opts
	o.RecencyWeight = types.Float64Ptr(*s.opts.RecencyWeight)
	o.SemanticWeight = types.Float64Ptr(*s.opts.SemanticWeight)
	return o
}

// SemanticAvailable reports whether hybrid ranking can be used.
func (s *Searcher) SemanticAvailable() bool { return s.semantic != nil }

// NormalizeQuery lowercases and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Search ranks the index for req. A blank query is an error; a query with
// no indexable tokens yields no results.
func (s *Searcher) Search(ctx context.Context, req types.SearchRequest) (*SearchResponse, error) {
	start := s.now()

	query := NormalizeQuery(req.Query)
	if query == "" {
		return nil, types.ErrEmptyQuery
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	limit = min(limit, MaxLimit)

	useSemantic := s.opts.UseSemantic
	if req.UseSemantic != nil {
		useSemantic = *req.UseSemantic
	}
	useSemantic = useSemantic && s.semantic != nil

	weight := *s.opts.SemanticWeight
	if req.SemanticWeight != nil {
		weight = min(max(*req.SemanticWeight, 0), 1)
	}
	if !useSemantic {
		weight = 0
	}

	useMMR := s.opts.UseMMR
	if req.UseMMR != nil {
		useMMR = *req.UseMMR
	}

	snap := s.index.Snapshot()
	key := searchKey{
		Version:  snap.Version(),
		Query:    query,
		Limit:    limit,
		Filters:  req.Filters,
		Semantic: useSemantic,
		Weight:   weight,
		MMR:      useMMR,
	}

	if s.cache != nil {
		var hit cachedResponse
		if s.cache.Get(key, &hit) {
			return &SearchResponse{
				Results:    hit.Results,
				SearchType: hit.SearchType,
				CacheHit:   true,
				Duration:   s.now().Sub(start),
				Snapshot:   snap,
			}, nil
		}
	}

	results, searchType, err := s.rank(ctx, snap, req.Query, limit, req.Filters, useSemantic, weight, useMMR)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(key, cachedResponse{Results: results, SearchType: searchType}, 0); err != nil {
			s.logger.Warn("failed to cache search results", "error", err)
		}
	}

	return &SearchResponse{
		Results:    results,
		SearchType: searchType,
		Duration:   s.now().Sub(start),
		Snapshot:   snap,
	}, nil
}

// rank runs BM25, recency blending, optional hybrid scoring and optional
// MMR over one snapshot.
func (s *Searcher) rank(ctx context.Context, snap *indexer.Snapshot, rawQuery string, limit int, filters types.Filters, useSemantic bool, weight float64, useMMR bool) ([]types.SearchResult, string, error) {
	searchType := types.SearchTypeBM25
	terms := chunker.Tokenize(rawQuery)
	if len(terms) == 0 {
		return []types.SearchResult{}, searchType, nil
	}

	bm25 := snap.BM25(terms, s.opts.K1, s.opts.B)
	if !filters.IsZero() {
		for id := range bm25 {
			c, _ := snap.Chunk(id)
			if !filters.Match(c.FilePath) {
				delete(bm25, id)
			}
		}
	}
	if len(bm25) == 0 {
		return []types.SearchResult{}, searchType, nil
	}

	ids := make([]string, 0, len(bm25))
	for id := range bm25 {
		ids = append(ids, id)
	}
	recency := RecencyWeights(snap, ids, s.now(), s.opts.HalfLifeDays)
	combined := BlendRecency(bm25, recency, *s.opts.RecencyWeight)

	pool := make([]Candidate, 0, len(combined))
	for id, score := range combined {
		c, ok := snap.Chunk(id)
		if !ok {
			continue
		}
		pool = append(pool, Candidate{ChunkID: id, FilePath: c.FilePath, Score: score, Terms: c.Terms, Content: c.Content})
	}
	pool = TopN(pool, max(1, limit*poolFactor))

	var embed EmbedFunc
	if useSemantic {
		hybrid, err := s.hybrid(ctx, snap, rawQuery, pool, bm25, weight)
		switch {
		case err == nil:
			for i := range pool {
				pool[i].Score = hybrid[pool[i].ChunkID]
			}
			SortCandidates(pool)
			searchType = types.SearchTypeHybrid
			embed = s.embedCandidate(snap)
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		default:
			s.logger.Warn("semantic ranking unavailable, using lexical ranking", "error", err)
		}
	}

	var picked []Candidate
	if useMMR {
		picked = SelectMMRFromScores(ctx, pool, limit, MMROptions{Lambda: s.opts.MMRLambda, Embed: embed})
	} else {
		picked = TopN(pool, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	results := make([]types.SearchResult, 0, len(picked))
	for _, p := range picked {
		c, ok := snap.Chunk(p.ChunkID)
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{
			ChunkID:   c.ID,
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Score:     p.Score,
			Preview:   types.Preview(c.Content, types.PreviewLines),
		})
	}
	return results, searchType, nil
}

// hybrid rescores the pool from raw BM25 and embedding similarity. Recency
// only decides which candidates enter the pool.
func (s *Searcher) hybrid(ctx context.Context, snap *indexer.Snapshot, query string, pool []Candidate, bm25 map[string]float64, weight float64) (map[string]float64, error) {
	chunks := make([]*types.Chunk, 0, len(pool))
	lexical := make(map[string]float64, len(pool))
	for _, p := range pool {
		c, ok := snap.Chunk(p.ChunkID)
		if !ok {
			continue
		}
		chunks = append(chunks, &c)
		lexical[p.ChunkID] = bm25[p.ChunkID]
	}
	scores, err := s.semantic.Hybrid(ctx, snap.Version(), query, chunks, lexical, weight)
	if err != nil {
		return nil, fmt.Errorf("hybrid scoring: %w", err)
	}
	return scores, nil
}

// embedCandidate embeds candidates through the semantic engine.
func (s *Searcher) embedCandidate(snap *indexer.Snapshot) EmbedFunc {
	return func(ctx context.Context, cand Candidate) ([]float32, error) {
		c, ok := snap.Chunk(cand.ChunkID)
		if !ok {
			return nil, errors.New("chunk not in snapshot")
		}
		return s.semantic.EmbedChunk(ctx, &c)
	}
}

// EmbedFunc returns an MMR embedding hook backed by the semantic engine, or
// nil when semantic ranking is unavailable.
func (s *Searcher) EmbedFunc(snap *indexer.Snapshot) EmbedFunc {
	if s.semantic == nil {
		return nil
	}
	return s.embedCandidate(snap)
}
