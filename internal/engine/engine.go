package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codectx-mcp/internal/cache"
	"github.com/dshills/codectx-mcp/internal/chunker"
	"github.com/dshills/codectx-mcp/internal/config"
	"github.com/dshills/codectx-mcp/internal/embedder"
	"github.com/dshills/codectx-mcp/internal/indexer"
	"github.com/dshills/codectx-mcp/internal/packer"
	"github.com/dshills/codectx-mcp/internal/searcher"
	"github.com/dshills/codectx-mcp/internal/semantic"
	"github.com/dshills/codectx-mcp/internal/storage"
	"github.com/dshills/codectx-mcp/internal/watcher"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// Index directory layout
const (
	DatabaseFile  = "index.db"
	CacheDir      = "cache"
	EmbeddingsDir = "embeddings"
)

// Usage ledger operations
const (
	OpSearch      = "search"
	OpContextPack = "context_pack"
)

// Options carries dependencies that override the configuration.
type Options struct {
	Logger   *slog.Logger
	Clock    func() time.Time
	Embedder embedder.Embedder // overrides the configured provider
}

// Engine owns the index, caches and ranking pipeline of one repository.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time

	store    storage.Storage
	index    *indexer.Index
	indexer  *indexer.Indexer
	caches   *cache.Registry
	semantic *semantic.Engine
	searcher *searcher.Searcher
	packer   *packer.Builder
	session  *Session

	runLock         indexer.IndexLock
	semanticDefault atomic.Bool

	watchMu  sync.Mutex
	watcher  watcher.FileWatcher
	watchCtx context.Context
	cancel   context.CancelFunc
}

// New opens the index under cfg.IndexDir, loads it and wires the search
// pipeline.
func New(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(cfg.IndexDir, DatabaseFile), storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		now:     now,
		store:   store,
		index:   indexer.NewIndex(),
		session: newSession(now),
	}
	e.watchCtx, e.cancel = context.WithCancel(context.Background())

	e.caches = cache.NewRegistry(cache.RegistryOptions{
		Dir: filepath.Join(cfg.IndexDir, CacheDir),
		TTLs: map[string]time.Duration{
			cache.NamespaceSearch:     cfg.Cache.SearchTTL.Std(),
			cache.NamespaceEmbeddings: cfg.Cache.EmbeddingsTTL.Std(),
			cache.NamespaceMetadata:   cfg.Cache.MetadataTTL.Std(),
			cache.NamespaceContext:    cfg.Cache.ContextTTL.Std(),
		},
		MaxSize: cfg.Cache.MaxSize,
		Persist: cfg.Cache.Persist,
		Clock:   now,
		Logger:  logger,
	})

	e.indexer, err = indexer.New(e.index, indexer.Config{
		Root:         cfg.RepoRoot,
		IndexDir:     cfg.IndexDir,
		IncludeGlobs: cfg.Index.IncludeGlobs,
		ExcludeGlobs: cfg.Index.ExcludeGlobs,
		Workers:      cfg.Index.Workers,
		Chunker:      chunker.New(chunker.WithWindow(cfg.Index.MaxLines, cfg.Index.Overlap)),
		Store:        store,
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := e.indexer.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	e.caches.SyncIndexVersion(e.index.Snapshot().Version())

	if e.semantic, err = newSemantic(cfg, opts, e.caches, logger); err != nil {
		logger.Warn("semantic ranking unavailable", "error", err)
	}
	e.semanticDefault.Store(cfg.Semantic.Enabled && e.semantic != nil)

	e.searcher = searcher.New(e.index, searcher.Config{
		Options: searcher.Options{
			K1:             cfg.Search.K1,
			B:              cfg.Search.B,
			HalfLifeDays:   cfg.Search.HalfLifeDays,
			RecencyWeight:  types.Float64Ptr(cfg.Search.RecencyWeight),
			MMRLambda:      cfg.Search.MMRLambda,
			SemanticWeight: types.Float64Ptr(cfg.Semantic.Weight),
			DefaultLimit:   cfg.Search.DefaultLimit,
			UseMMR:         cfg.Search.UseMMR,
		},
		Cache:    e.caches.MustGet(cache.NamespaceSearch),
		Semantic: e.semantic,
		Logger:   logger,
		Clock:    now,
	})
	e.packer = packer.New(e.searcher, packer.Options{
		MMRLambda: cfg.Search.MMRLambda,
		K1:        cfg.Search.K1,
		B:         cfg.Search.B,
		Logger:    logger,
	})

	logger.Info("engine ready",
		"root", cfg.RepoRoot,
		"index_dir", cfg.IndexDir,
		"session", e.session.ID(),
		"semantic", e.semanticModel())
	return e, nil
}

func newSemantic(cfg config.Config, opts Options, caches *cache.Registry, logger *slog.Logger) (*semantic.Engine, error) {
	emb := opts.Embedder
	if emb == nil {
		var err error
		if emb, err = embedder.FromConfig(cfg.Semantic); err != nil {
			return nil, err
		}
	}
	store, err := semantic.NewVectorStore(filepath.Join(cfg.IndexDir, EmbeddingsDir))
	if err != nil {
		return nil, err
	}
	return semantic.New(semantic.Options{
		Embedder: emb,
		Cache:    caches.MustGet(cache.NamespaceEmbeddings),
		Store:    store,
		Logger:   logger,
	})
}

func (e *Engine) semanticModel() string {
	if e.semantic == nil {
		return "disabled"
	}
	return e.semantic.ModelName()
}

// Config returns the engine configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Session returns the usage session.
func (e *Engine) Session() *Session { return e.session }

// Close stops the watcher and releases the store and embedder.
func (e *Engine) Close() error {
	var errs []error
	if err := e.StopWatch(); err != nil {
		errs = append(errs, err)
	}
	e.cancel()
	if e.semantic != nil {
		if err := e.semantic.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IndexOptions adjusts an explicit indexing run.
type IndexOptions struct {
	// EnableSemantic turns hybrid ranking on by default and embeds the
	// indexed chunks.
	EnableSemantic bool
}

// IndexPaths indexes the requested paths. Only one explicit run may be in
// progress; a concurrent call fails with types.ErrIndexing.
func (e *Engine) IndexPaths(ctx context.Context, req types.IndexRequest, opts IndexOptions) (*types.IndexResult, error) {
	if !e.runLock.TryAcquire() {
		return nil, types.ErrIndexing
	}
	defer e.runLock.Release()

	stats, err := e.indexer.IndexPaths(ctx, req)
	if err != nil {
		return nil, err
	}
	e.session.recordIndexRun()

	if opts.EnableSemantic {
		if e.semantic == nil {
			e.logger.Warn("semantic ranking requested but no embedder is available")
		} else {
			e.semanticDefault.Store(true)
		}
	}
	e.afterMutation(ctx, stats)

	res := stats.Result()
	return &res, nil
}

// afterMutation re-syncs caches with the index version and keeps the
// vector store in step with the indexed chunks.
func (e *Engine) afterMutation(ctx context.Context, stats *indexer.Statistics) {
	snap := e.index.Snapshot()
	if e.caches.SyncIndexVersion(snap.Version()) {
		e.logger.Debug("index version changed", "from", stats.VersionBefore, "to", stats.VersionAfter)
	}
	if e.semantic == nil {
		return
	}
	if stats.FilesRemoved > 0 || stats.FilesIndexed > 0 {
		if n, err := e.semantic.Prune(func(id string) bool {
			_, ok := snap.Chunk(id)
			return ok
		}); err != nil {
			e.logger.Warn("failed to prune embeddings", "error", err)
		} else if n > 0 {
			e.logger.Debug("pruned embeddings", "count", n)
		}
	}
	if !e.semanticDefault.Load() {
		return
	}

	chunks := snap.Chunks()
	ptrs := make([]*types.Chunk, len(chunks))
	for i := range chunks {
		ptrs[i] = &chunks[i]
	}
	if n, err := e.semantic.WarmChunks(ctx, ptrs); err != nil {
		e.logger.Warn("failed to embed chunks, hybrid ranking will embed on demand", "error", err)
	} else if n > 0 {
		e.logger.Info("embedded chunks", "count", n, "model", e.semantic.ModelName())
	}
}

// Search ranks the index for req. A nil req.UseSemantic takes the engine
// default.
func (e *Engine) Search(ctx context.Context, req types.SearchRequest) (*searcher.SearchResponse, error) {
	if req.UseSemantic == nil {
		req.UseSemantic = types.BoolPtr(e.semanticDefault.Load())
	}
	resp, err := e.searcher.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	e.session.recordSearch()

	sent, raw := 0, 0
	for _, r := range resp.Results {
		sent += chunker.EstimateTokens(r.Preview)
		if c, ok := resp.Snapshot.Chunk(r.ChunkID); ok {
			raw += chunker.EstimateTokens(c.Content)
		}
	}
	e.recordUsage(ctx, OpSearch, req.Query, sent, max(0, raw-sent), resp.CacheHit)
	return resp, nil
}

// contextKey identifies a cached context pack.
type contextKey struct {
	Version   string `json:"version"`
	Query     string `json:"query"`
	Budget    int    `json:"budget"`
	MaxChunks int    `json:"max_chunks"`
	Strategy  string `json:"strategy"`
	Semantic  bool   `json:"semantic"`
}

// BuildContextPack builds, or returns from cache, a context pack for req.
// A cached pack reports CacheHit and attributes its tokens to the cache.
func (e *Engine) BuildContextPack(ctx context.Context, req types.PackRequest) (*types.ContextPack, error) {
	if req.BudgetTokens <= 0 {
		req.BudgetTokens = e.cfg.Search.PackBudgetTokens
	}
	if req.MaxChunks <= 0 {
		req.MaxChunks = e.cfg.Search.PackMaxChunks
	}
	req, err := packer.Normalize(req)
	if err != nil {
		return nil, err
	}
	if req.UseSemantic == nil {
		req.UseSemantic = types.BoolPtr(e.semanticDefault.Load())
	}

	ctxCache := e.caches.MustGet(cache.NamespaceContext)
	key := contextKey{
		Version:   e.index.Snapshot().Version(),
		Query:     searcher.NormalizeQuery(req.Query),
		Budget:    req.BudgetTokens,
		MaxChunks: req.MaxChunks,
		Strategy:  req.Strategy,
		Semantic:  *req.UseSemantic && e.semantic != nil,
	}

	var pack types.ContextPack
	if ctxCache.Get(key, &pack) {
		pack.CacheHit = true
		pack.CacheTokensSaved = pack.TotalTokens
		pack.TokensSaved = pack.CompressionTokensSaved + pack.CacheTokensSaved
	} else {
		built, err := e.packer.Build(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := ctxCache.Set(key, built, 0); err != nil {
			e.logger.Warn("failed to cache context pack", "error", err)
		}
		pack = *built
	}

	e.session.recordPack(&pack)
	e.recordUsage(ctx, OpContextPack, req.Query, pack.TotalTokens, pack.TokensSaved, pack.CacheHit)
	return &pack, nil
}

func (e *Engine) recordUsage(ctx context.Context, op, query string, sent, saved int, hit bool) {
	err := e.store.RecordUsage(ctx, storage.UsageRecord{
		Timestamp:   e.now(),
		Operation:   op,
		Query:       query,
		TokensSent:  sent,
		TokensSaved: saved,
		CacheHit:    hit,
	})
	if err != nil {
		e.logger.Warn("failed to record usage", "operation", op, "error", err)
	}
}

// CacheClear empties a namespace, or every namespace for "" or "all".
func (e *Engine) CacheClear(namespace string) error {
	ns := strings.ToLower(strings.TrimSpace(namespace))
	if ns == "all" {
		ns = ""
	}
	return e.caches.Clear(ns)
}

// CacheStats returns stats for a namespace, or every namespace for "" or
// "all".
func (e *Engine) CacheStats(namespace string) (map[string]cache.Stats, error) {
	ns := strings.ToLower(strings.TrimSpace(namespace))
	if ns == "" || ns == "all" {
		return e.caches.Stats(), nil
	}
	c, err := e.caches.Get(ns)
	if err != nil {
		return nil, err
	}
	return map[string]cache.Stats{ns: c.Stats()}, nil
}

// IndexStats describes the current index.
func (e *Engine) IndexStats() types.IndexStats {
	snap := e.index.Snapshot()
	return types.IndexStats{
		TotalFiles:   snap.FileCount(),
		TotalChunks:  snap.Len(),
		IndexSize:    e.store.Size(),
		LastUpdated:  snap.LastUpdated(),
		IndexVersion: snap.Version(),
	}
}

// SessionStats returns the session counters.
func (e *Engine) SessionStats() SessionStats { return e.session.Stats() }

// UsageTotals aggregates the persisted usage ledger since the given time.
// A zero since covers the whole ledger.
func (e *Engine) UsageTotals(ctx context.Context, since time.Time) ([]storage.UsageAggregate, error) {
	return e.store.UsageSummary(ctx, since, e.now())
}

// SemanticStatus reports whether hybrid ranking is available and on by
// default.
type SemanticStatus struct {
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
	Model     string `json:"model"`
}

// Semantic returns the semantic ranking status.
func (e *Engine) Semantic() SemanticStatus {
	return SemanticStatus{
		Available: e.semantic != nil,
		Default:   e.semanticDefault.Load(),
		Model:     e.semanticModel(),
	}
}
