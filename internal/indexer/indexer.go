package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codectx-mcp/internal/chunker"
	"github.com/dshills/codectx-mcp/internal/config"
	"github.com/dshills/codectx-mcp/internal/storage"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// Indexer coordinates the indexing pipeline: discover -> read -> chunk ->
// merge -> persist -> publish
type Indexer struct {
	root        string
	indexDir    string
	index       *Index
	chunker     *chunker.Chunker
	store       storage.Storage
	filter      globFilter
	ignoredDirs map[string]struct{}
	logger      *slog.Logger
	now         func() time.Time

	// Worker pool configuration
	workers int
}

// Config contains configuration for the indexer
type Config struct {
	Root         string // Repository root; relative paths resolve against it
	IndexDir     string // Never indexed
	IncludeGlobs []string
	ExcludeGlobs []string
	Workers      int // Number of concurrent workers (default: runtime.NumCPU())
	Chunker      *chunker.Chunker
	Store        storage.Storage // Optional
	Logger       *slog.Logger
	Now          func() time.Time
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	FilesRemoved  int
	ChunksCreated int
	Duration      time.Duration
	ErrorMessages []string
	VersionBefore string
	VersionAfter  string
	Changed       bool
}

// Result converts s into the public result type.
func (s *Statistics) Result() types.IndexResult {
	return types.IndexResult{
		FilesIndexed:  s.FilesIndexed,
		Chunks:        s.ChunksCreated,
		FilesSkipped:  s.FilesSkipped,
		FilesFailed:   s.FilesFailed,
		FilesRemoved:  s.FilesRemoved,
		IndexVersion:  s.VersionAfter,
		Changed:       s.Changed,
		Duration:      s.Duration,
		ErrorMessages: s.ErrorMessages,
	}
}

// New creates a new Indexer instance
func New(index *Index, cfg Config) (*Indexer, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve root: %w", err)
	}
	filter, err := newGlobFilter(cfg.IncludeGlobs, cfg.ExcludeGlobs)
	if err != nil {
		return nil, err
	}

	ix := &Indexer{
		root:        root,
		index:       index,
		chunker:     cfg.Chunker,
		store:       cfg.Store,
		filter:      filter,
		ignoredDirs: make(map[string]struct{}, len(config.IgnoredDirNames)),
		logger:      cfg.Logger,
		now:         cfg.Now,
		workers:     cfg.Workers,
	}
	if cfg.IndexDir != "" {
		if ix.indexDir, err = filepath.Abs(cfg.IndexDir); err != nil {
			return nil, fmt.Errorf("cannot resolve index dir: %w", err)
		}
	}
	for _, name := range config.IgnoredDirNames {
		ix.ignoredDirs[name] = struct{}{}
	}
	if ix.index == nil {
		ix.index = NewIndex()
	}
	if ix.chunker == nil {
		ix.chunker = chunker.New()
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	if ix.now == nil {
		ix.now = time.Now
	}
	if ix.workers <= 0 {
		ix.workers = runtime.NumCPU()
	}
	return ix, nil
}

// Index returns the index this indexer mutates.
func (ix *Indexer) Index() *Index { return ix.index }

// Root returns the absolute repository root.
func (ix *Indexer) Root() string { return ix.root }

// Load replaces the in-memory index with the persisted one.
func (ix *Indexer) Load(ctx context.Context) error {
	if ix.store == nil {
		return nil
	}
	data, err := ix.store.LoadIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	ix.index.Replace(data.Chunks, data.FileMTimes, data.LastUpdated)

	snap := ix.index.Snapshot()
	if data.IndexVersion != "" && data.IndexVersion != snap.Version() {
		ix.logger.Warn("stored index version differs from recomputed version",
			"stored", data.IndexVersion, "computed", snap.Version())
	}
	ix.logger.Info("index loaded", "chunks", snap.Len(), "files", snap.FileCount(), "version", snap.Version())
	return nil
}

// IndexPaths indexes the files selected by req. Files whose mtime matches
// the recorded one are skipped unless req.Force is set. Indexed files that
// no longer exist under a requested path are pruned.
func (ix *Indexer) IndexPaths(ctx context.Context, req types.IndexRequest) (*Statistics, error) {
	start := time.Now()

	filter := ix.filter
	if len(req.IncludeGlobs) > 0 || len(req.ExcludeGlobs) > 0 {
		include := ix.filter.include
		if len(req.IncludeGlobs) > 0 {
			include = req.IncludeGlobs
		}
		exclude := append(append([]string(nil), ix.filter.exclude...), req.ExcludeGlobs...)
		var err error
		if filter, err = newGlobFilter(include, exclude); err != nil {
			return nil, err
		}
	}

	paths := req.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}

	found, err := ix.discover(paths, req.Recursive, filter)
	if err != nil {
		return nil, err
	}

	removed := ix.stalePaths(found)
	stats, err := ix.run(ctx, found.files, removed, req.Force)
	if err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)

	ix.logger.Info("indexing complete",
		"files_indexed", stats.FilesIndexed,
		"files_skipped", stats.FilesSkipped,
		"files_failed", stats.FilesFailed,
		"files_removed", stats.FilesRemoved,
		"chunks", stats.ChunksCreated,
		"duration", stats.Duration)
	return stats, nil
}

// stalePaths lists indexed files that disappeared from a requested path.
func (ix *Indexer) stalePaths(found *discovery) []string {
	snap := ix.index.Snapshot()
	discovered := make(map[string]struct{}, len(found.files))
	for _, f := range found.files {
		discovered[ix.relPath(f)] = struct{}{}
	}

	isStale := func(file string) bool {
		for _, missing := range found.missing {
			if underPrefix(file, missing) {
				return true
			}
		}
		for _, prefix := range found.prefixes {
			if !underPrefix(file, prefix) {
				continue
			}
			if _, ok := discovered[file]; ok {
				return false
			}
			_, err := os.Stat(ix.absPath(filepath.FromSlash(file)))
			return os.IsNotExist(err)
		}
		return false
	}

	var stale []string
	for _, file := range snap.Files() {
		if isStale(file) {
			stale = append(stale, file)
		}
	}
	return stale
}

// IndexFiles reindexes individual files, typically reported by the watcher.
// Files that no longer exist are removed; files rejected by the globs are
// ignored.
func (ix *Indexer) IndexFiles(ctx context.Context, files []string, force bool) (*Statistics, error) {
	start := time.Now()

	var selected, removed []string
	for _, f := range files {
		abs := ix.absPath(f)
		rel := ix.relPath(abs)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			removed = append(removed, rel)
			continue
		}
		if ix.filter.Match(rel) {
			selected = append(selected, abs)
		}
	}
	sort.Strings(selected)

	stats, err := ix.run(ctx, selected, removed, force)
	if err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// RemoveFiles prunes the chunks and mtime entries of files.
func (ix *Indexer) RemoveFiles(ctx context.Context, files []string) (*Statistics, error) {
	start := time.Now()
	removed := make([]string, 0, len(files))
	for _, f := range files {
		removed = append(removed, ix.relPath(ix.absPath(f)))
	}
	stats, err := ix.run(ctx, nil, removed, false)
	if err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

// fileResult is the outcome of reading and chunking one file.
type fileResult struct {
	rel     string
	mtime   time.Time
	chunks  []types.Chunk
	skipped bool
	gone    bool
	err     error
}

// run chunks files concurrently, then commits them together with removed.
func (ix *Indexer) run(ctx context.Context, files, removed []string, force bool) (*Statistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results, err := ix.prepare(ctx, files, force)
	if err != nil {
		return nil, err
	}
	return ix.commit(ctx, results, removed)
}

// prepare reads and chunks files with a bounded worker pool.
func (ix *Indexer) prepare(ctx context.Context, files []string, force bool) ([]fileResult, error) {
	snap := ix.index.Snapshot()
	results := make([]fileResult, len(files))

	// Create worker pool with semaphore
	semaphore := make(chan struct{}, ix.workers)
	var processed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
				// Acquire semaphore
			}
			defer func() { <-semaphore }()

			results[i] = ix.prepareFile(path, snap, force)
			processed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	ix.logger.Debug("files prepared", "count", processed.Load())
	return results, nil
}

func (ix *Indexer) prepareFile(abs string, snap *Snapshot, force bool) fileResult {
	r := fileResult{rel: ix.relPath(abs)}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		r.gone = true
		return r
	}
	if err != nil {
		r.err = err
		return r
	}
	r.mtime = time.Unix(0, info.ModTime().UnixNano())

	if !force {
		if old, ok := snap.FileMTime(r.rel); ok && old.Equal(r.mtime) {
			r.skipped = true
			return r
		}
	}

	text, err := chunker.ReadSource(abs)
	if err != nil {
		r.err = err
		return r
	}
	r.chunks = ix.chunker.ChunkFile(r.rel, text, r.mtime)
	return r
}

// commit merges results into a new state, persists it and publishes it.
func (ix *Indexer) commit(ctx context.Context, results []fileResult, removed []string) (*Statistics, error) {
	ix.index.mu.Lock()
	defer ix.index.mu.Unlock()

	cur := ix.index.cur.Load()
	stats := &Statistics{ErrorMessages: make([]string, 0), VersionBefore: cur.version}
	m := &mutation{replaced: make(map[string]time.Time)}

	tracked := func(rel string) bool {
		_, ok := cur.fileMTimes[rel]
		return ok || len(cur.byFile[rel]) > 0
	}
	removedSet := make(map[string]struct{})
	markRemoved := func(rel string) {
		if _, dup := removedSet[rel]; dup || !tracked(rel) {
			return
		}
		removedSet[rel] = struct{}{}
		m.removed = append(m.removed, rel)
	}

	for _, r := range results {
		switch {
		case r.err != nil:
			stats.FilesFailed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.rel, r.err))
			ix.logger.Warn("failed to index file", "path", r.rel, "error", r.err)
		case r.gone:
			markRemoved(r.rel)
		case r.skipped:
			stats.FilesSkipped++
		case isOlder(r.mtime, cur.fileMTimes[r.rel]):
			// A newer version of the file was committed after this run read it.
			stats.FilesSkipped++
			ix.logger.Debug("discarding stale file result", "path", r.rel, "mtime", r.mtime)
		default:
			m.replaced[r.rel] = r.mtime
			m.chunks = append(m.chunks, r.chunks...)
			stats.FilesIndexed++
			stats.ChunksCreated += len(r.chunks)
		}
	}
	for _, rel := range removed {
		markRemoved(rel)
	}
	sort.Strings(m.removed)
	stats.FilesRemoved = len(m.removed)

	if m.empty() {
		stats.VersionAfter = cur.version
		return stats, nil
	}

	next := cur.apply(m, ix.now())
	stats.VersionAfter = next.version
	stats.Changed = next.version != cur.version

	if ix.store != nil {
		err := ix.store.Apply(ctx, &storage.ChangeSet{
			RemovedFiles:  m.removed,
			ReplacedFiles: m.replaced,
			Chunks:        m.chunks,
			IndexVersion:  next.version,
			LastUpdated:   next.lastUpdated,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			ix.logger.Error("failed to persist index", "error", err)
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("persist: %v", err))
		}
	}

	ix.index.cur.Store(next)
	return stats, nil
}

// isOlder reports whether prepared predates committed. A zero committed
// time means the file was not indexed.
func isOlder(prepared, committed time.Time) bool {
	return !committed.IsZero() && prepared.Before(committed)
}
