package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dshills/codectx-mcp/internal/config"
	"github.com/dshills/codectx-mcp/internal/watcher"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// WatchStatus describes the file watcher.
type WatchStatus struct {
	Running bool          `json:"running"`
	Stats   watcher.Stats `json:"stats"`
}

// StartWatch begins reindexing files under path as they change. An empty
// path watches the repository root and a zero debounce uses the configured
// one. It returns false when a watcher is already running.
func (e *Engine) StartWatch(path string, debounce time.Duration) (bool, error) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.watcher != nil && e.watcher.IsRunning() {
		return false, nil
	}

	root := e.cfg.RepoRoot
	if path != "" {
		root = path
		if !filepath.IsAbs(root) {
			root = filepath.Join(e.cfg.RepoRoot, root)
		}
	}
	if debounce <= 0 {
		debounce = e.cfg.Watch.Debounce.Std()
	}

	ignore := append([]string{e.cfg.IndexDir}, config.IgnoredDirNames...)
	w, err := watcher.New(e.cfg.Watch.Mode, watcher.Options{
		Root:         root,
		Debounce:     debounce,
		PollInterval: e.cfg.Watch.PollInterval.Std(),
		IgnoreDirs:   ignore,
		Match:        e.indexer.Accepts,
		OnChange:     e.reindexChanged,
		Logger:       e.logger,
	})
	if err != nil {
		return false, err
	}
	if err := w.Start(e.watchCtx); err != nil {
		return false, err
	}
	e.watcher = w
	return true, nil
}

// StopWatch stops the watcher if one is running.
func (e *Engine) StopWatch() error {
	e.watchMu.Lock()
	w := e.watcher
	e.watcher = nil
	e.watchMu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// WatchStatus reports the watcher state.
func (e *Engine) WatchStatus() WatchStatus {
	e.watchMu.Lock()
	w := e.watcher
	e.watchMu.Unlock()
	if w == nil {
		return WatchStatus{Stats: watcher.Stats{Mode: e.cfg.Watch.Mode}}
	}
	st := w.Stats()
	return WatchStatus{Running: st.Running, Stats: st}
}

// reindexChanged is the watcher callback. Index mutations are serialized
// with explicit runs inside the indexer.
func (e *Engine) reindexChanged(ctx context.Context, paths []string) error {
	stats, err := e.indexer.IndexFiles(ctx, paths, false)
	if err != nil {
		return err
	}
	e.afterMutation(ctx, stats)
	e.logger.Info("reindexed changed files",
		"reported", len(paths),
		"indexed", stats.FilesIndexed,
		"removed", stats.FilesRemoved,
		"chunks", stats.ChunksCreated,
		"version", stats.VersionAfter)
	return nil
}

// Bootstrap performs the configured start-up indexing and starts the
// watcher when asked to.
func (e *Engine) Bootstrap(ctx context.Context) error {
	ai := e.cfg.AutoIndex
	if ai.OnStart {
		res, err := e.IndexPaths(ctx, types.IndexRequest{Paths: ai.Paths, Recursive: ai.Recursive},
			IndexOptions{EnableSemantic: e.cfg.Semantic.Enabled})
		if err != nil {
			return err
		}
		e.logger.Info("auto index complete", "files", res.FilesIndexed, "chunks", res.Chunks)
	}
	if ai.StartWatcher {
		if _, err := e.StartWatch("", 0); err != nil {
			return err
		}
	}
	return nil
}
