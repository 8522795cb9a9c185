package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Polling scans the tree every PollInterval and reports files whose
// content hash appeared, changed or disappeared since the previous scan.
type Polling struct {
	*loop

	mu     sync.Mutex
	hashes map[string]string
}

// NewPolling creates a polling watcher.
func NewPolling(opts Options) (*Polling, error) {
	l, err := newLoop(KindPoll, opts)
	if err != nil {
		return nil, err
	}
	return &Polling{loop: l, hashes: map[string]string{}}, nil
}

// Start takes a baseline scan and begins polling. Starting a running
// watcher is a no-op.
func (w *Polling) Start(ctx context.Context) error {
	if w.isRunning() {
		return nil
	}
	baseline, err := w.scan(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.hashes = baseline
	w.mu.Unlock()

	if w.start(ctx, w.run) {
		w.opts.Logger.Info("file watcher started", "mode", w.mode, "root", w.opts.Root,
			"files", len(baseline), "interval", w.opts.PollInterval)
	}
	return nil
}

// Stop ends polling, waiting at most StopTimeout.
func (w *Polling) Stop() error { return w.stop() }

// IsRunning reports whether the loop is active.
func (w *Polling) IsRunning() bool { return w.isRunning() }

// Stats reports the watcher state.
func (w *Polling) Stats() Stats {
	w.mu.Lock()
	n := len(w.hashes)
	w.mu.Unlock()
	return w.stats(n)
}

func (w *Polling) run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll runs one scan and reports the differences.
func (w *Polling) poll(ctx context.Context) {
	current, err := w.scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.opts.Logger.Warn("poll scan failed", "root", w.opts.Root, "error", err)
		}
		return
	}

	w.mu.Lock()
	previous := w.hashes
	w.hashes = current
	w.mu.Unlock()

	w.notify(ctx, diff(previous, current))
}

// diff lists paths that are new, changed or removed between two scans.
func diff(previous, current map[string]string) []string {
	var changed []string
	for p, h := range current {
		if old, ok := previous[p]; !ok || old != h {
			changed = append(changed, p)
		}
	}
	for p := range previous {
		if _, ok := current[p]; !ok {
			changed = append(changed, p)
		}
	}
	return changed
}

// scan hashes every eligible file under the root. Unreadable files are
// left out.
func (w *Polling) scan(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.WalkDir(w.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == w.opts.Root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if w.ig.dir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !w.eligible(path) {
			return nil
		}
		if h, err := hashFile(path); err == nil {
			out[path] = h
		}
		return nil
	})
	return out, err
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
