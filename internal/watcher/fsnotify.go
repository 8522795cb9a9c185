package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxWaitFactor caps how long a continuous stream of events can delay a
// flush, in multiples of the debounce window.
const maxWaitFactor = 5

// FSNotify watches the tree with native file events. Events are collected
// into a pending set that is flushed once no event arrived for Debounce,
// or at the latest maxWaitFactor*Debounce after the first pending event.
type FSNotify struct {
	*loop
	watched atomic.Int64
}

// NewFSNotify creates an event-driven watcher.
func NewFSNotify(opts Options) (*FSNotify, error) {
	l, err := newLoop(KindEvent, opts)
	if err != nil {
		return nil, err
	}
	return &FSNotify{loop: l}, nil
}

// Start registers the directory tree and begins watching. Starting a
// running watcher is a no-op.
func (w *FSNotify) Start(ctx context.Context) error {
	if w.isRunning() {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if _, err := w.addTree(fw, w.opts.Root); err != nil {
		_ = fw.Close()
		return err
	}
	if !w.start(ctx, func(ctx context.Context) { w.run(ctx, fw) }) {
		_ = fw.Close()
		return nil
	}
	w.opts.Logger.Info("file watcher started", "mode", w.mode, "root", w.opts.Root,
		"dirs", w.watched.Load(), "debounce", w.opts.Debounce)
	return nil
}

// Stop ends the watch, waiting at most StopTimeout.
func (w *FSNotify) Stop() error { return w.stop() }

// IsRunning reports whether the loop is active.
func (w *FSNotify) IsRunning() bool { return w.isRunning() }

// Stats reports the watcher state. FilesMonitored counts watched
// directories.
func (w *FSNotify) Stats() Stats { return w.stats(int(w.watched.Load())) }

// addTree watches dir and its non-ignored subdirectories and returns the
// eligible files already present.
func (w *FSNotify) addTree(fw *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if w.ig.dir(path) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				w.opts.Logger.Debug("failed to watch directory", "path", path, "error", err)
				return nil
			}
			w.watched.Add(1)
			return nil
		}
		if d.Type().IsRegular() && w.eligible(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (w *FSNotify) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()

	pending := make(map[string]struct{})
	var first time.Time

	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	var timerC <-chan time.Time

	add := func(path string) {
		if len(pending) == 0 {
			first = time.Now()
		}
		pending[path] = struct{}{}
		wait := min(w.opts.Debounce, time.Until(first.Add(maxWaitFactor*w.opts.Debounce)))
		timer.Reset(max(wait, 0))
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			for _, p := range w.handle(fw, ev) {
				add(p)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.opts.Logger.Warn("file event queue overflowed, changes may be missed", "root", w.opts.Root)
				continue
			}
			w.opts.Logger.Debug("file watcher error", "error", err)

		case <-timerC:
			timerC = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			w.notify(ctx, paths)
		}
	}
}

// handle maps one event to the eligible paths it affects.
func (w *FSNotify) handle(fw *fsnotify.Watcher, ev fsnotify.Event) []string {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return nil
	}
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			if w.ig.dir(path) || w.ig.path(path) {
				return nil
			}
			files, err := w.addTree(fw, path)
			if err != nil {
				w.opts.Logger.Debug("failed to watch new directory", "path", path, "error", err)
			}
			return files
		}
	}
	if !w.eligible(path) {
		return nil
	}
	return []string{path}
}
