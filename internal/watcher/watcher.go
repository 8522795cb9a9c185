package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults
const (
	DefaultDebounce     = 2 * time.Second
	DefaultPollInterval = 30 * time.Second

	// StopTimeout bounds how long Stop waits for the watch loop.
	StopTimeout = 5 * time.Second
)

// Watcher kinds accepted by New.
const (
	KindAuto  = "auto"
	KindEvent = "event"
	KindPoll  = "poll"
)

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("watcher did not stop in time")

// ChangeFunc receives a batch of changed absolute file paths, sorted.
// Paths of removed files are included; callers stat them to tell.
type ChangeFunc func(ctx context.Context, paths []string) error

// FileWatcher reports file changes under a root directory.
type FileWatcher interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	Stats() Stats
}

// Stats describes a watcher.
type Stats struct {
	Mode           string        `json:"mode"`
	Running        bool          `json:"running"`
	Root           string        `json:"root"`
	Debounce       time.Duration `json:"debounce"`
	PollInterval   time.Duration `json:"poll_interval"`
	FilesMonitored int           `json:"files_monitored"`
	Batches        int64         `json:"batches"`
	FilesReported  int64         `json:"files_reported"`
	Errors         int64         `json:"errors"`
	LastChange     time.Time     `json:"last_change,omitempty"`
}

// Options configures a watcher.
type Options struct {
	Root         string
	Debounce     time.Duration // event watcher flush window
	PollInterval time.Duration // polling watcher scan period

	// IgnoreDirs lists directory names, or absolute directory paths, whose
	// contents are never reported.
	IgnoreDirs []string

	// Match reports whether a file path is eligible. Nil accepts every file.
	Match func(path string) bool

	OnChange ChangeFunc
	Logger   *slog.Logger
}

func (o *Options) setDefaults() error {
	if o.Root == "" {
		return errors.New("watch root is required")
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", root)
	}
	o.Root = root

	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.OnChange == nil {
		return errors.New("change callback is required")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// New creates a watcher of the given kind. KindAuto prefers the event
// watcher and falls back to polling when it cannot start.
func New(kind string, opts Options) (FileWatcher, error) {
	switch strings.ToLower(kind) {
	case KindEvent:
		return NewFSNotify(opts)
	case KindPoll:
		return NewPolling(opts)
	case KindAuto, "":
		return newAuto(opts)
	default:
		return nil, fmt.Errorf("unknown watcher kind %q", kind)
	}
}

// ignorer decides which paths are outside the watch.
type ignorer struct {
	root  string
	names map[string]struct{}
	paths []string
}

func newIgnorer(root string, dirs []string) ignorer {
	ig := ignorer{root: root, names: make(map[string]struct{})}
	for _, d := range dirs {
		if filepath.IsAbs(d) {
			ig.paths = append(ig.paths, filepath.Clean(d))
			continue
		}
		ig.names[d] = struct{}{}
	}
	return ig
}

// dir reports whether a directory should be skipped.
func (ig ignorer) dir(path string) bool {
	if _, ok := ig.names[filepath.Base(path)]; ok && path != ig.root {
		return true
	}
	for _, p := range ig.paths {
		if path == p {
			return true
		}
	}
	return false
}

// path reports whether any ancestor of path below root is ignored.
func (ig ignorer) path(path string) bool {
	for _, p := range ig.paths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	rel, err := filepath.Rel(ig.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		if _, ok := ig.names[part]; ok {
			return true
		}
	}
	return false
}

// loop holds the lifecycle shared by both watchers.
type loop struct {
	opts Options
	mode string
	ig   ignorer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	batches  atomic.Int64
	reported atomic.Int64
	errs     atomic.Int64
	last     atomic.Int64 // unix nanos of the last reported batch
}

func newLoop(mode string, opts Options) (*loop, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &loop{opts: opts, mode: mode, ig: newIgnorer(opts.Root, opts.IgnoreDirs)}, nil
}

// start runs fn in a goroutine unless already running.
func (l *loop) start(ctx context.Context, fn func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go func(done chan struct{}) {
		defer close(done)
		defer func() {
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
		}()
		fn(ctx)
	}(l.done)
	return true
}

func (l *loop) stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(StopTimeout):
		l.opts.Logger.Warn("watcher stop timed out", "mode", l.mode, "timeout", StopTimeout)
		return ErrStopTimeout
	}
}

func (l *loop) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *loop) eligible(path string) bool {
	if l.ig.path(path) {
		return false
	}
	return l.opts.Match == nil || l.opts.Match(path)
}

// notify delivers a batch. Callback errors and panics are logged.
func (l *loop) notify(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	l.batches.Add(1)
	l.reported.Add(int64(len(paths)))
	l.last.Store(time.Now().UnixNano())

	defer func() {
		if r := recover(); r != nil {
			l.errs.Add(1)
			l.opts.Logger.Error("watch callback panicked", "mode", l.mode, "panic", r)
		}
	}()
	if err := l.opts.OnChange(ctx, paths); err != nil {
		l.errs.Add(1)
		l.opts.Logger.Error("watch callback failed", "mode", l.mode, "files", len(paths), "error", err)
		return
	}
	l.opts.Logger.Debug("reported changes", "mode", l.mode, "files", len(paths))
}

func (l *loop) stats(monitored int) Stats {
	s := Stats{
		Mode:           l.mode,
		Running:        l.isRunning(),
		Root:           l.opts.Root,
		Debounce:       l.opts.Debounce,
		PollInterval:   l.opts.PollInterval,
		FilesMonitored: monitored,
		Batches:        l.batches.Load(),
		FilesReported:  l.reported.Load(),
		Errors:         l.errs.Load(),
	}
	if n := l.last.Load(); n > 0 {
		s.LastChange = time.Unix(0, n)
	}
	return s
}
