package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects callback batches.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
	panicOn int // 1-based batch number that panics
	errOn   int
}

func (r *recorder) onChange(_ context.Context, paths []string) error {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), paths...))
	n := len(r.batches)
	r.mu.Unlock()
	if n == r.panicOn {
		panic("callback exploded")
	}
	if n == r.errOn {
		return assert.AnError
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, b := range r.batches {
		for _, p := range b {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func goFiles(path string) bool { return strings.HasSuffix(path, ".go") }

func TestNew(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{}
	opts := Options{Root: root, OnChange: rec.onChange}

	w, err := New(KindEvent, opts)
	require.NoError(t, err)
	assert.IsType(t, &FSNotify{}, w)

	w, err = New("POLL", opts)
	require.NoError(t, err)
	assert.IsType(t, &Polling{}, w)
	assert.Equal(t, DefaultPollInterval, w.Stats().PollInterval)
	assert.Equal(t, DefaultDebounce, w.Stats().Debounce)

	w, err = New(KindAuto, opts)
	require.NoError(t, err)
	assert.Equal(t, KindAuto, w.Stats().Mode)
	assert.False(t, w.IsRunning())

	_, err = New("inotify", opts)
	assert.Error(t, err)

	_, err = New(KindPoll, Options{Root: filepath.Join(root, "missing"), OnChange: rec.onChange})
	assert.Error(t, err)

	_, err = New(KindPoll, Options{Root: root})
	assert.Error(t, err, "callback is required")
}

func TestFSNotify_BatchesWithinDebounce(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{}
	w, err := NewFSNotify(Options{Root: root, Debounce: 300 * time.Millisecond, Match: goFiles, OnChange: rec.onChange})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	want := []string{filepath.Join(root, "a.go"), filepath.Join(root, "b.go"), filepath.Join(root, "c.go")}
	for _, p := range want {
		write(t, p, "package x\n")
	}
	write(t, filepath.Join(root, "notes.txt"), "ignored by match")

	require.Eventually(t, func() bool { return rec.count() > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(600 * time.Millisecond)

	require.Equal(t, 1, rec.count(), "one callback per debounce window")
	assert.Equal(t, want, rec.batches[0], "sorted absolute paths")
	assert.EqualValues(t, 1, w.Stats().Batches)
}

func TestFSNotify_WatchesNewDirectories(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{}
	w, err := NewFSNotify(Options{Root: root, Debounce: 100 * time.Millisecond, OnChange: rec.onChange})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	nested := filepath.Join(root, "pkg", "sub", "deep.go")
	write(t, nested, "package sub\n")

	require.Eventually(t, func() bool {
		for _, p := range rec.all() {
			if p == nested {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFSNotify_IgnoresArtifactDirs(t *testing.T) {
	root := tempRoot(t)
	indexDir := filepath.Join(root, ".mcp_index")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.MkdirAll(indexDir, 0o755))

	rec := &recorder{}
	w, err := NewFSNotify(Options{
		Root:       root,
		Debounce:   100 * time.Millisecond,
		IgnoreDirs: []string{"node_modules", indexDir},
		OnChange:   rec.onChange,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	write(t, filepath.Join(root, "node_modules", "dep.js"), "x")
	write(t, filepath.Join(indexDir, "index.db"), "x")
	write(t, filepath.Join(root, "main.go"), "package main\n")

	require.Eventually(t, func() bool { return rec.count() > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{filepath.Join(root, "main.go")}, rec.all())
}

func TestFSNotify_ReportsRemovals(t *testing.T) {
	root := tempRoot(t)
	gone := filepath.Join(root, "gone.go")
	write(t, gone, "package x\n")

	rec := &recorder{}
	w, err := NewFSNotify(Options{Root: root, Debounce: 100 * time.Millisecond, OnChange: rec.onChange})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.Remove(gone))
	require.Eventually(t, func() bool {
		all := rec.all()
		return len(all) == 1 && all[0] == gone
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPolling_DetectsChanges(t *testing.T) {
	root := tempRoot(t)
	changed := filepath.Join(root, "changed.go")
	removed := filepath.Join(root, "removed.go")
	stable := filepath.Join(root, "stable.go")
	write(t, changed, "v1")
	write(t, removed, "bye")
	write(t, stable, "same")

	rec := &recorder{}
	w, err := NewPolling(Options{
		Root:         root,
		PollInterval: 30 * time.Millisecond,
		IgnoreDirs:   []string{".git"},
		Match:        goFiles,
		OnChange:     rec.onChange,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	assert.Equal(t, 3, w.Stats().FilesMonitored)

	added := filepath.Join(root, "sub", "added.go")
	write(t, changed, "v2")
	require.NoError(t, os.Remove(removed))
	write(t, added, "new")
	write(t, filepath.Join(root, ".git", "HEAD.go"), "ignored")
	write(t, filepath.Join(root, "readme.md"), "ignored")

	require.Eventually(t, func() bool { return len(rec.all()) >= 3 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.ElementsMatch(t, []string{added, changed, removed}, rec.all())
	assert.NotContains(t, rec.all(), stable)
}

func TestPolling_SurvivesCallbackFailures(t *testing.T) {
	root := tempRoot(t)
	rec := &recorder{panicOn: 1, errOn: 2}
	w, err := NewPolling(Options{Root: root, PollInterval: 20 * time.Millisecond, OnChange: rec.onChange})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	for i, name := range []string{"one.go", "two.go", "three.go"} {
		write(t, filepath.Join(root, name), name)
		require.Eventually(t, func() bool { return rec.count() >= i+1 }, 5*time.Second, 10*time.Millisecond)
	}
	assert.True(t, w.IsRunning(), "panics and errors do not end the loop")
	assert.EqualValues(t, 2, w.Stats().Errors)
}

func TestLifecycle(t *testing.T) {
	for _, kind := range []string{KindEvent, KindPoll, KindAuto} {
		t.Run(kind, func(t *testing.T) {
			rec := &recorder{}
			w, err := New(kind, Options{Root: tempRoot(t), PollInterval: time.Hour, OnChange: rec.onChange})
			require.NoError(t, err)

			require.NoError(t, w.Stop(), "stopping a stopped watcher is fine")
			require.NoError(t, w.Start(context.Background()))
			require.NoError(t, w.Start(context.Background()), "second start is a no-op")
			assert.True(t, w.IsRunning())
			assert.True(t, w.Stats().Running)

			start := time.Now()
			require.NoError(t, w.Stop())
			assert.Less(t, time.Since(start), StopTimeout)
			assert.False(t, w.IsRunning())
			require.NoError(t, w.Stop())
		})
	}
}

func TestLifecycle_ContextCancel(t *testing.T) {
	rec := &recorder{}
	w, err := NewPolling(Options{Root: tempRoot(t), PollInterval: time.Hour, OnChange: rec.onChange})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestIgnorer(t *testing.T) {
	root := "/repo"
	ig := newIgnorer(root, []string{".git", "node_modules", "/repo/.mcp_index"})

	assert.True(t, ig.dir("/repo/.git"))
	assert.True(t, ig.dir("/repo/web/node_modules"))
	assert.True(t, ig.dir("/repo/.mcp_index"))
	assert.False(t, ig.dir("/repo/src"))

	assert.True(t, ig.path("/repo/.git/config"))
	assert.True(t, ig.path("/repo/web/node_modules/x/index.js"))
	assert.True(t, ig.path("/repo/.mcp_index/index.db"))
	assert.True(t, ig.path("/elsewhere/main.go"), "outside the root")
	assert.False(t, ig.path("/repo/src/main.go"))
	assert.False(t, ig.path("/repo/.gitignore"))
}

func TestDiff(t *testing.T) {
	got := diff(
		map[string]string{"a": "1", "b": "2", "c": "3"},
		map[string]string{"a": "1", "b": "9", "d": "4"},
	)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, got)
}
