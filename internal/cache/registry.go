package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// indexVersionKey is the metadata entry holding the version that the
// cached search, context and embedding results belong to.
const indexVersionKey = "index_version"

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Dir     string                   // Persistence directory; empty disables persistence
	TTLs    map[string]time.Duration // Overrides DefaultTTLs
	MaxSize int
	Persist []string // Namespaces written to Dir
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Registry owns one Cache per namespace.
type Registry struct {
	mu      sync.Mutex
	caches  map[string]*Cache
	opts    RegistryOptions
	persist map[string]bool
	logger  *slog.Logger
}

// NewRegistry creates a registry. Caches are created on first use.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		caches:  make(map[string]*Cache),
		opts:    opts,
		persist: make(map[string]bool, len(opts.Persist)),
		logger:  opts.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	for _, ns := range opts.Persist {
		r.persist[ns] = true
	}
	return r
}

// ValidNamespace reports whether ns is a known namespace.
func ValidNamespace(ns string) bool {
	_, ok := DefaultTTLs[ns]
	return ok
}

// Get returns the cache for namespace, creating it on first use.
func (r *Registry) Get(namespace string) (*Cache, error) {
	if !ValidNamespace(namespace) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidNamespace, namespace)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[namespace]; ok {
		return c, nil
	}

	opts := Options{
		DefaultTTL: r.opts.TTLs[namespace],
		MaxSize:    r.opts.MaxSize,
		Clock:      r.opts.Clock,
		Logger:     r.logger,
	}
	if r.opts.Dir != "" && r.persist[namespace] {
		opts.PersistPath = filepath.Join(r.opts.Dir, namespace+".json")
	}
	c, err := New(namespace, opts)
	if err != nil {
		return nil, err
	}
	r.caches[namespace] = c
	return c, nil
}

// MustGet is Get for the built-in namespaces.
func (r *Registry) MustGet(namespace string) *Cache {
	c, err := r.Get(namespace)
	if err != nil {
		panic(err)
	}
	return c
}

// Namespaces returns the known namespaces in sorted order.
func Namespaces() []string {
	out := make([]string, 0, len(DefaultTTLs))
	for ns := range DefaultTTLs {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// SyncIndexVersion records version in the metadata namespace. When it
// differs from the stored one (or none is stored), the search, context and
// embeddings namespaces are cleared and true is returned.
func (r *Registry) SyncIndexVersion(version string) bool {
	meta := r.MustGet(NamespaceMetadata)

	var stored string
	if meta.Get(indexVersionKey, &stored) && stored == version {
		return false
	}

	for _, ns := range []string{NamespaceSearch, NamespaceContext, NamespaceEmbeddings} {
		r.MustGet(ns).Clear()
	}
	if err := meta.Set(indexVersionKey, version, 0); err != nil {
		r.logger.Warn("failed to record index version", "error", err)
	}
	r.logger.Debug("cache invalidated for new index version", "version", version)
	return true
}

// Clear empties one namespace, or all of them when namespace is empty.
func (r *Registry) Clear(namespace string) error {
	if namespace == "" {
		for _, ns := range Namespaces() {
			r.MustGet(ns).Clear()
		}
		return nil
	}
	c, err := r.Get(namespace)
	if err != nil {
		return err
	}
	c.Clear()
	return nil
}

// Stats returns the stats of every namespace.
func (r *Registry) Stats() map[string]Stats {
	out := make(map[string]Stats, len(DefaultTTLs))
	for _, ns := range Namespaces() {
		out[ns] = r.MustGet(ns).Stats()
	}
	return out
}
