package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Namespaces
const (
	NamespaceSearch     = "search"
	NamespaceEmbeddings = "embeddings"
	NamespaceMetadata   = "metadata"
	NamespaceContext    = "context"
)

// DefaultTTLs are the per-namespace lifetimes used when Set gets ttl 0.
var DefaultTTLs = map[string]time.Duration{
	NamespaceSearch:     120 * time.Second,
	NamespaceEmbeddings: 14 * 24 * time.Hour,
	NamespaceMetadata:   30 * 24 * time.Hour,
	NamespaceContext:    7 * 24 * time.Hour,
}

// NoExpiry passed as ttl stores an entry that never expires.
const NoExpiry time.Duration = -1

const sampleKeyCount = 10

// entry is a stored value. ExpiresAt is unix nanoseconds; 0 never expires.
type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at"`
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt
}

// Stats reports counters and configuration of one namespace.
type Stats struct {
	Namespace   string   `json:"namespace"`
	Size        int      `json:"size"`
	MaxSize     int      `json:"max_size"`
	DefaultTTL  float64  `json:"default_ttl_seconds"`
	Sets        int64    `json:"sets"`
	Gets        int64    `json:"gets"`
	Hits        int64    `json:"hits"`
	Misses      int64    `json:"misses"`
	Evictions   int64    `json:"evictions"`
	HitRate     float64  `json:"hit_rate"`
	PersistPath string   `json:"persist_path,omitempty"`
	SampleKeys  []string `json:"sample_keys,omitempty"`
}

// Options configures a Cache.
type Options struct {
	DefaultTTL  time.Duration // 0 uses DefaultTTLs[namespace]
	MaxSize     int           // 0 means unbounded
	PersistPath string        // Empty disables persistence
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Cache is a namespaced TTL cache with LRU eviction. Values are stored as
// JSON so that a hit always yields a fresh copy.
type Cache struct {
	mu         sync.Mutex
	namespace  string
	lru        *simplelru.LRU[string, entry]
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
	persist    *persister
	logger     *slog.Logger

	sets, gets, hits, misses, evictions int64
}

// New creates a cache for namespace and restores persisted entries.
func New(namespace string, opts Options) (*Cache, error) {
	size := opts.MaxSize
	if size <= 0 {
		size = math.MaxInt32
	}
	l, err := simplelru.NewLRU[string, entry](size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}

	c := &Cache{
		namespace:  namespace,
		lru:        l,
		defaultTTL: opts.DefaultTTL,
		maxSize:    max(0, opts.MaxSize),
		now:        opts.Clock,
		logger:     opts.Logger,
	}
	if c.defaultTTL == 0 {
		c.defaultTTL = DefaultTTLs[namespace]
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	if opts.PersistPath != "" {
		c.persist = newPersister(opts.PersistPath)
		if err := c.restore(); err != nil {
			c.logger.Warn("ignoring unreadable cache file", "namespace", namespace, "path", opts.PersistPath, "error", err)
		}
	}
	return c, nil
}

// Namespace returns the cache namespace.
func (c *Cache) Namespace() string { return c.namespace }

// Get decodes the live value stored under key into dst and reports whether
// it was found. Expired entries are dropped and count as misses.
func (c *Cache) Get(key any, dst any) bool {
	k, err := NormalizeKey(key)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gets++
	e, ok := c.lru.Get(k)
	if !ok {
		c.misses++
		return false
	}
	if e.expired(c.now()) {
		c.lru.Remove(k)
		c.misses++
		return false
	}
	if dst != nil {
		if err := json.Unmarshal(e.Value, dst); err != nil {
			c.lru.Remove(k)
			c.misses++
			return false
		}
	}
	c.hits++
	return true
}

// Set stores value under key. ttl 0 applies the namespace default; a
// negative ttl never expires.
func (c *Cache) Set(key any, value any, ttl time.Duration) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache value is not serializable: %w", err)
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	e := entry{Value: raw}
	if ttl > 0 {
		e.ExpiresAt = c.now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++
	if evicted := c.lru.Add(k, e); evicted {
		c.evictions++
	}
	c.save()
	return nil
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key any) bool {
	k, err := NormalizeKey(key)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.lru.Remove(k)
	if removed {
		c.save()
	}
	return removed
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.save()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired()
	return c.lru.Len()
}

// ResetMetrics zeroes the counters and returns their previous values.
func (c *Cache) ResetMetrics() Stats {
	prev := c.Stats()

	c.mu.Lock()
	c.sets, c.gets, c.hits, c.misses, c.evictions = 0, 0, 0, 0, 0
	c.mu.Unlock()
	return prev
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpired()
	s := Stats{
		Namespace:  c.namespace,
		Size:       c.lru.Len(),
		MaxSize:    c.maxSize,
		DefaultTTL: c.defaultTTL.Seconds(),
		Sets:       c.sets,
		Gets:       c.gets,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
	if c.gets > 0 {
		s.HitRate = float64(c.hits) / float64(c.gets)
	}
	if c.persist != nil {
		s.PersistPath = c.persist.path
	}
	keys := c.lru.Keys()
	if len(keys) > sampleKeyCount {
		keys = keys[len(keys)-sampleKeyCount:]
	}
	s.SampleKeys = keys
	return s
}

// purgeExpired drops expired entries. Caller holds mu.
func (c *Cache) purgeExpired() {
	now := c.now()
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && e.expired(now) {
			c.lru.Remove(k)
		}
	}
}

// save writes live entries to disk. Failures are logged. Caller holds mu.
func (c *Cache) save() {
	if c.persist == nil {
		return
	}
	now := c.now()
	keys := c.lru.Keys() // oldest first
	records := make([]record, 0, len(keys))
	for _, k := range keys {
		e, ok := c.lru.Peek(k)
		if !ok || e.expired(now) {
			continue
		}
		records = append(records, record{Key: k, Value: e.Value, ExpiresAt: e.ExpiresAt})
	}
	if err := c.persist.write(c.namespace, records); err != nil {
		c.logger.Warn("failed to persist cache", "namespace", c.namespace, "error", err)
	}
}

// restore loads live entries from disk in recency order.
func (c *Cache) restore() error {
	records, err := c.persist.read()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, r := range records {
		e := entry{Value: r.Value, ExpiresAt: r.ExpiresAt}
		if e.expired(now) {
			continue
		}
		c.lru.Add(r.Key, e)
	}
	return nil
}
