package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvIndexDir          = "INDEX_DIR"
	EnvIndexRoot         = "INDEX_ROOT"
	EnvLogLevel          = "CODECTX_LOG_LEVEL"
	EnvDebounceSeconds   = "CODECTX_DEBOUNCE_SECONDS"
	EnvPollSeconds       = "CODECTX_POLL_SECONDS"
	EnvWatchMode         = "CODECTX_WATCH_MODE"
	EnvTTLSearch         = "CODECTX_TTL_SEARCH"
	EnvTTLEmbeddings     = "CODECTX_TTL_EMBEDDINGS"
	EnvTTLMetadata       = "CODECTX_TTL_METADATA"
	EnvTTLContext        = "CODECTX_TTL_CONTEXT"
	EnvCacheMaxSize      = "CODECTX_CACHE_MAX_SIZE"
	EnvSemanticWeight    = "CODECTX_SEMANTIC_WEIGHT"
	EnvMMRLambda         = "CODECTX_MMR_LAMBDA"
	EnvBM25K1            = "CODECTX_BM25_K1"
	EnvBM25B             = "CODECTX_BM25_B"
	EnvEmbeddingProvider = "CODECTX_EMBEDDING_PROVIDER"
	EnvJinaAPIKey        = "JINA_API_KEY"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvAutoIndexOnStart  = "AUTO_INDEX_ON_START"
	EnvAutoIndexPaths    = "AUTO_INDEX_PATHS"
	EnvAutoRecursive     = "AUTO_INDEX_RECURSIVE"
	EnvAutoSemantic      = "AUTO_ENABLE_SEMANTIC"
	EnvAutoStartWatcher  = "AUTO_START_WATCHER"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overlays environment values onto c.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str(EnvIndexRoot, &c.RepoRoot)
	e.str(EnvIndexDir, &c.IndexDir)
	e.str(EnvLogLevel, &c.LogLevel)
	e.str(EnvWatchMode, &c.Watch.Mode)
	e.str(EnvEmbeddingProvider, &c.Semantic.Provider)
	c.Semantic.Provider = strings.ToLower(c.Semantic.Provider)

	e.seconds(EnvDebounceSeconds, &c.Watch.Debounce)
	e.seconds(EnvPollSeconds, &c.Watch.PollInterval)
	e.duration(EnvTTLSearch, &c.Cache.SearchTTL)
	e.duration(EnvTTLEmbeddings, &c.Cache.EmbeddingsTTL)
	e.duration(EnvTTLMetadata, &c.Cache.MetadataTTL)
	e.duration(EnvTTLContext, &c.Cache.ContextTTL)
	e.integer(EnvCacheMaxSize, &c.Cache.MaxSize)

	e.float(EnvSemanticWeight, &c.Semantic.Weight)
	e.float(EnvMMRLambda, &c.Search.MMRLambda)
	e.float(EnvBM25K1, &c.Search.K1)
	e.float(EnvBM25B, &c.Search.B)

	e.boolean(EnvAutoIndexOnStart, &c.AutoIndex.OnStart)
	e.boolean(EnvAutoRecursive, &c.AutoIndex.Recursive)
	e.boolean(EnvAutoSemantic, &c.Semantic.Enabled)
	e.boolean(EnvAutoStartWatcher, &c.AutoIndex.StartWatcher)
	if v, ok := e.get(EnvAutoIndexPaths); ok {
		c.AutoIndex.Paths = splitList(v)
	}

	// API keys only come from the environment. Without an explicit
	// provider the first key found selects it.
	for _, k := range []struct{ env, provider string }{
		{EnvJinaAPIKey, "jina"},
		{EnvOpenAIAPIKey, "openai"},
	} {
		v, ok := e.get(k.env)
		if !ok || c.Semantic.APIKey != "" {
			continue
		}
		if c.Semantic.Provider == "" || c.Semantic.Provider == k.provider {
			c.Semantic.APIKey = v
			c.Semantic.Provider = k.provider
		}
	}

	return e.err
}

// envReader parses typed values and keeps the first error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		*dst = truthy(v)
	}
}

func (e *envReader) seconds(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = Duration(time.Duration(f * float64(time.Second)))
	}
}

func (e *envReader) duration(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		d, err := parseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// truthy accepts the usual spellings of true.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// splitList splits a comma or path-list separated value.
func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == filepath.ListSeparator })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Duration is a time.Duration that reads and writes as a Go duration
// string ("120s", "336h") or as plain seconds.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML accepts both strings and bare numbers.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(time.Duration(secs * float64(time.Second))), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}
