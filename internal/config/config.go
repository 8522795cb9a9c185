// Package config loads engine configuration from defaults, an optional
// TOML or YAML file, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultIndexDirName is the index directory created under the repository root.
const DefaultIndexDirName = ".mcp_index"

// Config is the complete engine configuration.
type Config struct {
	RepoRoot string `toml:"repo_root" yaml:"repo_root"`
	IndexDir string `toml:"index_dir" yaml:"index_dir"`
	LogLevel string `toml:"log_level" yaml:"log_level"`

	Index     IndexConfig     `toml:"index" yaml:"index"`
	Search    SearchConfig    `toml:"search" yaml:"search"`
	Cache     CacheConfig     `toml:"cache" yaml:"cache"`
	Semantic  SemanticConfig  `toml:"semantic" yaml:"semantic"`
	Watch     WatchConfig     `toml:"watch" yaml:"watch"`
	AutoIndex AutoIndexConfig `toml:"auto_index" yaml:"auto_index"`
}

// IndexConfig controls discovery and chunking.
type IndexConfig struct {
	IncludeGlobs []string `toml:"include_globs" yaml:"include_globs"`
	ExcludeGlobs []string `toml:"exclude_globs" yaml:"exclude_globs"`
	MaxLines     int      `toml:"max_lines" yaml:"max_lines"`
	Overlap      int      `toml:"overlap" yaml:"overlap"`
	Workers      int      `toml:"workers" yaml:"workers"`
}

// SearchConfig holds ranking parameters.
type SearchConfig struct {
	K1               float64 `toml:"bm25_k1" yaml:"bm25_k1"`
	B                float64 `toml:"bm25_b" yaml:"bm25_b"`
	HalfLifeDays     float64 `toml:"half_life_days" yaml:"half_life_days"`
	RecencyWeight    float64 `toml:"recency_weight" yaml:"recency_weight"`
	MMRLambda        float64 `toml:"mmr_lambda" yaml:"mmr_lambda"`
	DefaultLimit     int     `toml:"default_limit" yaml:"default_limit"`
	UseMMR           bool    `toml:"use_mmr" yaml:"use_mmr"`
	PackBudgetTokens int     `toml:"pack_budget_tokens" yaml:"pack_budget_tokens"`
	PackMaxChunks    int     `toml:"pack_max_chunks" yaml:"pack_max_chunks"`
}

// CacheConfig holds per-namespace TTLs and persistence settings.
type CacheConfig struct {
	SearchTTL     Duration `toml:"search_ttl" yaml:"search_ttl"`
	EmbeddingsTTL Duration `toml:"embeddings_ttl" yaml:"embeddings_ttl"`
	MetadataTTL   Duration `toml:"metadata_ttl" yaml:"metadata_ttl"`
	ContextTTL    Duration `toml:"context_ttl" yaml:"context_ttl"`
	MaxSize       int      `toml:"max_size" yaml:"max_size"` // 0 means unbounded
	Persist       []string `toml:"persist" yaml:"persist"`   // Namespaces written to disk
}

// SemanticConfig controls embedding-based ranking.
type SemanticConfig struct {
	Enabled  bool    `toml:"enabled" yaml:"enabled"`
	Weight   float64 `toml:"weight" yaml:"weight"`
	Provider string  `toml:"provider" yaml:"provider"` // local, jina, openai; empty detects from API keys
	APIKey   string  `toml:"-" yaml:"-"`
	RPS      float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// WatchConfig controls the file watcher.
type WatchConfig struct {
	Mode         string   `toml:"mode" yaml:"mode"` // auto, event, poll
	Debounce     Duration `toml:"debounce" yaml:"debounce"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
}

// AutoIndexConfig controls indexing performed when the server starts.
type AutoIndexConfig struct {
	OnStart      bool     `toml:"on_start" yaml:"on_start"`
	Paths        []string `toml:"paths" yaml:"paths"`
	Recursive    bool     `toml:"recursive" yaml:"recursive"`
	StartWatcher bool     `toml:"start_watcher" yaml:"start_watcher"`
}

// DefaultIncludeGlobs lists the source files indexed when no include globs are given.
var DefaultIncludeGlobs = []string{
	"**/*.py", "**/*.pyi", "**/*.js", "**/*.jsx", "**/*.ts", "**/*.tsx",
	"**/*.java", "**/*.go", "**/*.rb", "**/*.php", "**/*.c", "**/*.cpp",
	"**/*.h", "**/*.hpp", "**/*.cs", "**/*.rs", "**/*.m", "**/*.mm",
	"**/*.swift", "**/*.kt", "**/*.kts", "**/*.sql", "**/*.sh", "**/*.bash",
	"**/*.zsh", "**/*.ps1", "**/*.psm1",
}

// DefaultExcludeGlobs lists paths never indexed.
var DefaultExcludeGlobs = []string{
	"**/.git/**", "**/node_modules/**", "**/dist/**", "**/build/**",
	"**/.venv/**", "**/__pycache__/**", "**/vendor/**", "**/" + DefaultIndexDirName + "/**",
}

// IgnoredDirNames are directory names skipped by discovery and the watcher.
var IgnoredDirNames = []string{
	".git", ".hg", ".svn", "node_modules", "dist", "build", ".venv", "venv",
	"__pycache__", "vendor", DefaultIndexDirName,
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RepoRoot: ".",
		LogLevel: "info",
		Index: IndexConfig{
			IncludeGlobs: append([]string(nil), DefaultIncludeGlobs...),
			ExcludeGlobs: append([]string(nil), DefaultExcludeGlobs...),
			MaxLines:     80,
			Overlap:      12,
		},
		Search: SearchConfig{
			K1:               1.5,
			B:                0.75,
			HalfLifeDays:     30,
			RecencyWeight:    0.15,
			MMRLambda:        0.7,
			DefaultLimit:     10,
			UseMMR:           true,
			PackBudgetTokens: 2000,
			PackMaxChunks:    5,
		},
		Cache: CacheConfig{
			SearchTTL:     Duration(120 * time.Second),
			EmbeddingsTTL: Duration(14 * 24 * time.Hour),
			MetadataTTL:   Duration(30 * 24 * time.Hour),
			ContextTTL:    Duration(7 * 24 * time.Hour),
			MaxSize:       4096,
			Persist:       []string{"search", "metadata", "context"},
		},
		Semantic: SemanticConfig{
			Weight: 0.3,
			RPS:    5,
		},
		Watch: WatchConfig{
			Mode:         "auto",
			Debounce:     Duration(2 * time.Second),
			PollInterval: Duration(30 * time.Second),
		},
		AutoIndex: AutoIndexConfig{
			Paths:     []string{"."},
			Recursive: true,
		},
	}
}

// Overrides are command-line values. Empty fields are ignored.
type Overrides struct {
	RepoRoot string
	IndexDir string
	LogLevel string
}

// Load builds a Config from defaults, the optional file at path, and the
// process environment.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with o applied last.
func LoadWithOverrides(path string, o Overrides) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if o.RepoRoot != "" {
		cfg.RepoRoot = o.RepoRoot
	}
	if o.IndexDir != "" {
		cfg.IndexDir = o.IndexDir
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.resolvePaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// loadFile decodes a TOML or YAML file over cfg, chosen by extension.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("invalid TOML in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", filepath.Ext(path))
	}
	return nil
}

// resolvePaths makes RepoRoot absolute and defaults IndexDir under it.
func (c *Config) resolvePaths() error {
	root, err := filepath.Abs(c.RepoRoot)
	if err != nil {
		return fmt.Errorf("cannot resolve repository root: %w", err)
	}
	c.RepoRoot = root

	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(root, DefaultIndexDirName)
	} else if !filepath.IsAbs(c.IndexDir) {
		c.IndexDir = filepath.Join(root, c.IndexDir)
	}
	return nil
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	if c.Index.MaxLines <= 0 {
		errs = append(errs, errors.New("index.max_lines must be positive"))
	}
	if c.Index.Overlap < 0 || c.Index.Overlap >= c.Index.MaxLines {
		errs = append(errs, errors.New("index.overlap must be in [0, max_lines)"))
	}
	if c.Search.K1 < 0 {
		errs = append(errs, errors.New("search.bm25_k1 must be >= 0"))
	}
	if c.Search.B < 0 || c.Search.B > 1 {
		errs = append(errs, errors.New("search.bm25_b must be in [0, 1]"))
	}
	if c.Search.MMRLambda < 0 || c.Search.MMRLambda > 1 {
		errs = append(errs, errors.New("search.mmr_lambda must be in [0, 1]"))
	}
	if c.Search.RecencyWeight < 0 || c.Search.RecencyWeight > 1 {
		errs = append(errs, errors.New("search.recency_weight must be in [0, 1]"))
	}
	if c.Search.HalfLifeDays <= 0 {
		errs = append(errs, errors.New("search.half_life_days must be positive"))
	}
	if c.Semantic.Weight < 0 || c.Semantic.Weight > 1 {
		errs = append(errs, errors.New("semantic.weight must be in [0, 1]"))
	}
	switch c.Semantic.Provider {
	case "", "local", "jina", "openai":
	default:
		errs = append(errs, fmt.Errorf("semantic.provider %q must be local, jina or openai", c.Semantic.Provider))
	}
	if c.Cache.MaxSize < 0 {
		errs = append(errs, errors.New("cache.max_size must be >= 0"))
	}
	switch c.Watch.Mode {
	case "auto", "event", "poll":
	default:
		errs = append(errs, fmt.Errorf("watch.mode %q must be auto, event or poll", c.Watch.Mode))
	}
	if c.Watch.Debounce.Std() <= 0 {
		errs = append(errs, errors.New("watch.debounce must be positive"))
	}
	return errors.Join(errs...)
}
