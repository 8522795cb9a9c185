package storage

import (
	"context"
	"time"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// Storage persists the search index and the token usage ledger.
type Storage interface {
	// Index operations
	LoadIndex(ctx context.Context) (*IndexData, error)
	Apply(ctx context.Context, cs *ChangeSet) error

	// Usage operations
	RecordUsage(ctx context.Context, rec UsageRecord) error
	UsageSummary(ctx context.Context, since, until time.Time) ([]UsageAggregate, error)

	// Status operations
	Size() int64
	Path() string

	// Database operations
	Close() error
}

// IndexData is the persisted state of the index.
type IndexData struct {
	Chunks       []types.Chunk
	FileMTimes   map[string]time.Time
	LastUpdated  time.Time
	IndexVersion string
}

// ChangeSet describes one index mutation. Chunks of every file in
// RemovedFiles and in ReplacedFiles are deleted before Chunks are inserted.
type ChangeSet struct {
	RemovedFiles  []string
	ReplacedFiles map[string]time.Time
	Chunks        []types.Chunk
	IndexVersion  string
	LastUpdated   time.Time
}

// IsEmpty reports whether cs changes nothing but metadata.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.RemovedFiles) == 0 && len(cs.ReplacedFiles) == 0 && len(cs.Chunks) == 0
}

// UsageRecord is one ledger entry for a search or context pack call.
type UsageRecord struct {
	Timestamp   time.Time
	Operation   string
	Query       string
	TokensSent  int
	TokensSaved int
	CacheHit    bool
}

// UsageAggregate sums ledger entries for one operation.
type UsageAggregate struct {
	Operation   string `json:"operation"`
	Calls       int    `json:"calls"`
	TokensSent  int64  `json:"tokens_sent"`
	TokensSaved int64  `json:"tokens_saved"`
	CacheHits   int    `json:"cache_hits"`
}

// Meta keys
const (
	MetaLastUpdated  = "last_updated"
	MetaIndexVersion = "index_version"
)
