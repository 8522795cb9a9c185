package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// Session accumulates usage counters for the lifetime of an engine.
type Session struct {
	id      string
	started time.Time
	now     func() time.Time

	searches         atomic.Int64
	packs            atomic.Int64
	indexRuns        atomic.Int64
	tokensSent       atomic.Int64
	tokensSaved      atomic.Int64
	cacheSaved       atomic.Int64
	compressionSaved atomic.Int64

	mu        sync.Mutex
	lastQuery string
	lastSent  int
	lastSaved int
}

// SessionStats is a snapshot of a Session.
type SessionStats struct {
	SessionID              string        `json:"session_id"`
	StartedAt              time.Time     `json:"started_at"`
	Uptime                 time.Duration `json:"uptime"`
	Searches               int64         `json:"searches"`
	ContextPacks           int64         `json:"context_packs"`
	IndexRuns              int64         `json:"index_runs"`
	TokensSent             int64         `json:"tokens_sent"`
	TokensSaved            int64         `json:"tokens_saved"`
	CacheTokensSaved       int64         `json:"cache_tokens_saved"`
	CompressionTokensSaved int64         `json:"compression_tokens_saved"`
	SavingsPercent         float64       `json:"savings_percent"`
	LastQuery              string        `json:"last_query,omitempty"`
	LastQueryTokensSent    int           `json:"last_query_tokens_sent"`
	LastQueryTokensSaved   int           `json:"last_query_tokens_saved"`
}

func newSession(now func() time.Time) *Session {
	return &Session{id: uuid.NewString(), started: now(), now: now}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) recordSearch() { s.searches.Add(1) }

func (s *Session) recordIndexRun() { s.indexRuns.Add(1) }

func (s *Session) recordPack(p *types.ContextPack) {
	s.packs.Add(1)
	s.tokensSent.Add(int64(p.TotalTokens))
	s.tokensSaved.Add(int64(p.TokensSaved))
	s.cacheSaved.Add(int64(p.CacheTokensSaved))
	s.compressionSaved.Add(int64(p.CompressionTokensSaved))

	s.mu.Lock()
	s.lastQuery = p.Query
	s.lastSent = p.TotalTokens
	s.lastSaved = p.TokensSaved
	s.mu.Unlock()
}

// Stats returns the current counters.
func (s *Session) Stats() SessionStats {
	st := SessionStats{
		SessionID:              s.id,
		StartedAt:              s.started,
		Uptime:                 s.now().Sub(s.started),
		Searches:               s.searches.Load(),
		ContextPacks:           s.packs.Load(),
		IndexRuns:              s.indexRuns.Load(),
		TokensSent:             s.tokensSent.Load(),
		TokensSaved:            s.tokensSaved.Load(),
		CacheTokensSaved:       s.cacheSaved.Load(),
		CompressionTokensSaved: s.compressionSaved.Load(),
	}
	if total := st.TokensSent + st.TokensSaved; total > 0 {
		st.SavingsPercent = float64(st.TokensSaved) / float64(total) * 100
	}

	s.mu.Lock()
	st.LastQuery = s.lastQuery
	st.LastQueryTokensSent = s.lastSent
	st.LastQueryTokensSaved = s.lastSaved
	s.mu.Unlock()
	return st
}
