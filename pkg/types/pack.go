package types

// Context pack selection strategies
const (
	StrategyMMR  = "mmr"
	StrategyTopK = "topk"
)

// Search types reported on a pack
const (
	SearchTypeBM25   = "bm25"
	SearchTypeHybrid = "hybrid"
)

// PackRequest describes a context pack to build.
type PackRequest struct {
	Query        string `json:"query"`
	BudgetTokens int    `json:"budget_tokens"`
	MaxChunks    int    `json:"max_chunks"`
	Strategy     string `json:"strategy"`
	UseSemantic  *bool  `json:"use_semantic,omitempty"`
}

// PackedChunk is one chunk excerpt inside a context pack.
type PackedChunk struct {
	ChunkID         string `json:"chunk_id"`
	Header          string `json:"header"`
	Summary         string `json:"summary"`
	ContentSnippet  string `json:"content_snippet"`
	TokensRaw       int    `json:"tokens_raw"`
	EstimatedTokens int    `json:"estimated_tokens"`
	TokensSaved     int    `json:"tokens_saved"`
}

// ContextPack is a token-budgeted, ordered bundle of chunk excerpts.
type ContextPack struct {
	Query        string        `json:"query"`
	Strategy     string        `json:"strategy"`
	BudgetTokens int           `json:"budget_tokens"`
	TotalTokens  int           `json:"total_tokens"`
	Chunks       []PackedChunk `json:"chunks"`

	// Token accounting
	TokensSaved            int `json:"tokens_saved"`
	CompressionTokensSaved int `json:"compression_tokens_saved"`
	CacheTokensSaved       int `json:"cache_tokens_saved"`

	CacheHit   bool   `json:"cache_hit"`
	SearchType string `json:"search_type"`
}
