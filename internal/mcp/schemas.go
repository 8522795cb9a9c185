package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var readOnly = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

var stringItems = map[string]any{"type": "string"}

// indexPathTool returns the tool definition for index_path
func indexPathTool() mcp.Tool {
	return mcp.NewTool("index_path",
		mcp.WithDescription("Index source files under a path so they can be searched. Unchanged files are skipped; deleted files are pruned."),
		mcp.WithString("path",
			mcp.Description("File or directory to index, absolute or relative to the repository root"),
			mcp.DefaultString("."),
		),
		mcp.WithBoolean("recursive",
			mcp.Description("Descend into subdirectories"),
			mcp.DefaultBool(true),
		),
		mcp.WithBoolean("enable_semantic",
			mcp.Description("Embed the indexed chunks and rank searches with hybrid BM25 + embedding similarity"),
		),
		mcp.WithBoolean("auto_start_watcher",
			mcp.Description("Start the file watcher after indexing"),
			mcp.DefaultBool(false),
		),
		mcp.WithArray("exclude_globs",
			mcp.Description("Additional glob patterns to skip (e.g. 'testdata/**')"),
			mcp.Items(stringItems),
		),
		mcp.WithBoolean("force",
			mcp.Description("Re-chunk files even when their modification time is unchanged"),
			mcp.DefaultBool(false),
		),
	)
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Search the indexed code with BM25 ranking, a recency boost, optional semantic blending and MMR diversification."),
		mcp.WithToolAnnotation(readOnly),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Keywords or identifiers to search for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (1-100)"),
			mcp.DefaultNumber(10),
			mcp.Min(1),
			mcp.Max(100),
		),
		mcp.WithNumber("semantic_weight",
			mcp.Description("Share of the semantic score in hybrid ranking (0.0-1.0)"),
			mcp.Min(0),
			mcp.Max(1),
		),
		mcp.WithBoolean("use_mmr",
			mcp.Description("Diversify results with maximal marginal relevance"),
		),
		mcp.WithBoolean("use_semantic",
			mcp.Description("Blend embedding similarity into the ranking when an embedder is available"),
		),
		mcp.WithString("file_glob",
			mcp.Description("Glob over repository-relative paths (e.g. 'internal/**')"),
		),
		mcp.WithArray("extensions",
			mcp.Description("Only return chunks from files with these extensions (e.g. '.go')"),
			mcp.Items(stringItems),
		),
	)
}

// contextPackTool returns the tool definition for context_pack
func contextPackTool() mcp.Tool {
	return mcp.NewTool("context_pack",
		mcp.WithDescription("Build a token-budgeted bundle of the most relevant code excerpts for a query."),
		mcp.WithToolAnnotation(readOnly),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What the context should cover"),
		),
		mcp.WithNumber("budget_tokens",
			mcp.Description("Token budget for the whole pack"),
			mcp.DefaultNumber(2000),
			mcp.Min(minPackBudget),
			mcp.Max(maxPackBudget),
		),
		mcp.WithNumber("max_chunks",
			mcp.Description("Maximum number of excerpts"),
			mcp.DefaultNumber(5),
			mcp.Min(1),
			mcp.Max(maxPackChunks),
		),
		mcp.WithString("strategy",
			mcp.Description("mmr favours diverse excerpts, topk takes the best ranked"),
			mcp.Enum("mmr", "topk"),
			mcp.DefaultString("mmr"),
		),
	)
}

// autoIndexTool returns the tool definition for auto_index
func autoIndexTool() mcp.Tool {
	return mcp.NewTool("auto_index",
		mcp.WithDescription("Start, stop or inspect the file watcher that reindexes changed files."),
		mcp.WithString("action",
			mcp.Description("start, stop or status"),
			mcp.Enum("start", "stop", "status"),
			mcp.DefaultString("status"),
		),
		mcp.WithString("path",
			mcp.Description("Directory to watch; defaults to the repository root"),
		),
		mcp.WithNumber("debounce_seconds",
			mcp.Description("Quiet period before a batch of changes is reindexed"),
			mcp.Min(0),
		),
	)
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.NewTool("get_stats",
		mcp.WithDescription("Report index, session token savings, cache and watcher statistics."),
		mcp.WithToolAnnotation(readOnly),
	)
}

// cacheManagementTool returns the tool definition for cache_management
func cacheManagementTool() mcp.Tool {
	return mcp.NewTool("cache_management",
		mcp.WithDescription("Clear caches or report their statistics."),
		mcp.WithString("action",
			mcp.Description("clear or status"),
			mcp.Enum("clear", "status"),
			mcp.DefaultString("status"),
		),
		mcp.WithString("cache_type",
			mcp.Description("search, embeddings, metadata, context or all"),
			mcp.Enum("search", "embeddings", "metadata", "context", "all"),
			mcp.DefaultString("all"),
		),
	)
}
