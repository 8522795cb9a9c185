package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codectx-mcp/internal/engine"
	"github.com/dshills/codectx-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusStarted = "started"
	StatusStopped = "stopped"
	StatusRunning = "running"
)

// Context pack argument bounds
const (
	minPackBudget = 500
	maxPackBudget = 5000
	maxPackChunks = 10
)

// maxReportedErrors bounds the per-file errors echoed by index_path.
const maxReportedErrors = 5

// handleIndexPath handles the index_path tool invocation
func (s *Server) handleIndexPath(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := s.resolvePath(request.GetString("path", "."))
	if err != nil {
		return errorResult(err), nil
	}

	enableSemantic := request.GetBool("enable_semantic", s.engine.Semantic().Default)
	req := types.IndexRequest{
		Paths:        []string{path},
		Recursive:    request.GetBool("recursive", true),
		ExcludeGlobs: request.GetStringSlice("exclude_globs", nil),
		Force:        request.GetBool("force", false),
	}
	s.logger.Info("index_path", "path", path, "recursive", req.Recursive, "semantic", enableSemantic, "force", req.Force)

	res, err := s.engine.IndexPaths(ctx, req, engine.IndexOptions{EnableSemantic: enableSemantic})
	if err != nil {
		return errorResult(err), nil
	}

	response := map[string]any{
		"status":        StatusSuccess,
		"files_indexed": res.FilesIndexed,
		"chunks":        res.Chunks,
		"files_skipped": res.FilesSkipped,
		"files_failed":  res.FilesFailed,
		"files_removed": res.FilesRemoved,
		"index_version": res.IndexVersion,
		"changed":       res.Changed,
		"elapsed_ms":    res.Duration.Milliseconds(),
		"semantic":      s.engine.Semantic().Default,
	}
	if n := len(res.ErrorMessages); n > 0 {
		response["errors"] = res.ErrorMessages[:min(n, maxReportedErrors)]
		response["error_count"] = n
	}

	if request.GetBool("auto_start_watcher", false) {
		started, err := s.engine.StartWatch("", 0)
		switch {
		case err != nil:
			response["auto_indexing"] = StatusError
			response["auto_indexing_error"] = err.Error()
		case started:
			response["auto_indexing"] = StatusStarted
		default:
			response["auto_indexing"] = StatusRunning
		}
	}

	return jsonResult(response), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return errorResult(types.ErrEmptyQuery), nil
	}

	args := request.GetArguments()
	limit := request.GetInt("limit", 0)
	if _, ok := args["limit"]; ok && (limit < 1 || limit > 100) {
		return errorResult(newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]any{
			"param": "limit",
			"value": limit,
		})), nil
	}

	req := types.SearchRequest{
		Query: query,
		Limit: limit,
		Filters: types.Filters{
			FileGlob:   request.GetString("file_glob", ""),
			Extensions: request.GetStringSlice("extensions", nil),
		},
		UseMMR:      optionalBool(request, "use_mmr"),
		UseSemantic: optionalBool(request, "use_semantic"),
	}
	if _, ok := args["semantic_weight"]; ok {
		w := request.GetFloat("semantic_weight", -1)
		if w < 0 || w > 1 {
			return errorResult(newMCPError(ErrorCodeInvalidParams, "semantic_weight must be between 0 and 1", map[string]any{
				"param": "semantic_weight",
				"value": w,
			})), nil
		}
		req.SemanticWeight = types.Float64Ptr(w)
	}

	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"status":      StatusSuccess,
		"query":       query,
		"search_type": resp.SearchType,
		"cache_hit":   resp.CacheHit,
		"count":       len(resp.Results),
		"results":     resp.Results,
		"elapsed_ms":  resp.Duration.Milliseconds(),
	}), nil
}

// handleContextPack handles the context_pack tool invocation
func (s *Server) handleContextPack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return errorResult(types.ErrEmptyQuery), nil
	}

	cfg := s.engine.Config().Search
	req := types.PackRequest{
		Query:        query,
		BudgetTokens: clamp(request.GetInt("budget_tokens", cfg.PackBudgetTokens), minPackBudget, maxPackBudget),
		MaxChunks:    clamp(request.GetInt("max_chunks", cfg.PackMaxChunks), 1, maxPackChunks),
		Strategy:     request.GetString("strategy", types.StrategyMMR),
	}

	pack, err := s.engine.BuildContextPack(ctx, req)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"status":       StatusSuccess,
		"context_pack": pack,
		"total_tokens": pack.TotalTokens,
	}), nil
}

// handleAutoIndex handles the auto_index tool invocation
func (s *Server) handleAutoIndex(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := strings.ToLower(request.GetString("action", "status"))

	switch action {
	case "start":
		path := request.GetString("path", "")
		if path != "" {
			resolved, err := s.resolvePath(path)
			if err != nil {
				return errorResult(err), nil
			}
			path = resolved
		}
		debounce := time.Duration(request.GetFloat("debounce_seconds", 0) * float64(time.Second))

		started, err := s.engine.StartWatch(path, debounce)
		if err != nil {
			return errorResult(err), nil
		}
		st := s.engine.WatchStatus()
		if !started {
			return jsonResult(map[string]any{
				"status":     StatusRunning,
				"is_running": true,
				"message":    "watcher already running",
				"watcher":    st.Stats,
			}), nil
		}
		return jsonResult(map[string]any{
			"status":     StatusStarted,
			"is_running": true,
			"path":       st.Stats.Root,
			"mode":       st.Stats.Mode,
			"debounce":   st.Stats.Debounce.String(),
		}), nil

	case "stop":
		if err := s.engine.StopWatch(); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"status": StatusStopped, "is_running": false}), nil

	case "status":
		st := s.engine.WatchStatus()
		status := StatusStopped
		if st.Running {
			status = StatusRunning
		}
		return jsonResult(map[string]any{
			"status":     status,
			"is_running": st.Running,
			"watcher":    st.Stats,
		}), nil

	default:
		return errorResult(newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid action %q", action), map[string]any{
			"param":   "action",
			"allowed": []string{"start", "stop", "status"},
		})), nil
	}
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	usage, err := s.engine.UsageTotals(ctx, time.Time{})
	if err != nil {
		return errorResult(err), nil
	}
	caches, err := s.engine.CacheStats("all")
	if err != nil {
		return errorResult(err), nil
	}
	sem := s.engine.Semantic()
	watch := s.engine.WatchStatus()

	return jsonResult(map[string]any{
		"status":  StatusSuccess,
		"index":   s.engine.IndexStats(),
		"session": s.engine.SessionStats(),
		"usage":   usage,
		"caches":  caches,
		"watcher": watch,
		"capabilities": map[string]any{
			"semantic_search":  sem.Available,
			"semantic_model":   sem.Model,
			"semantic_default": sem.Default,
			"auto_indexing":    true,
		},
	}), nil
}

// handleCacheManagement handles the cache_management tool invocation
func (s *Server) handleCacheManagement(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := strings.ToLower(request.GetString("action", "status"))
	cacheType := strings.ToLower(request.GetString("cache_type", "all"))

	switch action {
	case "clear":
		if err := s.engine.CacheClear(cacheType); err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{
			"status":     StatusSuccess,
			"cache_type": cacheType,
			"message":    fmt.Sprintf("cleared %s cache", cacheType),
		}), nil
	case "status":
		stats, err := s.engine.CacheStats(cacheType)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{
			"status":     StatusSuccess,
			"cache_type": cacheType,
			"caches":     stats,
		}), nil
	default:
		return errorResult(newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("invalid action %q", action), map[string]any{
			"param":   "action",
			"allowed": []string{"clear", "status"},
		})), nil
	}
}

// Helper functions

// resolvePath makes path absolute against the repository root and checks
// that it exists.
func (s *Server) resolvePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.engine.Config().RepoRoot, path)
	}
	if _, err := os.Stat(path); err != nil {
		reason := ErrPathNotReadable
		if os.IsNotExist(err) {
			reason = ErrPathNotFound
		}
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]any{
			"param":  "path",
			"path":   path,
			"reason": reason.Error(),
		})
	}
	return path, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data any) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    any
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// errorResult renders err as a failed tool result.
func errorResult(err error) *mcp.CallToolResult {
	payload := map[string]any{"status": StatusError}

	var mcpErr *MCPError
	switch {
	case errors.As(err, &mcpErr):
		payload["error"] = mcpErr.Message
		payload["code"] = mcpErr.Code
		if mcpErr.Data != nil {
			payload["details"] = mcpErr.Data
		}
	case errors.Is(err, types.ErrEmptyQuery):
		payload["error"] = err.Error()
		payload["code"] = ErrorCodeEmptyQuery
	case errors.Is(err, types.ErrIndexing):
		payload["error"] = err.Error()
		payload["code"] = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrInvalidStrategy), errors.Is(err, types.ErrInvalidNamespace):
		payload["error"] = err.Error()
		payload["code"] = ErrorCodeInvalidParams
	default:
		payload["error"] = err.Error()
		payload["code"] = ErrorCodeInternalError
	}

	result := mcp.NewToolResultText(formatJSON(payload))
	result.IsError = true
	return result
}

func jsonResult(payload map[string]any) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(payload))
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]any) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"error":%q}`, StatusError, err.Error())
	}
	return string(bytes)
}

// optionalBool returns nil when key is absent so the engine default applies.
func optionalBool(request mcp.CallToolRequest, key string) *bool {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil
	}
	return types.BoolPtr(request.GetBool(key, false))
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Validation helpers

var (
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
)
