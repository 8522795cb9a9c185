package mcp

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codectx-mcp/internal/cache"
	"github.com/dshills/codectx-mcp/internal/config"
	"github.com/dshills/codectx-mcp/internal/engine"
	"github.com/dshills/codectx-mcp/internal/searcher"
	"github.com/dshills/codectx-mcp/internal/storage"
	"github.com/dshills/codectx-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "codectx-mcp"
	// ServerVersion is the current server version
	ServerVersion = "0.3.0"
)

// Engine is the part of *engine.Engine the tools call.
type Engine interface {
	Config() config.Config
	IndexPaths(ctx context.Context, req types.IndexRequest, opts engine.IndexOptions) (*types.IndexResult, error)
	Search(ctx context.Context, req types.SearchRequest) (*searcher.SearchResponse, error)
	BuildContextPack(ctx context.Context, req types.PackRequest) (*types.ContextPack, error)
	StartWatch(path string, debounce time.Duration) (bool, error)
	StopWatch() error
	WatchStatus() engine.WatchStatus
	IndexStats() types.IndexStats
	SessionStats() engine.SessionStats
	UsageTotals(ctx context.Context, since time.Time) ([]storage.UsageAggregate, error)
	CacheClear(namespace string) error
	CacheStats(namespace string) (map[string]cache.Stats, error)
	Semantic() engine.SemanticStatus
}

// Server wraps the MCP server with the engine it serves
type Server struct {
	mcp    *server.MCPServer
	engine Engine
	logger *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(eng Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		engine: eng,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol over in and out until ctx is cancelled or
// the client closes the stream.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio", "name", ServerName, "version", ServerVersion)
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexPathTool(), s.handleIndexPath)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(contextPackTool(), s.handleContextPack)
	s.mcp.AddTool(autoIndexTool(), s.handleAutoIndex)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
	s.mcp.AddTool(cacheManagementTool(), s.handleCacheManagement)
}
