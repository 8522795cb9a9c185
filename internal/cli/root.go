package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/internal/config"
	"github.com/dshills/codectx-mcp/internal/engine"
)

// app holds the flags shared by every command.
type app struct {
	version    string
	configPath string
	root       string
	indexDir   string
	logLevel   string
	jsonOut    bool
}

// NewRootCmd builds the codectx command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{version: version}

	cmd := &cobra.Command{
		Use:   "codectx",
		Short: "Local incremental code search and context packs for LLM assistants",
		Long: `codectx indexes a repository into overlapping line chunks, ranks them with
BM25, a recency boost and optional embedding similarity, and serves search
results and token-budgeted context packs over MCP or the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	pf.StringVar(&a.root, "root", "", "repository root (default $INDEX_ROOT or the working directory)")
	pf.StringVar(&a.indexDir, "index-dir", "", "index directory (default <root>/"+config.DefaultIndexDirName+")")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&a.jsonOut, "json", false, "print JSON instead of text")

	cmd.AddCommand(
		a.serveCmd(),
		a.indexCmd(),
		a.searchCmd(),
		a.packCmd(),
		a.statsCmd(),
		a.cacheCmd(),
		a.versionCmd(),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd(version)
	if err := cmd.ExecuteContext(ctx); err != nil {
		newPrinter(cmd.ErrOrStderr(), false).Error(err)
		return 1
	}
	return 0
}

func (a *app) loadConfig() (config.Config, error) {
	return config.LoadWithOverrides(a.configPath, config.Overrides{
		RepoRoot: a.root,
		IndexDir: a.indexDir,
		LogLevel: a.logLevel,
	})
}

// openEngine loads the configuration and opens the index. Logs go to the
// command's stderr.
func (a *app) openEngine(cmd *cobra.Command) (*engine.Engine, *slog.Logger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	eng, err := engine.New(cmd.Context(), cfg, engine.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return eng, logger, nil
}

func (a *app) printer(cmd *cobra.Command) *printer {
	return newPrinter(cmd.OutOrStdout(), a.jsonOut)
}
