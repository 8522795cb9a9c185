package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/internal/mcp"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Long: `Runs the MCP server on stdin/stdout. When auto_index.on_start is set the
configured paths are indexed in the background, and the file watcher is
started when auto_index.start_watcher is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, logger, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					logger.Warn("engine close failed", "error", err)
				}
			}()

			ctx := cmd.Context()
			// Bootstrap runs beside the server so the client handshake is not
			// held up by a large first index.
			go func() {
				if err := eng.Bootstrap(ctx); err != nil {
					logger.Error("auto index failed", "error", err)
				}
			}()

			srv := mcp.NewServer(eng, logger)
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
