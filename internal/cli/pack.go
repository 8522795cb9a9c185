package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/pkg/types"
)

func (a *app) packCmd() *cobra.Command {
	var (
		budget    int
		maxChunks int
		strategy  string
	)

	cmd := &cobra.Command{
		Use:   "pack <query>",
		Short: "Build a token-budgeted context pack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			pack, err := eng.BuildContextPack(cmd.Context(), types.PackRequest{
				Query:        strings.Join(args, " "),
				BudgetTokens: budget,
				MaxChunks:    maxChunks,
				Strategy:     strategy,
			})
			if err != nil {
				return fmt.Errorf("context pack failed: %w", err)
			}

			p := a.printer(cmd)
			if p.json {
				return p.JSON(pack)
			}
			if len(pack.Chunks) == 0 {
				fmt.Fprintln(p.w, "No matching chunks.")
				return nil
			}
			p.Title(fmt.Sprintf("Context pack for %q: %d chunks, %d/%d tokens", pack.Query, len(pack.Chunks), pack.TotalTokens, pack.BudgetTokens))
			p.Blank()
			for _, c := range pack.Chunks {
				p.Heading(c.Header, fmt.Sprintf("(~%d tokens, %d saved)", c.EstimatedTokens, c.TokensSaved))
				p.Block(c.ContentSnippet, 4)
				p.Blank()
			}
			p.Field("strategy", pack.Strategy)
			p.Field("search type", pack.SearchType)
			p.Field("tokens saved", pack.TokensSaved)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&budget, "budget", "b", 0, "token budget (default from config)")
	f.IntVarP(&maxChunks, "max-chunks", "k", 0, "maximum number of chunks (default from config)")
	f.StringVarP(&strategy, "strategy", "s", types.StrategyMMR, "selection strategy: mmr or topk")
	return cmd
}
