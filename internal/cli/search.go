package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/pkg/types"
)

// previewLines is how much of each result preview the text output shows.
const previewLines = 4

func (a *app) searchCmd() *cobra.Command {
	var (
		limit    int
		glob     string
		exts     []string
		useMMR   bool
		semantic bool
		weight   float64
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			req := types.SearchRequest{
				Query:   query,
				Limit:   limit,
				Filters: types.Filters{FileGlob: glob, Extensions: exts},
			}
			flags := cmd.Flags()
			if flags.Changed("mmr") {
				req.UseMMR = types.BoolPtr(useMMR)
			}
			if flags.Changed("semantic") {
				req.UseSemantic = types.BoolPtr(semantic)
			}
			if flags.Changed("weight") {
				req.SemanticWeight = types.Float64Ptr(weight)
			}

			eng, _, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			resp, err := eng.Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			p := a.printer(cmd)
			if p.json {
				return p.JSON(map[string]any{
					"query":       query,
					"search_type": resp.SearchType,
					"cache_hit":   resp.CacheHit,
					"count":       len(resp.Results),
					"results":     resp.Results,
				})
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(p.w, "No results found.")
				return nil
			}
			p.Title(fmt.Sprintf("%d results for %q (%s)", len(resp.Results), query, resp.SearchType))
			p.Blank()
			for i, r := range resp.Results {
				p.Heading(fmt.Sprintf("[%d] %s:%d-%d", i+1, r.FilePath, r.StartLine, r.EndLine), fmt.Sprintf("(%.3f)", r.Score))
				p.Block(types.Preview(r.Preview, previewLines), 6)
				p.Blank()
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 0, "maximum number of results (default from config)")
	f.StringVar(&glob, "glob", "", "only files matching this glob (e.g. 'internal/**')")
	f.StringSliceVar(&exts, "ext", nil, "only files with these extensions (repeatable)")
	f.BoolVar(&useMMR, "mmr", true, "diversify results with maximal marginal relevance")
	f.BoolVar(&semantic, "semantic", false, "blend embedding similarity into the ranking")
	f.Float64Var(&weight, "weight", 0.3, "semantic share of the hybrid score")
	return cmd
}
