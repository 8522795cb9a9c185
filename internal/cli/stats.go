package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/internal/cache"
	"github.com/dshills/codectx-mcp/internal/engine"
	"github.com/dshills/codectx-mcp/internal/storage"
	"github.com/dshills/codectx-mcp/pkg/types"
)

type statsReport struct {
	Index    types.IndexStats         `json:"index"`
	Usage    []storage.UsageAggregate `json:"usage"`
	Caches   map[string]cache.Stats   `json:"caches"`
	Semantic engine.SemanticStatus    `json:"semantic"`
}

func (a *app) statsCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index, token usage and cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			usage, err := eng.UsageTotals(cmd.Context(), from)
			if err != nil {
				return err
			}
			caches, err := eng.CacheStats("all")
			if err != nil {
				return err
			}
			report := statsReport{
				Index:    eng.IndexStats(),
				Usage:    usage,
				Caches:   caches,
				Semantic: eng.Semantic(),
			}

			p := a.printer(cmd)
			if p.json {
				return p.JSON(report)
			}
			printStats(p, report)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 0, "only count usage newer than this (e.g. 24h)")
	return cmd
}

func printStats(p *printer, r statsReport) {
	p.Title("Index")
	p.Field("files", r.Index.TotalFiles)
	p.Field("chunks", r.Index.TotalChunks)
	p.Field("size", fmt.Sprintf("%.2f MB", float64(r.Index.IndexSize)/(1<<20)))
	p.Field("version", r.Index.IndexVersion)
	if !r.Index.LastUpdated.IsZero() {
		p.Field("last updated", r.Index.LastUpdated.Local().Format(time.DateTime))
	}
	p.Field("semantic", fmt.Sprintf("%s (default %v)", r.Semantic.Model, r.Semantic.Default))
	p.Blank()

	p.Title("Token usage")
	if len(r.Usage) == 0 {
		p.Field("calls", 0)
	}
	for _, u := range r.Usage {
		p.Field(u.Operation, fmt.Sprintf("%d calls, %d sent, %d saved, %d cache hits", u.Calls, u.TokensSent, u.TokensSaved, u.CacheHits))
	}
	p.Blank()

	p.Title("Caches")
	printCaches(p, r.Caches)
}

func printCaches(p *printer, caches map[string]cache.Stats) {
	names := make([]string, 0, len(caches))
	for ns := range caches {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		st := caches[ns]
		p.Field(ns, fmt.Sprintf("%d entries, %.0f%% hit rate, ttl %s", st.Size, st.HitRate*100, time.Duration(st.DefaultTTL*float64(time.Second))))
	}
}
