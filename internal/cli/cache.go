package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "clear [namespace]",
		Short:     "Clear one namespace, or all of them",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"search", "embeddings", "metadata", "context", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := namespaceArg(args)
			eng, _, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.CacheClear(ns); err != nil {
				return err
			}
			p := a.printer(cmd)
			if p.json {
				return p.JSON(map[string]any{"cleared": ns})
			}
			p.OK(fmt.Sprintf("cleared %s cache", ns))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats [namespace]",
		Short: "Show cache statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			stats, err := eng.CacheStats(namespaceArg(args))
			if err != nil {
				return err
			}
			p := a.printer(cmd)
			if p.json {
				return p.JSON(stats)
			}
			p.Title("Caches")
			printCaches(p, stats)
			return nil
		},
	})
	return cmd
}

func namespaceArg(args []string) string {
	if len(args) == 0 {
		return "all"
	}
	return args[0]
}
