package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/internal/engine"
	"github.com/dshills/codectx-mcp/pkg/types"
)

func (a *app) indexCmd() *cobra.Command {
	var (
		recursive bool
		force     bool
		semantic  bool
		include   []string
		exclude   []string
	)

	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Index files under the given paths (default: the repository root)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			eng, _, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.IndexPaths(cmd.Context(), types.IndexRequest{
				Paths:        args,
				Recursive:    recursive,
				IncludeGlobs: include,
				ExcludeGlobs: exclude,
				Force:        force,
			}, engine.IndexOptions{EnableSemantic: semantic})
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}

			p := a.printer(cmd)
			if p.json {
				return p.JSON(res)
			}
			p.OK(fmt.Sprintf("indexed %d files into %d chunks", res.FilesIndexed, res.Chunks))
			p.Field("skipped", res.FilesSkipped)
			p.Field("removed", res.FilesRemoved)
			p.Field("failed", res.FilesFailed)
			p.Field("index version", res.IndexVersion)
			p.Field("duration", res.Duration.Round(time.Millisecond))
			for _, msg := range res.ErrorMessages {
				p.Error(errors.New(msg))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&recursive, "recursive", "r", true, "descend into subdirectories")
	f.BoolVar(&force, "force", false, "re-chunk files even when unchanged")
	f.BoolVar(&semantic, "semantic", false, "embed chunks and enable hybrid ranking")
	f.StringSliceVar(&include, "include", nil, "include glob (repeatable; default: common source extensions)")
	f.StringSliceVar(&exclude, "exclude", nil, "additional exclude glob (repeatable)")
	return cmd
}
