package cli

import (
	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/dshills/codectx-mcp/internal/mcp"
	"github.com/dshills/codectx-mcp/internal/storage"
)

// displayVersion normalizes release versions ("v1.2" becomes "1.2.0") and
// returns anything else, such as "dev", unchanged.
func displayVersion(v string) string {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return v
	}
	return parsed.String()
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{
				"version":        displayVersion(a.version),
				"protocol":       mcp.ServerName + "/" + mcp.ServerVersion,
				"build_mode":     storage.BuildMode,
				"sqlite_driver":  storage.DriverName,
				"schema_version": storage.CurrentSchemaVersion,
			}
			p := a.printer(cmd)
			if p.json {
				return p.JSON(info)
			}
			p.Title("codectx version " + info["version"])
			p.Field("mcp server", info["protocol"])
			p.Field("build mode", info["build_mode"])
			p.Field("sqlite driver", info["sqlite_driver"])
			p.Field("schema", info["schema_version"])
			return nil
		},
	}
}
