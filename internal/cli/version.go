package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/db"
)

// Version is stamped by the release build with -ldflags "-X".
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the th version and local schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"version": Version,
					"schema":  db.SchemaVersion(),
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "th %s (schema %d)\n", Version, db.SchemaVersion())
			return err
		},
	}
}
