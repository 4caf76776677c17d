package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/client"
	"github.com/thatapp/transition-houses/internal/house"
)

const defaultServerURL = "http://localhost:8080"

// remoteFlags select the server a remote command talks to.
type remoteFlags struct {
	server string
	apiKey string
}

func (f remoteFlags) client() *client.Client {
	server := f.server
	if server == "" {
		server = os.Getenv("TH_SERVER_URL")
	}
	if server == "" {
		server = defaultServerURL
	}
	key := f.apiKey
	if key == "" {
		key = os.Getenv("TH_API_KEY")
	}
	return client.New(server, key)
}

func newRemoteCmd() *cobra.Command {
	var f remoteFlags

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Work against a running server instead of the local store",
		Long:  "Browse houses, toggle availability and trigger imports through the HTTP API of a running server. Write commands need a staff API key.",
	}

	cmd.PersistentFlags().StringVar(&f.server, "server", "", "server URL (default: $TH_SERVER_URL or "+defaultServerURL+")")
	cmd.PersistentFlags().StringVar(&f.apiKey, "api-key", "", "staff API key (default: $TH_API_KEY)")

	cmd.AddCommand(
		newRemoteListCmd(&f),
		newRemoteToggleCmd(&f),
		newRemoteImportCmd(&f),
	)

	return cmd
}

func newRemoteListCmd(f *remoteFlags) *cobra.Command {
	var near string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List houses from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var origin *house.Point
			if near != "" {
				p, err := parsePoint(near)
				if err != nil {
					return fmt.Errorf("invalid --near %q: %w", near, err)
				}
				origin = &p
			}

			houses, err := f.client().ListHouses(cmd.Context(), origin)
			if err != nil {
				return err
			}

			if isJSON() {
				return printJSON(cmd.OutOrStdout(), houses)
			}
			records := make([]*house.Record, len(houses))
			for i, h := range houses {
				records[i] = &h.Record
			}
			return printHouseTable(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&near, "near", "", "sort by distance from a point given as lat,lng")

	return cmd
}

func newRemoteToggleCmd(f *remoteFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Toggle a house's availability on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteToggle(cmd, f.client(), args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func runRemoteToggle(cmd *cobra.Command, c *client.Client, id string, yes bool) error {
	ctx := cmd.Context()

	if !yes {
		ok, err := confirmRemoteToggle(ctx, cmd, c, id)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled.")
			return nil
		}
	}

	h, err := c.ToggleAvailability(ctx, id)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), h)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (updated %s).\n",
		h.Program, h.Record.Status(), formatUpdated(h.LastUpdated))
	return nil
}

func confirmRemoteToggle(ctx context.Context, cmd *cobra.Command, c *client.Client, id string) (bool, error) {
	p, err := c.PreviewToggle(ctx, id)
	if err != nil {
		return false, err
	}
	if p.House == nil {
		return false, errors.New("server sent an empty preview")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s): %s -> %s\n",
		p.House.Program, p.House.City, house.ParseAvailability(p.From), p.To)
	return confirmPrompt(cmd.ErrOrStderr(), cmd.InOrStdin(), "Are you sure you want to toggle availability?")
}

func newRemoteImportCmd(f *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Run a full-replace import on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := f.client().Import(cmd.Context())
			if err != nil {
				return fmt.Errorf("importing: %w", err)
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d houses (%d rows failed).\n", res.Succeeded, res.Failed)
			return nil
		},
	}
}
