package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/availability"
	"github.com/thatapp/transition-houses/internal/directory"
	"github.com/thatapp/transition-houses/internal/house"
)

func newToggleCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Toggle a house between Available and Unavailable",
		Long:  "Flip the availability of a house and stamp its last-updated time. Asks for confirmation unless --yes is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToggle(cmd, args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func runToggle(cmd *cobra.Command, ref string, yes bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := directory.New(a.store)
	defer dir.Close()
	if err := dir.Load(cmd.Context()); err != nil {
		return err
	}

	h, err := findHouse(dir, ref)
	if err != nil {
		return err
	}

	confirm := availability.Confirmed(yes)
	if !yes {
		confirm = availability.ConfirmFunc(func(_ context.Context, c availability.Change) (bool, error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s): %s -> %s\n", c.Record.Program, c.Record.City, house.ParseAvailability(c.From), c.To)
			return confirmPrompt(cmd.ErrOrStderr(), cmd.InOrStdin(), "Are you sure you want to toggle availability?")
		})
	}

	svc := availability.NewService(a.store, a.logger)
	updated, err := svc.Toggle(cmd.Context(), h, confirm)
	if errors.Is(err, availability.ErrNotConfirmed) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}
	if isJSON() {
		return printJSON(cmd.OutOrStdout(), updated)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (updated %s).\n",
		updated.Program, updated.Status(), formatUpdated(updated.LastUpdated))

	if dir.ApplyUpdate(updated) {
		available, total := countAvailable(dir.Records())
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d houses available.\n", available, total)
	}
	return nil
}

func countAvailable(records []*house.Record) (available, total int) {
	for _, r := range records {
		if r.IsAvailable() {
			available++
		}
	}
	return available, len(records)
}
