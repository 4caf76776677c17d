package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/directory"
	"github.com/thatapp/transition-houses/internal/house"
)

func newShowCmd() *cobra.Command {
	var program string

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show house details",
		Long:  "Show every field of a house, looked up by ID (or a unique ID prefix) or by exact program name.",
		Args: func(cmd *cobra.Command, args []string) error {
			if program == "" && len(args) != 1 {
				return fmt.Errorf("requires a house ID or --program")
			}
			if program != "" && len(args) != 0 {
				return fmt.Errorf("give either a house ID or --program, not both")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return runShow(cmd, ref, program)
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "look up by exact program name")

	return cmd
}

func runShow(cmd *cobra.Command, ref, program string) error {
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

	var h *house.Record
	if program != "" {
		var ok bool
		h, ok = dir.FindByProgramName(program)
		if !ok {
			return fmt.Errorf("no house with program %q", program)
		}
	} else {
		h, err = findHouse(dir, ref)
		if err != nil {
			return err
		}
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), h)
	}

	printHouseDetail(cmd.OutOrStdout(), h)
	return nil
}

// findHouse resolves a full ID or an unambiguous prefix of one, as
// printed by list.
func findHouse(dir *directory.Directory, ref string) (*house.Record, error) {
	if h, ok := dir.FindByID(ref); ok {
		return h, nil
	}

	var match *house.Record
	if len(ref) >= 4 {
		for _, h := range dir.Records() {
			if !strings.HasPrefix(h.ID, ref) {
				continue
			}
			if match != nil {
				return nil, fmt.Errorf("house ID %q is ambiguous", ref)
			}
			match = h
		}
	}
	if match == nil {
		return nil, fmt.Errorf("house %s: %w", ref, house.ErrNotFound)
	}
	return match, nil
}
