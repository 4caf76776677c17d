package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/directory"
	"github.com/thatapp/transition-houses/internal/house"
)

func newListCmd() *cobra.Command {
	var near string
	var availableOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all houses",
		Long:  "List every house in the directory, ordered by city and program, or nearest first with --near.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, near, availableOnly)
		},
	}

	cmd.Flags().StringVar(&near, "near", "", "sort by distance from a point given as lat,lng")
	cmd.Flags().BoolVar(&availableOnly, "available", false, "only show houses marked Available")

	return cmd
}

func runList(cmd *cobra.Command, near string, availableOnly bool) error {
	var origin *house.Point
	if near != "" {
		p, err := parsePoint(near)
		if err != nil {
			return fmt.Errorf("invalid --near %q: %w", near, err)
		}
		origin = &p
	}

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

	houses := dir.Records()
	if origin != nil {
		houses = dir.SortByDistance(*origin)
	}
	if availableOnly {
		filtered := houses[:0]
		for _, h := range houses {
			if h.IsAvailable() {
				filtered = append(filtered, h)
			}
		}
		houses = filtered
	}

	if isJSON() {
		if houses == nil {
			houses = []*house.Record{}
		}
		return printJSON(cmd.OutOrStdout(), houses)
	}

	return printHouseTable(cmd.OutOrStdout(), houses)
}

// parsePoint parses "lat,lng" in degrees.
func parsePoint(v string) (house.Point, error) {
	latStr, lngStr, ok := strings.Cut(v, ",")
	if !ok {
		return house.Point{}, errors.New("expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return house.Point{}, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil || lng < -180 || lng > 180 {
		return house.Point{}, errors.New("invalid longitude")
	}
	return house.Point{Lat: lat, Lng: lng}, nil
}
