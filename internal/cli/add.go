package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/house"
)

type addFlags struct {
	city, program, organization  string
	phone, tollFree, text, email string
	website, typ, note, avail    string
	lat, lng                     string
	radius                       float64
}

func newAddCmd() *cobra.Command {
	var f addFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a house",
		Long:  "Add one house to the directory. No duplicate check is made, and the next import replaces it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.city, "city", "", "city")
	cmd.Flags().StringVar(&f.program, "program", "", "program name (required)")
	cmd.Flags().StringVar(&f.organization, "organization", "", "operating organization")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&f.tollFree, "toll-free", "", "toll-free phone number")
	cmd.Flags().StringVar(&f.text, "text", "", "text message number")
	cmd.Flags().StringVar(&f.email, "email", "", "contact email")
	cmd.Flags().StringVar(&f.website, "website", "", "website")
	cmd.Flags().StringVar(&f.typ, "type", "", "program type")
	cmd.Flags().StringVar(&f.note, "note", "", "note")
	cmd.Flags().StringVar(&f.avail, "availability", "", "Available or Unavailable")
	cmd.Flags().StringVar(&f.lat, "lat", "", "approximate latitude")
	cmd.Flags().StringVar(&f.lng, "lng", "", "approximate longitude")
	cmd.Flags().Float64Var(&f.radius, "radius", 0, "map radius in meters (default 1500)")

	return cmd
}

func runAdd(cmd *cobra.Command, f addFlags) error {
	if strings.TrimSpace(f.program) == "" {
		return fmt.Errorf("--program is required")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	in := house.Input{
		City:          strings.TrimSpace(f.city),
		Program:       strings.TrimSpace(f.program),
		Organization:  strings.TrimSpace(f.organization),
		Phone:         house.Optional(f.phone),
		TollFreePhone: house.Optional(f.tollFree),
		Text:          house.Optional(f.text),
		Email:         house.Optional(f.email),
		Website:       house.Optional(f.website),
		Type:          house.Optional(f.typ),
		Note:          house.Optional(f.note),
		Availability:  strings.TrimSpace(f.avail),
		ApproxLat:     house.Optional(f.lat),
		ApproxLng:     house.Optional(f.lng),
	}
	if f.radius > 0 {
		in.Radius = &f.radius
	}

	h, err := a.store.InsertOne(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("adding house: %w", err)
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), h)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "House added.")
	printHouseDetail(cmd.OutOrStdout(), h)
	return nil
}
