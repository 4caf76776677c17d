package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/thatapp/transition-houses/internal/auth"
	"github.com/thatapp/transition-houses/internal/house"
)

const shortIDLen = 8

// printJSON marshals v as indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printHouseTable prints houses as a formatted table.
func printHouseTable(out io.Writer, houses []*house.Record) error {
	if len(houses) == 0 {
		fmt.Fprintln(out, "No houses found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tCITY\tPROGRAM\tSTATUS\tUPDATED\tPHONE"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	if _, err := fmt.Fprintln(w, "--\t----\t-------\t------\t-------\t-----"); err != nil {
		return fmt.Errorf("writing table separator: %w", err)
	}

	for _, h := range houses {
		phone, ok := h.ContactPhone()
		if !ok {
			phone = "-"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(h.ID), truncate(h.City, 20), truncate(h.Program, 40),
			h.Status(), formatUpdated(h.LastUpdated), phone); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}

	fmt.Fprintf(out, "\nTotal: %d houses\n", len(houses))
	return nil
}

// printHouseDetail prints every field of a house that has a value.
func printHouseDetail(w io.Writer, h *house.Record) {
	fmt.Fprintf(w, "%s\n", h.Program)
	fmt.Fprintf(w, "  ID:            %s\n", h.ID)
	fmt.Fprintf(w, "  City:          %s\n", h.City)
	if h.Organization != "" {
		fmt.Fprintf(w, "  Organization:  %s\n", h.Organization)
	}
	fmt.Fprintf(w, "  Status:        %s\n", h.Status())
	fmt.Fprintf(w, "  Last updated:  %s\n", formatUpdated(h.LastUpdated))

	optional := []struct {
		label string
		value *string
	}{
		{"Phone", h.Phone},
		{"Toll-free", h.TollFreePhone},
		{"Text", h.Text},
		{"Email", h.Email},
		{"Website", h.Website},
		{"Type", h.Type},
		{"Note", h.Note},
	}
	for _, f := range optional {
		if f.value != nil {
			fmt.Fprintf(w, "  %-14s %s\n", f.label+":", *f.value)
		}
	}

	if p, ok := h.Location(); ok {
		fmt.Fprintf(w, "  Location:      %.4f, %.4f (within %gm)\n", p.Lat, p.Lng, h.RadiusMeters())
	}
	if u, ok := h.DirectionsURL(); ok {
		fmt.Fprintf(w, "  Directions:    %s\n", u)
	}
}

// printKeyTable prints API keys without their secrets.
func printKeyTable(out io.Writer, keys []auth.APIKey) error {
	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tNAME\tOWNER\tPREFIX\tCREATED\tLAST USED"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, truncate(k.Name, 30), k.Email, k.KeyPrefix,
			k.CreatedAt.Local().Format("2006-01-02"), formatUpdated(k.LastUsedAt)); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}
	return nil
}

// formatUpdated renders an optional timestamp in local time.
func formatUpdated(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// confirmPrompt asks a yes/no question on w and reads the answer from r.
// Anything but y or yes is a no.
func confirmPrompt(w io.Writer, r io.Reader, question string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N] ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
