package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/thatapp/transition-houses/internal/house"
)

// Columns recognized in the sheet header. Any other column is ignored.
const (
	colCity          = "city"
	colProgram       = "program"
	colOrganization  = "organization"
	colPhone         = "phone"
	colTollFreePhone = "toll_free_phone"
	colText          = "text"
	colEmail         = "email"
	colWebsite       = "website"
	colType          = "type"
	colNote          = "note"
	colAvailability  = "availability"
	colApproxLat     = "approx_lat"
	colApproxLng     = "approx_lng"
	colRadius        = "radius"
)

// ErrNoHeader is returned when the fetched document has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// ParseError describes one row that could not be parsed. It is counted as
// a failed row and does not abort the import.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing row at line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// parsed is the outcome of parsing one document.
type parsed struct {
	rows   []house.Input
	errors []*ParseError
}

// parseCSV reads data with the first row as header. Rows with a CSV syntax
// error or an unusable radius are reported in errors and skipped.
func parseCSV(data []byte) (*parsed, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[key]; !dup && key != "" {
			index[key] = i
		}
	}

	out := &parsed{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				out.errors = append(out.errors, &ParseError{Line: pe.StartLine, Err: pe.Err})
				continue
			}
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		if blank(record) {
			continue
		}

		line, _ := r.FieldPos(0)
		in, err := rowInput(index, record)
		if err != nil {
			out.errors = append(out.errors, &ParseError{Line: line, Err: err})
			continue
		}
		out.rows = append(out.rows, in)
	}

	return out, nil
}

func rowInput(index map[string]int, record []string) (house.Input, error) {
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	in := house.Input{
		City:          get(colCity),
		Program:       get(colProgram),
		Organization:  get(colOrganization),
		Phone:         house.Optional(get(colPhone)),
		TollFreePhone: house.Optional(get(colTollFreePhone)),
		Text:          house.Optional(get(colText)),
		Email:         house.Optional(get(colEmail)),
		Website:       house.Optional(get(colWebsite)),
		Type:          house.Optional(get(colType)),
		Note:          house.Optional(get(colNote)),
		Availability:  get(colAvailability),
		ApproxLat:     house.Optional(get(colApproxLat)),
		ApproxLng:     house.Optional(get(colApproxLng)),
	}

	if s := get(colRadius); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return house.Input{}, fmt.Errorf("radius %q: %w", s, err)
		}
		in.Radius = &v
	}

	return in, nil
}

// blank reports whether every field of a row is empty, as a trailing line
// of a spreadsheet export often is.
func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
