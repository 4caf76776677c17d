package house

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collection is the store-side name of the house collection.
const Collection = "transition_houses"

var (
	// ErrNotFound is returned when an update targets a record that does not exist.
	ErrNotFound = errors.New("house not found")
	// ErrStoreUnavailable is returned when the store cannot be reached.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// Store is the record store contract. Every call goes to the backing store;
// nothing is cached and nothing is retried.
type Store interface {
	// ListAll returns every record, ordered by city then program.
	ListAll(ctx context.Context) ([]*Record, error)
	// InsertOne creates one record with a store-assigned ID. No duplicate check.
	InsertOne(ctx context.Context, in Input) (*Record, error)
	// ResetAll deletes every record. It returns once the delete has completed.
	ResetAll(ctx context.Context) error
	// UpdateFields merges the non-nil fields into the record with the given ID.
	UpdateFields(ctx context.Context, id string, f FieldUpdate) error
}

const selectColumns = `id, city, program, organization, phone, toll_free_phone, text, email, website, type, note, availability, approx_lat, approx_lng, radius, last_updated`

// recordRow holds scan targets shared by the SQL adapters. The last_updated
// column is scanned by each adapter, since its storage type differs.
type recordRow struct {
	rec                                        Record
	phone, tollFree, text, email, website, typ sql.NullString
	note, lat, lng                             sql.NullString
	radius                                     sql.NullFloat64
}

func (rr *recordRow) dest(lastUpdated any) []any {
	return []any{
		&rr.rec.ID, &rr.rec.City, &rr.rec.Program, &rr.rec.Organization,
		&rr.phone, &rr.tollFree, &rr.text, &rr.email, &rr.website, &rr.typ,
		&rr.note, &rr.rec.Availability, &rr.lat, &rr.lng, &rr.radius,
		lastUpdated,
	}
}

func (rr *recordRow) record(lastUpdated *time.Time) *Record {
	r := rr.rec
	r.Phone = nullString(rr.phone)
	r.TollFreePhone = nullString(rr.tollFree)
	r.Text = nullString(rr.text)
	r.Email = nullString(rr.email)
	r.Website = nullString(rr.website)
	r.Type = nullString(rr.typ)
	r.Note = nullString(rr.note)
	r.ApproxLat = nullString(rr.lat)
	r.ApproxLng = nullString(rr.lng)
	if rr.radius.Valid {
		v := rr.radius.Float64
		r.Radius = &v
	}
	if lastUpdated != nil {
		t := lastUpdated.UTC()
		r.LastUpdated = &t
	}
	return &r
}

// insertArgs returns the column values of an input in insert order,
// with optional fields normalized so "" is stored as NULL.
func insertArgs(id string, in Input) []any {
	return []any{
		id, in.City, in.Program, in.Organization,
		normalize(in.Phone), normalize(in.TollFreePhone), normalize(in.Text),
		normalize(in.Email), normalize(in.Website), normalize(in.Type),
		normalize(in.Note), in.Availability,
		normalize(in.ApproxLat), normalize(in.ApproxLng), in.Radius,
	}
}

func recordFromInput(id string, in Input) *Record {
	r := &Record{
		ID:            id,
		City:          in.City,
		Program:       in.Program,
		Organization:  in.Organization,
		Phone:         normalize(in.Phone),
		TollFreePhone: normalize(in.TollFreePhone),
		Text:          normalize(in.Text),
		Email:         normalize(in.Email),
		Website:       normalize(in.Website),
		Type:          normalize(in.Type),
		Note:          normalize(in.Note),
		Availability:  in.Availability,
		ApproxLat:     normalize(in.ApproxLat),
		ApproxLng:     normalize(in.ApproxLng),
		Radius:        in.Radius,
	}
	if in.LastUpdated != nil {
		t := in.LastUpdated.UTC()
		r.LastUpdated = &t
	}
	return r
}

// setClauses builds the SET list of an UPDATE. placeholder renders the
// n-th bind parameter in the adapter's dialect.
func setClauses(f FieldUpdate, placeholder func(n int) string, ts func(time.Time) any) ([]string, []any) {
	var sets []string
	var args []any
	if f.Availability != nil {
		args = append(args, *f.Availability)
		sets = append(sets, "availability = "+placeholder(len(args)))
	}
	if f.LastUpdated != nil {
		args = append(args, ts(f.LastUpdated.UTC()))
		sets = append(sets, "last_updated = "+placeholder(len(args)))
	}
	return sets, args
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	return Optional(*s)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return Optional(ns.String)
}

// isContextErr reports whether err came from an expired or cancelled context.
func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// isConnErr reports connectivity failures common to database/sql drivers.
func isConnErr(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	// database/sql does not export the closed-pool error.
	return strings.Contains(err.Error(), "sql: database is closed")
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
