package house

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// timestampLayouts are accepted when reading last_updated. Rows written by
// this adapter use the first; the others cover hand-edited or legacy rows.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// SQLiteStore is a Store backed by the transition_houses table of a SQLite
// database opened with db.Open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed record store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ListAll returns every record ordered by city, then program.
func (s *SQLiteStore) ListAll(ctx context.Context) (records []*Record, err error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY city, program, id", selectColumns, Collection)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.wrap("listing houses", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning house: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating houses", err)
	}

	return records, nil
}

// InsertOne adds a record under a new UUID and returns it.
func (s *SQLiteStore) InsertOne(ctx context.Context, in Input) (*Record, error) {
	id := uuid.NewString()

	args := insertArgs(id, in)
	var lastUpdated any
	if in.LastUpdated != nil {
		lastUpdated = formatTimestamp(*in.LastUpdated)
	}
	args = append(args, lastUpdated)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		Collection, selectColumns)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, s.wrap("inserting house", err)
	}

	return recordFromInput(id, in), nil
}

// ResetAll deletes every record.
func (s *SQLiteStore) ResetAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+Collection); err != nil {
		return s.wrap("resetting houses", err)
	}
	return nil
}

// UpdateFields merges f into the record with the given ID.
func (s *SQLiteStore) UpdateFields(ctx context.Context, id string, f FieldUpdate) error {
	sets, args := setClauses(f,
		func(int) string { return "?" },
		func(t time.Time) any { return formatTimestamp(t) },
	)
	if len(sets) == 0 {
		return s.exists(ctx, id)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", Collection, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return s.wrap("updating house", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("house %s: %w", id, ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) exists(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+Collection+" WHERE id = ?", id).Scan(&n)
	if err != nil {
		return s.wrap("checking house", err)
	}
	if n == 0 {
		return fmt.Errorf("house %s: %w", id, ErrNotFound)
	}
	return nil
}

// wrap classifies connectivity failures as ErrStoreUnavailable.
func (s *SQLiteStore) wrap(op string, err error) error {
	if isContextErr(err) || isConnErr(err) {
		return unavailable(op, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return unavailable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanSQLite(row interface{ Scan(...any) error }) (*Record, error) {
	var rr recordRow
	var lastUpdated sql.NullString
	if err := row.Scan(rr.dest(&lastUpdated)...); err != nil {
		return nil, err
	}
	var ts *time.Time
	if lastUpdated.Valid {
		ts = parseTimestamp(lastUpdated.String)
	}
	return rr.record(ts), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp normalizes a stored timestamp. Unparseable values read as
// unknown rather than failing the whole listing.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
