package house

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS transition_houses (
	id              TEXT        PRIMARY KEY,
	city            TEXT        NOT NULL DEFAULT '',
	program         TEXT        NOT NULL DEFAULT '',
	organization    TEXT        NOT NULL DEFAULT '',
	phone           TEXT,
	toll_free_phone TEXT,
	text            TEXT,
	email           TEXT,
	website         TEXT,
	type            TEXT,
	note            TEXT,
	availability    TEXT        NOT NULL DEFAULT '',
	last_updated    TIMESTAMPTZ,
	approx_lat      TEXT,
	approx_lng      TEXT,
	radius          DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DBTX is the subset of pgx used by PostgresStore. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by a hosted PostgreSQL database.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a PostgreSQL-backed record store.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens a pool for dsn and checks that the server answers.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("connecting to postgres", err)
	}

	return pool, nil
}

// EnsureSchema creates the house table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return s.wrap("creating schema", err)
	}
	return nil
}

// ListAll returns every record ordered by city, then program.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY city, program, id", selectColumns, Collection)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, s.wrap("listing houses", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rr recordRow
		var lastUpdated sql.NullTime
		if err := rows.Scan(rr.dest(&lastUpdated)...); err != nil {
			return nil, fmt.Errorf("scanning house: %w", err)
		}
		var ts *time.Time
		if lastUpdated.Valid {
			ts = &lastUpdated.Time
		}
		records = append(records, rr.record(ts))
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating houses", err)
	}

	return records, nil
}

// InsertOne adds a record under a new UUID and returns it.
func (s *PostgresStore) InsertOne(ctx context.Context, in Input) (*Record, error) {
	id := uuid.NewString()

	args := insertArgs(id, in)
	var lastUpdated *time.Time
	if in.LastUpdated != nil {
		t := in.LastUpdated.UTC()
		lastUpdated = &t
	}
	args = append(args, lastUpdated)

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		Collection, selectColumns, strings.Join(placeholders, ", "))
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return nil, s.wrap("inserting house", err)
	}

	return recordFromInput(id, in), nil
}

// ResetAll deletes every record.
func (s *PostgresStore) ResetAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM "+Collection); err != nil {
		return s.wrap("resetting houses", err)
	}
	return nil
}

// UpdateFields merges f into the record with the given ID.
func (s *PostgresStore) UpdateFields(ctx context.Context, id string, f FieldUpdate) error {
	sets, args := setClauses(f,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t },
	)

	var (
		tag pgconn.CommandTag
		err error
	)
	if len(sets) == 0 {
		tag, err = s.db.Exec(ctx, "SELECT 1 FROM "+Collection+" WHERE id = $1", id)
	} else {
		args = append(args, id)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
			Collection, strings.Join(sets, ", "), len(args))
		tag, err = s.db.Exec(ctx, query, args...)
	}
	if err != nil {
		return s.wrap("updating house", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("house %s: %w", id, ErrNotFound)
	}

	return nil
}

// wrap classifies connectivity failures as ErrStoreUnavailable.
func (s *PostgresStore) wrap(op string, err error) error {
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case isContextErr(err),
		errors.As(err, &connectErr),
		errors.As(err, &netErr),
		pgconn.SafeToRetry(err):
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
