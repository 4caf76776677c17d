package db

import (
	"database/sql"
	"fmt"
)

// schema holds one entry per schema version. Entry i takes a database from
// user_version i to i+1. Append only.
var schema = [][]string{
	{
		`CREATE TABLE transition_houses (
			id              TEXT     PRIMARY KEY,
			city            TEXT     NOT NULL DEFAULT '',
			program         TEXT     NOT NULL DEFAULT '',
			organization    TEXT     NOT NULL DEFAULT '',
			phone           TEXT,
			toll_free_phone TEXT,
			text            TEXT,
			email           TEXT,
			website         TEXT,
			type            TEXT,
			note            TEXT,
			availability    TEXT     NOT NULL DEFAULT '',
			last_updated    TEXT,
			approx_lat      TEXT,
			approx_lng      TEXT,
			radius          REAL,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_transition_houses_program ON transition_houses(program)`,
	},
	{
		`CREATE TABLE api_keys (
			id           INTEGER  PRIMARY KEY AUTOINCREMENT,
			name         TEXT     NOT NULL,
			email        TEXT     NOT NULL,
			key_prefix   TEXT     NOT NULL,
			key_hash     TEXT     NOT NULL UNIQUE,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME
		)`,
	},
	{
		`CREATE INDEX idx_transition_houses_city ON transition_houses(city, program)`,
	},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int { return len(schema) }

// migrate applies the versions the database has not seen yet. Each version
// runs in its own write transaction together with the user_version bump, and
// the version is re-read under that lock so concurrent openers do not apply
// a step twice.
func migrate(d *sql.DB) error {
	for {
		done, err := step(d)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// step applies the next pending schema version, reporting done when there
// is none.
func step(d *sql.DB) (done bool, err error) {
	tx, err := d.Begin()
	if err != nil {
		return false, fmt.Errorf("starting migration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var v int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return false, fmt.Errorf("reading schema version: %w", err)
	}
	if v > len(schema) {
		return false, fmt.Errorf("database schema version %d is newer than this build (%d)", v, len(schema))
	}
	if v == len(schema) {
		return true, tx.Commit()
	}

	for _, stmt := range schema[v] {
		if _, err := tx.Exec(stmt); err != nil {
			return false, fmt.Errorf("schema version %d: %w", v+1, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return false, fmt.Errorf("schema version %d: %w", v+1, err)
	}
	return false, tx.Commit()
}
