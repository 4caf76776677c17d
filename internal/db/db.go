// Package db opens the local SQLite database that holds the house
// directory (when the sqlite driver is configured) and the staff API keys.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file kept next to the config file.
const FileName = "houses.db"

// PathBeside returns the database path for a config file, so moving the
// config with TH_CONFIG or --config moves the database too.
func PathBeside(configFile string) string {
	return filepath.Join(filepath.Dir(configFile), FileName)
}

// dsn builds the go-sqlite3 connection string. The driver applies these
// pragmas to every pooled connection, not just the first.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens or creates the database at path and brings its schema up to date.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	d, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	if err := d.Ping(); err != nil {
		return nil, closeOnError(d, fmt.Errorf("opening database %s: %w", path, err))
	}
	if err := migrate(d); err != nil {
		return nil, closeOnError(d, fmt.Errorf("migrating %s: %w", path, err))
	}

	return d, nil
}

func closeOnError(d *sql.DB, err error) error {
	if cerr := d.Close(); cerr != nil {
		return fmt.Errorf("%w (close: %v)", err, cerr)
	}
	return err
}
