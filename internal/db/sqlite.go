// Package db opens the database pools the filter engine executes against.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Mode selects the pool layout of a SQLite database.
type Mode string

const (
	// ModeWrite opens a single-connection pool that takes write locks up front.
	ModeWrite Mode = "write"
	// ModeRead opens a multi-connection pool for concurrent readers.
	ModeRead Mode = "read"
)

// SQLite DSN parameters.
const (
	defaultBusyTimeout = "5000" // 5 seconds
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
)

// OpenSQLite opens a *sql.DB pool for the SQLite file at path. A write pool
// has one connection; a read pool has maxOpen connections (0 means 4).
func OpenSQLite(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	if err := ping(db, "sqlite", string(mode)); err != nil {
		return nil, err
	}
	return db, nil
}

// buildDSN appends the journal, timeout and locking parameters to path.
func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}

func ping(db *sql.DB, driver, label string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s (%s): %w", driver, label, err)
	}
	return nil
}
