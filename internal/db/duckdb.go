package db

import (
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
)

// OpenDuckDB opens a DuckDB database. An empty path or ":memory:" opens an
// in-memory database; its pool is pinned to one connection so every
// statement sees the same catalog.
func OpenDuckDB(path string) (*sql.DB, error) {
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}
	if err := ping(db, "duckdb", "default"); err != nil {
		return nil, err
	}
	return db, nil
}

// Open opens the database for a dialect name. PostgreSQL goes through the
// pgx stdlib driver.
func Open(dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case "sqlite":
		if dsn == "" || dsn == ":memory:" {
			// A shared in-memory database must keep its single connection alive.
			db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
			if err != nil {
				return nil, fmt.Errorf("open sqlite (memory): %w", err)
			}
			db.SetMaxOpenConns(1)
			db.SetConnMaxLifetime(0)
			if err := ping(db, "sqlite", "memory"); err != nil {
				return nil, err
			}
			return db, nil
		}
		return OpenSQLite(dsn, ModeWrite, 0)
	case "duckdb":
		return OpenDuckDB(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}

// OpenReader opens the database for commands that only read. A SQLite file
// gets a multi-connection read pool; every other source is opened as Open
// does.
func OpenReader(dialect, dsn string) (*sql.DB, error) {
	if dialect == "sqlite" && dsn != "" && dsn != ":memory:" {
		return OpenSQLite(dsn, ModeRead, 0)
	}
	return Open(dialect, dsn)
}
