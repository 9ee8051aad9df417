package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a SQLite write pool in t.TempDir() and registers
// cleanup.
func OpenTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite"), ModeWrite, 0)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenTestDuckDB opens an in-memory DuckDB database and registers cleanup.
func OpenTestDuckDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenDuckDB("")
	if err != nil {
		t.Fatalf("open test duckdb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
