package history

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func columnExists(t *testing.T, db *sql.DB, column string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('deliveries') WHERE name = ?`, column).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n == 1
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	if err := runMigrations(db, quietLogger()); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	v, err := currentVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Errorf("expected version %d, got %d", schemaVersion, v)
	}
	if !columnExists(t, db, "msg_id") || !columnExists(t, db, "latency_ms") {
		t.Error("expected v2 columns")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := runMigrations(db, quietLogger()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != len(migrations) {
		t.Errorf("expected %d version rows, got %d", len(migrations), rows)
	}
}

func TestRunMigrations_ColumnAlreadyPresent(t *testing.T) {
	db := testDB(t)
	// A pre-versioned database that already carries one of the v2 columns.
	if _, err := db.Exec(`
		CREATE TABLE deliveries (
			id TEXT PRIMARY KEY, kind TEXT NOT NULL, to_user TEXT, to_party TEXT, to_tag TEXT,
			attempts INTEGER NOT NULL DEFAULT 0, status TEXT NOT NULL, detail TEXT,
			created_at DATETIME NOT NULL, msg_id TEXT DEFAULT ''
		)`); err != nil {
		t.Fatal(err)
	}

	if err := runMigrations(db, quietLogger()); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	if !columnExists(t, db, "latency_ms") {
		t.Error("expected latency_ms to be added")
	}
	v, _ := currentVersion(db)
	if v != schemaVersion {
		t.Errorf("expected version %d, got %d", schemaVersion, v)
	}
}
