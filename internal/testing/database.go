package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dark4eg/Common-Metadata-Repository/db"
)

// CreateTestDB creates an in-memory SQLite test database with all catalog
// migrations applied. Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// An in-memory database exists per connection; pin the pool to one
	conn.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// CreateSharedTestDB creates a file-backed test database so that two
// independent connections see the same data, the way two service instances
// share one catalog. Returns the database path.
func CreateSharedTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	path := t.TempDir() + "/catalog.sqlite"
	conn, err := db.Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to open shared test database: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate shared test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn, path
}
