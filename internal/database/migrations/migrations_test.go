package migrations_test

import (
	"database/sql"
	"testing"

	"filegate/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUp(t *testing.T) {
	t.Run("applies schema to empty database", func(t *testing.T) {
		db := openMemoryDB(t)

		if err := migrations.Up(db); err != nil {
			t.Fatalf("Up() error = %v", err)
		}

		for _, table := range []string{"users", "entitlements", "join_requests", "daily_counters"} {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("table %s missing after migration: %v", table, err)
			}
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := openMemoryDB(t)

		if err := migrations.Up(db); err != nil {
			t.Fatalf("first Up() error = %v", err)
		}
		if err := migrations.Up(db); err != nil {
			t.Fatalf("second Up() error = %v", err)
		}
	})
}

func TestStatus(t *testing.T) {
	t.Run("fails on unmigrated database", func(t *testing.T) {
		db := openMemoryDB(t)

		if err := migrations.Status(db); err == nil {
			t.Error("Status() expected error for unmigrated database")
		}
	})

	t.Run("passes after migration", func(t *testing.T) {
		db := openMemoryDB(t)

		if err := migrations.Up(db); err != nil {
			t.Fatalf("Up() error = %v", err)
		}
		if err := migrations.Status(db); err != nil {
			t.Errorf("Status() error = %v", err)
		}
	})
}
