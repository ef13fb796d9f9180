package testutil

import (
	"testing"

	"filegate/internal/database"
	"filegate/internal/database/migrations"
	"filegate/internal/gate"
)

// NewTestStore creates a new in-memory SQLite store migrated to the latest
// schema. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) gate.Store {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.Up(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(sqlDB)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
