package database

import (
	"fmt"
	"os"
	"path/filepath"

	"filegate/internal/config"
	"filegate/internal/database/migrations"
	"filegate/internal/gate"
)

// NewStoreFromConfig creates a gate.Store based on the database config type
// and migrates it to the latest schema.
func NewStoreFromConfig(cfg config.DatabaseConfig) (gate.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return open(filepath.Join(cfg.DataDir, "filegate.db"))
	case "memory":
		return open(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func open(path string) (gate.Store, error) {
	store, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(store.db); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return store, nil
}
