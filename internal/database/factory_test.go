package database

import (
	"testing"

	"dupscan/internal/config"
)

func TestNewCatalogFromConfig(t *testing.T) {
	t.Run("memory catalog is migrated", func(t *testing.T) {
		got, err := NewCatalogFromConfig(config.CatalogConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite catalog", func(t *testing.T) {
		cfg := config.CatalogConfig{Type: "sqlite", DataDir: t.TempDir()}
		got, err := NewCatalogFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Path() == "" {
			t.Error("Path() is empty for sqlite catalog")
		}
	})

	t.Run("sqlite catalog without data_dir", func(t *testing.T) {
		got, err := NewCatalogFromConfig(config.CatalogConfig{Type: "sqlite"})
		if err == nil {
			t.Error("NewCatalogFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewCatalogFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewCatalogFromConfig(config.CatalogConfig{Type: "postgres"}); err == nil {
			t.Error("NewCatalogFromConfig() expected error for unknown type")
		}
	})
}
