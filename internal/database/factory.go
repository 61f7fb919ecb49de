package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dupscan/internal/config"
)

// CatalogFileName is the sqlite file created under the catalog data_dir.
const CatalogFileName = "catalog.db"

// NewCatalogFromConfig creates a catalog based on the catalog config type.
// A "memory" catalog is migrated immediately; a "sqlite" catalog must be
// migrated by `config init` and is checked by the caller.
func NewCatalogFromConfig(cfg config.CatalogConfig) (*SQLiteCatalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteCatalog(filepath.Join(cfg.DataDir, CatalogFileName))
	case "memory":
		c, err := NewSQLiteCatalog(":memory:")
		if err != nil {
			return nil, err
		}
		if err := c.Migrate(); err != nil {
			c.Close()
			return nil, fmt.Errorf("migrating memory catalog: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}
