package store

import (
	"context"
	"fmt"

	"dupscan/internal/config"
	"dupscan/internal/dupscan"
)

// NewStoreFromConfig creates a SnapshotStore based on the store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (dupscan.SnapshotStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		s, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		s, err := NewFileSystemStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
