package testutil

import (
	"testing"

	"dupscan/internal/database"
)

// NewTestCatalog creates an in-memory SQLite catalog with migrations applied.
// The catalog is closed when the test completes.
func NewTestCatalog(t *testing.T) *database.SQLiteCatalog {
	t.Helper()

	catalog, err := database.NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	if err := catalog.Migrate(); err != nil {
		catalog.Close()
		t.Fatalf("failed to migrate catalog: %v", err)
	}

	t.Cleanup(func() {
		catalog.Close()
	})
	return catalog
}
