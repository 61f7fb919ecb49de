package testutil

import (
	"testing"

	"dupscan/internal/dupscan"
	"dupscan/internal/store"
)

// TestService bundles a Service with the in-memory collaborators behind it.
type TestService struct {
	*dupscan.Service
	FS      *MockFilesystemManager
	Catalog dupscan.Catalog
	Store   *store.MemoryStore
	Clock   *StubClock
}

// NewTestService wires a Service to a mock filesystem, an in-memory catalog
// and store, a fixed clock and sequential IDs. Pass a nil encryptor for
// plaintext snapshots.
func NewTestService(t *testing.T, enc dupscan.Encryptor) *TestService {
	t.Helper()
	fsmgr := NewMockFilesystemManager()
	catalog := NewTestCatalog(t)
	st := NewTestStore()
	clock := FixedClock()
	svc := dupscan.NewService(catalog, st, fsmgr, enc, dupscan.NewNopLogger(), clock, NewStubIDGenerator())
	return &TestService{Service: svc, FS: fsmgr, Catalog: catalog, Store: st, Clock: clock}
}
