package testutil

import (
	"dupscan/internal/encryption"
	"dupscan/internal/store"
)

// NewTestEncryptor creates a deterministic encryptor for testing.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}

// NewTestStore creates an empty in-memory snapshot store for testing.
func NewTestStore() *store.MemoryStore {
	return store.NewMemoryStore()
}
