package dupscan

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by a SnapshotStore when a key does not exist.
var ErrNotFound = errors.New("not found")

// SnapshotStore persists encoded snapshot documents.
// Content is streamed through io.Reader/io.Writer so that large trees are
// not held in memory twice.
type SnapshotStore interface {
	// Put stores content under key, replacing any previous content.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the content stored under key to w.
	// Returns an error matching ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes the content stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
