package dupscan

import (
	"io"
	"io/fs"
	"time"
)

// StatData holds the platform-specific metadata that fs.FileInfo does not expose.
type StatData struct {
	AccessedAt time.Time
	ChangedAt  time.Time
	// Identity uniquely names the underlying inode (device + inode number on Unix).
	// The scanner uses it to detect directory cycles.
	Identity string
}

// FilesystemManager provides an interface for filesystem operations.
// It abstracts file access to enable testing without touching the real filesystem.
// All paths are absolute.
type FilesystemManager interface {
	// Abs resolves a raw, possibly relative path to a clean absolute path.
	Abs(rawPath string) (string, error)

	// Stat returns file info, following symbolic links.
	Stat(path string) (fs.FileInfo, error)

	// Lstat returns file info without following symbolic links.
	Lstat(path string) (fs.FileInfo, error)

	// ExtractStatData extracts access time, change time and identity from info.
	ExtractStatData(info fs.FileInfo) (*StatData, error)

	// ReadDir returns the names of the entries in a directory, sorted.
	ReadDir(path string) ([]string, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Move relocates src to dst. dst must not exist. The move is all-or-nothing.
	Move(src, dst string) error

	// Remove deletes a single file.
	Remove(path string) error

	// WriteFile atomically replaces path with the content read from r.
	WriteFile(path string, r io.Reader) error
}
