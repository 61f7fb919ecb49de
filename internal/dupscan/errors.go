package dupscan

import (
	"errors"
	"fmt"
)

// Error kinds. Every per-entry failure produced by this package matches
// exactly one of these with errors.Is.
var (
	// ErrStat means the path exists but its metadata could not be read.
	ErrStat = errors.New("stat error")
	// ErrIO means the file could not be opened or read for hashing.
	ErrIO = errors.New("io error")
	// ErrMove means a relocation failed; the record is unchanged.
	ErrMove = errors.New("move error")
	// ErrDelete means a removal failed; the record is unchanged.
	ErrDelete = errors.New("delete error")
	// ErrFormat means a persisted tree is malformed.
	ErrFormat = errors.New("format error")
	// ErrCycle means the scan recursion guard tripped.
	ErrCycle = errors.New("cycle error")
)

var (
	// ErrDeleted is returned by operations on a record whose file was deleted.
	ErrDeleted = errors.New("record has been deleted")
	// ErrOwned is returned when inserting a node that already belongs to a tree.
	ErrOwned = errors.New("node already has an owner")
	// ErrExists is returned when a child name or move target is already taken.
	ErrExists = errors.New("entry already exists")
)

// EntryError describes a failure tied to a single filesystem entry.
// It matches both its Kind and its underlying cause with errors.Is.
type EntryError struct {
	Kind error  // one of ErrStat, ErrIO, ErrMove, ErrDelete, ErrFormat, ErrCycle
	Op   string // short verb, e.g. "stat", "hash", "move"
	Path string
	Err  error
}

func (e *EntryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s %s", e.Kind, e.Op, e.Path)
	}
	return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *EntryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func entryError(kind error, op, path string, err error) *EntryError {
	return &EntryError{Kind: kind, Op: op, Path: path, Err: err}
}

func formatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
