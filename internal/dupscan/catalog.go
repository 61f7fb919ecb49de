package dupscan

import (
	"database/sql"
	"time"
)

// SnapshotInfo describes a saved snapshot.
type SnapshotInfo struct {
	ID              string
	Name            string
	RootPath        string
	CreatedAt       time.Time
	FileCount       int64
	AggregateSize   int64
	HasUnknownSizes bool
	Encrypted       bool
	StoreKey        string
}

// DuplicateSummary is the catalogued form of one duplicate group.
type DuplicateSummary struct {
	Digest      string
	Members     int64
	WastedBytes int64
}

// Operation statuses.
const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationError   = "error"
)

// Operation is one entry of the command history.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

// Catalog indexes saved snapshots, their duplicate summaries and the
// history of operations run against them.
type Catalog interface {
	// CreateSnapshot records a snapshot and its duplicate groups in one transaction.
	CreateSnapshot(info *SnapshotInfo, duplicates []DuplicateSummary) error

	// FindSnapshot returns the snapshot whose ID equals ref, or else the most
	// recent snapshot named ref. Returns nil, nil when nothing matches.
	FindSnapshot(ref string) (*SnapshotInfo, error)

	// ListSnapshots returns up to limit snapshots, newest first.
	ListSnapshots(limit int) ([]*SnapshotInfo, error)

	// ListDuplicateSummaries returns the duplicate groups of a snapshot,
	// largest waste first.
	ListDuplicateSummaries(snapshotID string) ([]DuplicateSummary, error)

	// DeleteSnapshot removes a snapshot and its duplicate groups.
	DeleteSnapshot(id string) error

	// CreateOperation records the start of an operation.
	CreateOperation(operation, parameters string, startedAt time.Time) (*Operation, error)

	// FinishOperation records the outcome of an operation.
	FinishOperation(id int64, status string, finishedAt time.Time) error

	// ListOperations returns up to limit operations, newest first.
	ListOperations(limit int) ([]*Operation, error)

	// BackupTo writes a consistent copy of the catalog database to path.
	BackupTo(path string) error

	// Close closes the underlying connection.
	Close() error
}
