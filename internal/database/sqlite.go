package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dupscan/internal/database/migrations"
	"dupscan/internal/dupscan"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the Catalog interface using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens a catalog database.
// path can be a file path or ":memory:" for in-memory database.
// The schema is not migrated; call Migrate or CheckMigrations.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// PRAGMAs below only reach the first pooled connection; the DSN covers the rest.
		dsn = path + "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Snapshot operations

func (s *SQLiteCatalog) CreateSnapshot(info *dupscan.SnapshotInfo, duplicates []dupscan.DuplicateSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO snapshots
		(id, name, root_path, created_at, file_count, aggregate_size, has_unknown_sizes, encrypted, store_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.RootPath, info.CreatedAt.UTC(), info.FileCount, info.AggregateSize,
		info.HasUnknownSizes, info.Encrypted, info.StoreKey)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	for _, d := range duplicates {
		_, err := tx.Exec(`INSERT INTO duplicate_groups (snapshot_id, digest, members, wasted_bytes)
			VALUES (?, ?, ?, ?)`, info.ID, d.Digest, d.Members, d.WastedBytes)
		if err != nil {
			return fmt.Errorf("inserting duplicate group %s: %w", d.Digest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const snapshotColumns = `id, name, root_path, created_at, file_count, aggregate_size, has_unknown_sizes, encrypted, store_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*dupscan.SnapshotInfo, error) {
	var info dupscan.SnapshotInfo
	err := row.Scan(&info.ID, &info.Name, &info.RootPath, &info.CreatedAt, &info.FileCount,
		&info.AggregateSize, &info.HasUnknownSizes, &info.Encrypted, &info.StoreKey)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *SQLiteCatalog) FindSnapshot(ref string) (*dupscan.SnapshotInfo, error) {
	row := s.db.QueryRow(`SELECT `+snapshotColumns+` FROM snapshots
		WHERE id = ? OR name = ?
		ORDER BY id = ? DESC, created_at DESC
		LIMIT 1`, ref, ref, ref)
	info, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	return info, nil
}

func (s *SQLiteCatalog) ListSnapshots(limit int) ([]*dupscan.SnapshotInfo, error) {
	rows, err := s.db.Query(`SELECT `+snapshotColumns+` FROM snapshots
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []*dupscan.SnapshotInfo
	for rows.Next() {
		info, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return out, nil
}

func (s *SQLiteCatalog) ListDuplicateSummaries(snapshotID string) ([]dupscan.DuplicateSummary, error) {
	rows, err := s.db.Query(`SELECT digest, members, wasted_bytes FROM duplicate_groups
		WHERE snapshot_id = ? ORDER BY wasted_bytes DESC, digest`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("listing duplicate groups: %w", err)
	}
	defer rows.Close()

	var out []dupscan.DuplicateSummary
	for rows.Next() {
		var d dupscan.DuplicateSummary
		if err := rows.Scan(&d.Digest, &d.Members, &d.WastedBytes); err != nil {
			return nil, fmt.Errorf("scanning duplicate group: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing duplicate groups: %w", err)
	}
	return out, nil
}

func (s *SQLiteCatalog) DeleteSnapshot(id string) error {
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", id, dupscan.ErrNotFound)
	}
	return nil
}

// Operation history

func (s *SQLiteCatalog) CreateOperation(operation, parameters string, startedAt time.Time) (*dupscan.Operation, error) {
	res, err := s.db.Exec(`INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)`,
		operation, parameters, startedAt.UTC(), dupscan.OperationRunning)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &dupscan.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt.UTC(),
		Status:     dupscan.OperationRunning,
	}, nil
}

func (s *SQLiteCatalog) FinishOperation(id int64, status string, finishedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`, status, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %d: %w", id, dupscan.ErrNotFound)
	}
	return nil
}

func (s *SQLiteCatalog) ListOperations(limit int) ([]*dupscan.Operation, error) {
	rows, err := s.db.Query(`SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*dupscan.Operation
	for rows.Next() {
		var op dupscan.Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		out = append(out, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return out, nil
}

// Path returns the database file path given to NewSQLiteCatalog.
func (s *SQLiteCatalog) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations.
func (s *SQLiteCatalog) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteCatalog) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}

var _ dupscan.Catalog = (*SQLiteCatalog)(nil)
