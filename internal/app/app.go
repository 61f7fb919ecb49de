package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dupscan/internal/config"
	"dupscan/internal/database"
	"dupscan/internal/dupscan"
	"dupscan/internal/encryption"
	"dupscan/internal/fs"
	"dupscan/internal/store"
)

// CatalogBackupKey is the store key the catalog is uploaded under after
// every catalog-mutating command.
const CatalogBackupKey = "catalog/" + database.CatalogFileName

// PassphraseFunc asks the user for the passphrase protecting the private key.
type PassphraseFunc func() (string, error)

// DupScanApp is the application layer between the CLI and dupscan.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the catalog lifecycle on Close.
type DupScanApp struct {
	cfg       *config.Config
	catalog   dupscan.Catalog
	store     dupscan.SnapshotStore
	fsmgr     dupscan.FilesystemManager
	encryptor dupscan.Encryptor
	service   *dupscan.Service
	clock     dupscan.Clock
	logger    dupscan.Logger
	op        *Operation
	logFile   *os.File
}

// NewDupScanApp creates a fully wired DupScanApp from the given config.
// operation identifies the CLI command being run (e.g. "Scan", "MoveFile").
// The caller must call Close when done.
func NewDupScanApp(ctx context.Context, cfg *config.Config, operation string) (*DupScanApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fsmgr := fs.NewOSFilesystemManager()

	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	catalog, err := database.NewCatalogFromConfig(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	if err := catalog.CheckMigrations(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("catalog schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	l, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	clock := dupscan.RealClock{}
	svc := dupscan.NewService(catalog, st, fsmgr, enc, logger, clock, dupscan.UUIDGenerator{})

	return &DupScanApp{
		cfg:       cfg,
		catalog:   catalog,
		store:     st,
		fsmgr:     fsmgr,
		encryptor: enc,
		service:   svc,
		clock:     clock,
		logger:    logger,
		op:        NewOperation(operation, ""),
		logFile:   logFile,
	}, nil
}

// persistOperation saves the operation to the catalog, giving it an auto-increment ID.
// This should only be called for catalog-mutating commands.
func (a *DupScanApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.catalog.CreateOperation(a.op.Operation, a.op.Parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// scanOptions merges the configured scan defaults with per-command overrides.
// Ignore patterns come from the config and from the root's ignore file.
func (a *DupScanApp) scanOptions(root string, hash bool, filters []string) (dupscan.ScanOptions, error) {
	sc := a.cfg.Scan
	patterns, err := fs.ParseIgnoreFile(filepath.Join(root, fs.IgnoreFileName))
	if err != nil {
		return dupscan.ScanOptions{}, err
	}
	return dupscan.ScanOptions{
		HashEagerly: sc.HashEagerly || hash,
		NameFilters: append(append([]string{}, sc.Filters...), filters...),
		Ignore:      fs.NewIgnoreMatcher(append(append([]string{}, sc.Ignore...), patterns...)),
		MaxDepth:    sc.MaxDepth,
		Workers:     sc.Workers,
		ChunkSize:   sc.ChunkSize,
	}, nil
}

// Scan builds a tree for the directory at rawPath. hash forces eager hashing
// and filters adds exact names to skip on top of the configured ones.
func (a *DupScanApp) Scan(ctx context.Context, rawPath string, hash bool, filters []string) (*dupscan.TreeNode, *dupscan.Report, error) {
	root, err := a.fsmgr.Abs(rawPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}
	opts, err := a.scanOptions(root, hash, filters)
	if err != nil {
		return nil, nil, err
	}
	return a.service.Scan(ctx, root, opts)
}

// FindDuplicates groups the records of tree by content.
func (a *DupScanApp) FindDuplicates(ctx context.Context, tree *dupscan.TreeNode) (dupscan.DuplicateSet, *dupscan.Report, error) {
	return a.service.FindDuplicates(ctx, tree, dupscan.FindOptions{
		Workers:   a.cfg.Scan.Workers,
		ChunkSize: a.cfg.Scan.ChunkSize,
	})
}

// SaveSnapshot stores tree under name and records it in the catalog along
// with the summary of dups, which may be nil.
func (a *DupScanApp) SaveSnapshot(ctx context.Context, tree *dupscan.TreeNode, name string, dups dupscan.DuplicateSet) (*dupscan.SnapshotInfo, error) {
	if err := a.persistOperation(name + " " + tree.RootPath()); err != nil {
		return nil, err
	}
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, a.op.Record(errors.New("encryption keys are not set up: run `dupscan keys init`"))
	}
	info, err := a.service.SaveSnapshot(ctx, tree, name, dups)
	return info, a.op.Record(err)
}

// ExportTree writes tree as a snapshot document to rawPath.
func (a *DupScanApp) ExportTree(tree *dupscan.TreeNode, rawPath string) error {
	p, err := a.fsmgr.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	return a.service.Codec().Save(tree, p)
}

// LoadTreeFile reads a snapshot document from rawPath.
func (a *DupScanApp) LoadTreeFile(rawPath string) (*dupscan.TreeNode, error) {
	p, err := a.fsmgr.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.Codec().Load(p)
}

// LoadSnapshot fetches a stored snapshot by ID or name. prompt is called only
// when the snapshot is encrypted.
func (a *DupScanApp) LoadSnapshot(ctx context.Context, ref string, prompt PassphraseFunc) (*dupscan.TreeNode, *dupscan.SnapshotInfo, error) {
	info, err := a.service.FindSnapshot(ref)
	if err != nil {
		return nil, nil, err
	}

	var dec dupscan.DecryptionContext
	if info.Encrypted {
		if a.encryptor == nil {
			return nil, nil, fmt.Errorf("snapshot %s is encrypted but encryption is not configured", info.ID)
		}
		if prompt == nil {
			return nil, nil, fmt.Errorf("snapshot %s is encrypted: passphrase required", info.ID)
		}
		passphrase, err := prompt()
		if err != nil {
			return nil, nil, fmt.Errorf("reading passphrase: %w", err)
		}
		if dec, err = a.encryptor.Unlock(passphrase); err != nil {
			return nil, nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}
	return a.service.LoadSnapshot(ctx, info.ID, dec)
}

// ResolveTree turns a command argument into a tree: a directory is scanned,
// a regular file is read as a snapshot document, and anything else is looked
// up as a stored snapshot reference. The report is nil unless a scan ran.
func (a *DupScanApp) ResolveTree(ctx context.Context, arg string, prompt PassphraseFunc) (*dupscan.TreeNode, *dupscan.Report, error) {
	if p, err := a.fsmgr.Abs(arg); err == nil {
		if info, err := a.fsmgr.Stat(p); err == nil {
			if info.IsDir() {
				return a.Scan(ctx, p, false, nil)
			}
			tree, err := a.service.Codec().Load(p)
			return tree, nil, err
		}
	}
	tree, _, err := a.LoadSnapshot(ctx, arg, prompt)
	return tree, nil, err
}

// Compare resolves both arguments with ResolveTree and diffs them.
func (a *DupScanApp) Compare(ctx context.Context, left, right string, prompt PassphraseFunc) (*dupscan.Comparison, error) {
	ta, _, err := a.ResolveTree(ctx, left, prompt)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", left, err)
	}
	tb, _, err := a.ResolveTree(ctx, right, prompt)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", right, err)
	}
	return dupscan.CompareTrees(ta, tb), nil
}

// ListSnapshots returns the most recent snapshots.
func (a *DupScanApp) ListSnapshots(limit int) ([]*dupscan.SnapshotInfo, error) {
	return a.service.ListSnapshots(limit)
}

// SnapshotDuplicates returns the catalogued duplicate groups of a snapshot.
func (a *DupScanApp) SnapshotDuplicates(ref string) ([]dupscan.DuplicateSummary, error) {
	return a.service.DuplicateSummaries(ref)
}

// DeleteSnapshot removes a snapshot from the catalog and the store.
func (a *DupScanApp) DeleteSnapshot(ctx context.Context, ref string) error {
	if err := a.persistOperation(ref); err != nil {
		return err
	}
	return a.op.Record(a.service.DeleteSnapshot(ctx, ref))
}

// History returns the most recent operations.
func (a *DupScanApp) History(limit int) ([]*dupscan.Operation, error) {
	return a.service.History(limit)
}

// TagFile adds or removes tag on the node at nodePath inside the snapshot
// document at docPath and writes the document back. An empty nodePath means
// the document root; a relative one is taken from the root. It returns the
// number of records that changed, with a notice on the report when nothing did.
func (a *DupScanApp) TagFile(docPath, nodePath, tag string, recursive, remove bool) (int, *dupscan.Report, error) {
	if strings.TrimSpace(tag) == "" {
		return 0, nil, errors.New("tag must not be empty")
	}
	tree, err := a.LoadTreeFile(docPath)
	if err != nil {
		return 0, nil, err
	}

	target := tree.RootPath()
	if nodePath != "" {
		target = nodePath
		if !filepath.IsAbs(target) {
			target = filepath.Join(tree.RootPath(), target)
		}
	}

	report := dupscan.NewReport()
	n, err := a.service.Tag(tree, target, tag, recursive, remove, report)
	if err != nil {
		return 0, report, err
	}
	if n == 0 {
		return 0, report, nil
	}
	if err := a.ExportTree(tree, docPath); err != nil {
		return 0, report, fmt.Errorf("writing %s: %w", docPath, err)
	}
	return n, report, nil
}

// MoveFile moves the file at rawPath into dir and returns its new path.
func (a *DupScanApp) MoveFile(rawPath, dir string) (string, error) {
	if err := a.persistOperation(rawPath + " -> " + dir); err != nil {
		return "", err
	}
	rec, _, err := a.service.ResolveRecord(rawPath)
	if err != nil {
		return "", a.op.Record(err)
	}
	if err := a.service.MoveRecord(rec, dir); err != nil {
		return "", a.op.Record(err)
	}
	return rec.Path(), nil
}

// DeleteFile removes the file at rawPath.
func (a *DupScanApp) DeleteFile(rawPath string) error {
	if err := a.persistOperation(rawPath); err != nil {
		return err
	}
	rec, _, err := a.service.ResolveRecord(rawPath)
	if err != nil {
		return a.op.Record(err)
	}
	return a.op.Record(a.service.DeleteRecord(rec))
}

// RescanFile reads the current metadata of the file at rawPath, hashing it
// when hash is set.
func (a *DupScanApp) RescanFile(ctx context.Context, rawPath string, hash bool) (*dupscan.FileRecord, *dupscan.Report, error) {
	rec, report, err := a.service.ResolveRecord(rawPath)
	if err != nil {
		return nil, report, err
	}
	if hash {
		if err := a.service.RescanRecord(ctx, rec, true); err != nil {
			return nil, report, err
		}
	}
	return rec, report, nil
}

// SetupKeys generates the encryption key pair protected by passphrase.
func (a *DupScanApp) SetupKeys(passphrase string) error {
	if a.encryptor == nil {
		return errors.New("encryption is disabled: set encryption.type in the config first")
	}
	return a.encryptor.Setup(passphrase)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, backs up the
// catalog and uploads the copy to the store.
// For non-persisted operations: just closes the catalog.
func (a *DupScanApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		if err := a.catalog.FinishOperation(a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}

		var tmpPath string
		tmpFile, err := os.CreateTemp("", "dupscan-catalog-backup-*.db")
		if err != nil {
			keep(fmt.Errorf("creating temp file for catalog backup: %w", err))
		} else {
			tmpPath = tmpFile.Name()
			tmpFile.Close()

			if err := a.catalog.BackupTo(tmpPath); err != nil {
				keep(fmt.Errorf("backing up catalog: %w", err))
				os.Remove(tmpPath)
				tmpPath = ""
			}
		}

		if err := a.catalog.Close(); err != nil {
			keep(fmt.Errorf("closing catalog: %w", err))
		}

		if tmpPath != "" {
			if err := a.uploadCatalog(tmpPath); err != nil {
				keep(err)
			}
			os.Remove(tmpPath)
		}
	} else if err := a.catalog.Close(); err != nil {
		keep(fmt.Errorf("closing catalog: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// uploadCatalog opens the catalog copy at path and puts it in the store.
func (a *DupScanApp) uploadCatalog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening catalog backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat catalog backup: %w", err)
	}

	if err := a.store.Put(context.Background(), CatalogBackupKey, f, info.Size()); err != nil {
		return fmt.Errorf("uploading catalog backup: %w", err)
	}
	a.logger.Debug("catalog uploaded", "key", CatalogBackupKey, "bytes", info.Size())
	return nil
}
