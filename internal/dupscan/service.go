package dupscan

import (
	"bytes"
	"context"
	"fmt"
)

// Service is the orchestration layer that coordinates scanning, duplicate
// search and snapshot persistence for the CLI.
type Service struct {
	catalog   Catalog
	store     SnapshotStore
	fsmgr     FilesystemManager
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator

	scanner *Scanner
	finder  *DuplicateFinder
	codec   *Codec
}

// NewService creates a Service with the provided dependencies.
// encryptor may be nil, in which case snapshots are stored in plaintext.
func NewService(catalog Catalog, store SnapshotStore, fsmgr FilesystemManager, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		catalog:   catalog,
		store:     store,
		fsmgr:     fsmgr,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		scanner:   NewScanner(fsmgr, logger),
		finder:    NewDuplicateFinder(logger),
		codec:     NewCodec(fsmgr),
	}
}

// Codec returns the codec bound to this service's filesystem manager.
func (s *Service) Codec() *Codec { return s.codec }

// Scan builds a tree for the directory at rawPath.
func (s *Service) Scan(ctx context.Context, rawPath string, opts ScanOptions) (*TreeNode, *Report, error) {
	return s.scanner.Scan(ctx, rawPath, opts)
}

// FindDuplicates groups the records of tree by content, hashing as needed.
func (s *Service) FindDuplicates(ctx context.Context, tree *TreeNode, opts FindOptions) (DuplicateSet, *Report, error) {
	return s.finder.Find(ctx, tree, opts)
}

// SaveSnapshot encodes tree, encrypts it if an encryptor is configured,
// uploads it to the store and records it in the catalog together with the
// summary of dups (which may be nil).
func (s *Service) SaveSnapshot(ctx context.Context, tree *TreeNode, name string, dups DuplicateSet) (*SnapshotInfo, error) {
	id := s.idgen.New()
	key := "snapshots/" + id + ".json"

	buf := &bytes.Buffer{}
	if err := s.codec.Encode(buf, tree); err != nil {
		return nil, err
	}

	encrypted := s.encryptor != nil
	if encrypted {
		ciphertext := &bytes.Buffer{}
		if err := s.encryptor.Encrypt(buf, ciphertext); err != nil {
			return nil, fmt.Errorf("encrypting snapshot: %w", err)
		}
		buf = ciphertext
		key += ".age"
	}

	size := int64(buf.Len())
	if err := s.store.Put(ctx, key, buf, size); err != nil {
		return nil, fmt.Errorf("storing snapshot: %w", err)
	}

	records := tree.Records()
	info := &SnapshotInfo{
		ID:              id,
		Name:            name,
		RootPath:        tree.RootPath(),
		CreatedAt:       s.clock.Now(),
		FileCount:       int64(len(records)),
		AggregateSize:   tree.AggregateSize(),
		HasUnknownSizes: tree.HasUnknownSizes(),
		Encrypted:       encrypted,
		StoreKey:        key,
	}
	if err := s.catalog.CreateSnapshot(info, summarize(dups)); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("removing orphaned snapshot", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("cataloguing snapshot: %w", err)
	}

	s.logger.Info("snapshot saved", "id", id, "name", name, "root", info.RootPath,
		"files", info.FileCount, "bytes", size, "encrypted", encrypted)
	return info, nil
}

func summarize(dups DuplicateSet) []DuplicateSummary {
	out := make([]DuplicateSummary, 0, len(dups))
	for _, d := range dups.Digests() {
		group := dups[d]
		out = append(out, DuplicateSummary{
			Digest:      d.String(),
			Members:     int64(len(group)),
			WastedBytes: GroupWaste(group),
		})
	}
	return out
}

// LoadSnapshot fetches and decodes the snapshot identified by ref (an ID or a
// name). dec is required only for encrypted snapshots.
func (s *Service) LoadSnapshot(ctx context.Context, ref string, dec DecryptionContext) (*TreeNode, *SnapshotInfo, error) {
	info, err := s.findSnapshot(ref)
	if err != nil {
		return nil, nil, err
	}

	buf := &bytes.Buffer{}
	if err := s.store.Get(ctx, info.StoreKey, buf); err != nil {
		return nil, nil, fmt.Errorf("fetching snapshot: %w", err)
	}

	if info.Encrypted {
		if dec == nil {
			return nil, nil, fmt.Errorf("snapshot %s is encrypted: unlock required", info.ID)
		}
		plaintext := &bytes.Buffer{}
		if err := dec.Decrypt(buf, plaintext); err != nil {
			return nil, nil, fmt.Errorf("decrypting snapshot: %w", err)
		}
		buf = plaintext
	}

	tree, err := s.codec.Decode(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding snapshot %s: %w", info.ID, err)
	}
	s.logger.Debug("snapshot loaded", "id", info.ID, "root", tree.RootPath())
	return tree, info, nil
}

// FindSnapshot resolves an ID or name to its catalog entry.
func (s *Service) FindSnapshot(ref string) (*SnapshotInfo, error) {
	return s.findSnapshot(ref)
}

func (s *Service) findSnapshot(ref string) (*SnapshotInfo, error) {
	info, err := s.catalog.FindSnapshot(ref)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("snapshot %q: %w", ref, ErrNotFound)
	}
	return info, nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (s *Service) ListSnapshots(limit int) ([]*SnapshotInfo, error) {
	snaps, err := s.catalog.ListSnapshots(limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return snaps, nil
}

// DuplicateSummaries returns the catalogued duplicate groups of a snapshot.
func (s *Service) DuplicateSummaries(ref string) ([]DuplicateSummary, error) {
	info, err := s.findSnapshot(ref)
	if err != nil {
		return nil, err
	}
	sums, err := s.catalog.ListDuplicateSummaries(info.ID)
	if err != nil {
		return nil, fmt.Errorf("listing duplicate groups: %w", err)
	}
	return sums, nil
}

// DeleteSnapshot removes a snapshot from the catalog and the store.
func (s *Service) DeleteSnapshot(ctx context.Context, ref string) error {
	info, err := s.findSnapshot(ref)
	if err != nil {
		return err
	}
	if err := s.catalog.DeleteSnapshot(info.ID); err != nil {
		return fmt.Errorf("deleting catalog entry: %w", err)
	}
	if err := s.store.Delete(ctx, info.StoreKey); err != nil {
		return fmt.Errorf("deleting stored snapshot: %w", err)
	}
	s.logger.Info("snapshot deleted", "id", info.ID)
	return nil
}

// History returns the most recent operations, newest first.
func (s *Service) History(limit int) ([]*Operation, error) {
	ops, err := s.catalog.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// ResolveRecord scans a single file outside of any tree.
func (s *Service) ResolveRecord(rawPath string) (*FileRecord, *Report, error) {
	report := NewReport()
	rec, err := ScanRecord(s.fsmgr, rawPath, report)
	if err != nil {
		return nil, report, err
	}
	return rec, report, nil
}

// Tag adds or removes tag on the node at path. For a directory, direct file
// children are tagged, and nested directories too when recursive is set.
// It returns the number of records that changed. A change that touches no
// record is noted on report.
func (s *Service) Tag(tree *TreeNode, path, tag string, recursive, remove bool, report *Report) (int, error) {
	node, ok := tree.Lookup(path)
	if !ok {
		return 0, fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	var changed int
	switch n := node.(type) {
	case *FileRecord:
		if remove && n.RemoveTag(tag) || !remove && n.AddTag(tag) {
			changed = 1
		}
	case *TreeNode:
		if remove {
			changed = n.RemoveTag(tag, recursive)
		} else {
			changed = n.AddTag(tag, recursive)
		}
	}
	s.logger.Debug("tags updated", "path", path, "tag", tag, "remove", remove, "changed", changed)
	if changed == 0 {
		if remove {
			report.Notice(fmt.Sprintf("%s: tag %q not present", path, tag))
		} else {
			report.Notice(fmt.Sprintf("%s: tag %q already present", path, tag))
		}
	}
	return changed, nil
}

// MoveRecord relocates rec's file into dir.
func (s *Service) MoveRecord(rec *FileRecord, dir string) error {
	from := rec.Path()
	if err := rec.Move(dir); err != nil {
		return err
	}
	s.logger.Info("file moved", "from", from, "to", rec.Path())
	return nil
}

// DeleteRecord removes rec's file and detaches it from its tree, if any.
func (s *Service) DeleteRecord(rec *FileRecord) error {
	if err := rec.Delete(); err != nil {
		return err
	}
	if owner := rec.Owner(); owner != nil {
		owner.detach(rec)
	}
	s.logger.Info("file deleted", "path", rec.Path())
	return nil
}

// RescanRecord refreshes rec from disk.
func (s *Service) RescanRecord(ctx context.Context, rec *FileRecord, recomputeHash bool) error {
	if err := rec.Rescan(ctx, recomputeHash); err != nil {
		return err
	}
	s.logger.Debug("file rescanned", "path", rec.Path(), "hash", recomputeHash)
	return nil
}
