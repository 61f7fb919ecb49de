package dupscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// FileRecord is a point-in-time snapshot of one filesystem entry's metadata,
// plus a mutable tag set and a lazily computed content digest.
// A record belongs to at most one TreeNode.
type FileRecord struct {
	fsmgr FilesystemManager
	owner *TreeNode

	path       string
	parentPath string
	name       string
	extension  string
	mode       fs.FileMode

	size      int64
	sizeKnown bool

	digest Digest
	hashed bool

	modifiedAt time.Time
	accessedAt time.Time
	createdAt  time.Time

	tags    map[string]struct{}
	deleted bool
}

func (*FileRecord) isNode() {}

// entryStat is the metadata captured by one stat of an entry.
type entryStat struct {
	info       fs.FileInfo
	size       int64
	sizeKnown  bool
	modifiedAt time.Time
	accessedAt time.Time
	changedAt  time.Time
	identity   string
}

// statEntry stats path following symlinks, falling back to Lstat so that a
// dangling link still yields a record. sizeErr is non-nil when the size is unknown.
func statEntry(fsmgr FilesystemManager, path string) (st *entryStat, sizeErr error, err error) {
	info, err := fsmgr.Stat(path)
	if err != nil {
		linfo, lerr := fsmgr.Lstat(path)
		if lerr != nil {
			return nil, nil, entryError(ErrStat, "stat", path, err)
		}
		info = linfo
		sizeErr = entryError(ErrStat, "stat", path, err)
	}

	st = &entryStat{
		info:       info,
		sizeKnown:  sizeErr == nil,
		modifiedAt: info.ModTime(),
		accessedAt: info.ModTime(),
		changedAt:  info.ModTime(),
	}
	if st.sizeKnown {
		st.size = info.Size()
	}
	if data, err := fsmgr.ExtractStatData(info); err == nil {
		st.accessedAt = data.AccessedAt
		st.changedAt = data.ChangedAt
		st.identity = data.Identity
	}
	return st, sizeErr, nil
}

// ScanRecord builds a record for the file at rawPath. Relative paths are
// resolved first. If the size cannot be determined the record is still
// returned and the StatError is added to report (which may be nil).
func ScanRecord(fsmgr FilesystemManager, rawPath string, report *Report) (*FileRecord, error) {
	path, err := fsmgr.Abs(rawPath)
	if err != nil {
		return nil, entryError(ErrStat, "resolve", rawPath, err)
	}

	st, sizeErr, err := statEntry(fsmgr, path)
	if err != nil {
		return nil, err
	}
	if st.info.IsDir() {
		return nil, entryError(ErrStat, "scan", path, errors.New("path is a directory"))
	}
	report.Add(sizeErr)

	r := newRecord(fsmgr, path)
	r.apply(st)
	return r, nil
}

func newRecord(fsmgr FilesystemManager, path string) *FileRecord {
	r := &FileRecord{
		fsmgr: fsmgr,
		tags:  make(map[string]struct{}),
	}
	r.setPath(path)
	return r
}

func (r *FileRecord) setPath(path string) {
	r.path = path
	r.parentPath = filepath.Dir(path)
	r.name = filepath.Base(path)
	r.extension = extensionOf(r.name)
}

func (r *FileRecord) apply(st *entryStat) {
	r.mode = st.info.Mode()
	r.size = st.size
	r.sizeKnown = st.sizeKnown
	r.modifiedAt = st.modifiedAt
	r.accessedAt = st.accessedAt
	r.createdAt = st.changedAt
}

// extensionOf returns the text after the last '.', or "" when there is none.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// Path returns the absolute path of the file.
func (r *FileRecord) Path() string { return r.path }

// ParentPath returns the directory containing the file.
func (r *FileRecord) ParentPath() string { return r.parentPath }

// Name returns the base name of the file.
func (r *FileRecord) Name() string { return r.name }

// Extension returns the text after the last '.' in the name, or "".
func (r *FileRecord) Extension() string { return r.extension }

// Mode returns the file mode captured at scan time.
func (r *FileRecord) Mode() fs.FileMode { return r.mode }

// Size returns the byte length at the last scan. ok is false when unknown.
func (r *FileRecord) Size() (size int64, ok bool) { return r.size, r.sizeKnown }

// Digest returns the cached content digest. ok is false until it is computed.
func (r *FileRecord) Digest() (d Digest, ok bool) { return r.digest, r.hashed }

func (r *FileRecord) ModifiedAt() time.Time { return r.modifiedAt }
func (r *FileRecord) AccessedAt() time.Time { return r.accessedAt }

// CreatedAt returns the creation time; on Unix this is the inode change time.
func (r *FileRecord) CreatedAt() time.Time { return r.createdAt }

// Deleted reports whether Delete has removed the backing file.
func (r *FileRecord) Deleted() bool { return r.deleted }

// Owner returns the tree node that holds this record, if any.
func (r *FileRecord) Owner() *TreeNode { return r.owner }

// Tags returns the tag set, sorted.
func (r *FileRecord) Tags() []string {
	tags := make([]string, 0, len(r.tags))
	for t := range r.tags {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// HasTag reports whether tag is set.
func (r *FileRecord) HasTag(tag string) bool {
	_, ok := r.tags[tag]
	return ok
}

// AddTag adds tag. It returns false when the tag was already present.
func (r *FileRecord) AddTag(tag string) bool {
	if _, ok := r.tags[tag]; ok {
		return false
	}
	r.tags[tag] = struct{}{}
	return true
}

// RemoveTag removes tag. It returns false when the tag was not present.
func (r *FileRecord) RemoveTag(tag string) bool {
	if _, ok := r.tags[tag]; !ok {
		return false
	}
	delete(r.tags, tag)
	return true
}

// Hash computes the content digest with the default chunk size.
func (r *FileRecord) Hash(ctx context.Context) (Digest, error) {
	return r.HashBuffered(ctx, DefaultChunkSize)
}

// HashBuffered streams the file through SHA-256 in chunkSize reads and caches
// the result. On failure the previous digest, if any, is kept.
func (r *FileRecord) HashBuffered(ctx context.Context, chunkSize int) (Digest, error) {
	if r.deleted {
		return Digest{}, entryError(ErrIO, "hash", r.path, ErrDeleted)
	}
	if !r.mode.IsRegular() {
		return Digest{}, entryError(ErrIO, "hash", r.path, fmt.Errorf("not a regular file (%s)", r.mode.Type()))
	}

	d, err := HashFile(ctx, r.fsmgr, r.path, chunkSize)
	if err != nil {
		return Digest{}, err
	}
	r.digest = d
	r.hashed = true
	return d, nil
}

// Rescan refreshes the stat fields in place and, if recomputeHash is set,
// re-hashes the content. Tags are untouched. When the size or modification
// time changed and no fresh hash is obtained, the cached digest is dropped.
// Size changes are propagated to every owning TreeNode.
func (r *FileRecord) Rescan(ctx context.Context, recomputeHash bool) error {
	if r.deleted {
		return entryError(ErrStat, "rescan", r.path, ErrDeleted)
	}

	st, sizeErr, err := statEntry(r.fsmgr, r.path)
	if err != nil {
		return err
	}
	if st.info.IsDir() {
		return entryError(ErrStat, "rescan", r.path, errors.New("path is now a directory"))
	}

	changed := st.sizeKnown != r.sizeKnown || st.size != r.size || !st.modifiedAt.Equal(r.modifiedAt)
	oldSize, oldUnknown := r.contribution()
	r.apply(st)
	newSize, newUnknown := r.contribution()
	if r.owner != nil {
		r.owner.propagate(newSize-oldSize, newUnknown-oldUnknown)
	}

	if recomputeHash {
		if _, err := r.Hash(ctx); err != nil {
			if changed {
				r.digest = Digest{}
				r.hashed = false
			}
			return err
		}
	} else if changed {
		r.digest = Digest{}
		r.hashed = false
	}
	return sizeErr
}

// contribution returns what this record adds to its owner's aggregate.
func (r *FileRecord) contribution() (size int64, unknown int) {
	if !r.sizeKnown {
		return 0, 1
	}
	return r.size, 0
}

// Move relocates the backing file into newDirectory, keeping its base name.
// The destination must be an existing directory that does not already hold
// an entry with the same name. On failure the record is unchanged.
// The owning tree keeps indexing the record under its old key.
func (r *FileRecord) Move(newDirectory string) error {
	if r.deleted {
		return entryError(ErrMove, "move", r.path, ErrDeleted)
	}

	dir, err := r.fsmgr.Abs(newDirectory)
	if err != nil {
		return entryError(ErrMove, "move", r.path, fmt.Errorf("resolving destination: %w", err))
	}
	info, err := r.fsmgr.Stat(dir)
	if err != nil {
		return entryError(ErrMove, "move", r.path, fmt.Errorf("destination: %w", err))
	}
	if !info.IsDir() {
		return entryError(ErrMove, "move", r.path, fmt.Errorf("destination is not a directory: %s", dir))
	}

	target := filepath.Join(dir, r.name)
	if target == r.path {
		return nil
	}
	if _, err := r.fsmgr.Lstat(target); err == nil {
		return entryError(ErrMove, "move", r.path, fmt.Errorf("%s: %w", target, ErrExists))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return entryError(ErrMove, "move", r.path, fmt.Errorf("checking destination: %w", err))
	}

	if err := r.fsmgr.Move(r.path, target); err != nil {
		return entryError(ErrMove, "move", r.path, err)
	}

	r.setPath(target)
	return nil
}

// Delete removes the backing file. On failure the record is unchanged and a
// DeleteError is returned; on success the record is marked deleted.
func (r *FileRecord) Delete() error {
	if r.deleted {
		return entryError(ErrDelete, "delete", r.path, ErrDeleted)
	}
	if err := r.fsmgr.Remove(r.path); err != nil {
		return entryError(ErrDelete, "delete", r.path, err)
	}
	r.deleted = true
	return nil
}
