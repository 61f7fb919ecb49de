package dupscan

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// DuplicateSet maps a digest to the records sharing it. Every group has at
// least two members, in the order they were first encountered.
type DuplicateSet map[Digest][]*FileRecord

// Digests returns the keys in byte order.
func (s DuplicateSet) Digests() []Digest {
	out := make([]Digest, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Digest) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// Files returns the number of records across every group.
func (s DuplicateSet) Files() int {
	n := 0
	for _, g := range s {
		n += len(g)
	}
	return n
}

// GroupWaste returns the bytes held by the redundant copies in one group.
func GroupWaste(group []*FileRecord) int64 {
	if len(group) < 2 {
		return 0
	}
	size, ok := group[0].Size()
	if !ok {
		return 0
	}
	return size * int64(len(group)-1)
}

// WastedBytes returns the bytes that would be freed by keeping one copy per group.
func (s DuplicateSet) WastedBytes() int64 {
	var total int64
	for _, g := range s {
		total += GroupWaste(g)
	}
	return total
}

// SortedPaths returns the member paths of the group for d, sorted.
func (s DuplicateSet) SortedPaths(d Digest) []string {
	group := s[d]
	paths := make([]string, len(group))
	for i, r := range group {
		paths[i] = r.Path()
	}
	slices.SortFunc(paths, strings.Compare)
	return paths
}

// FindOptions controls a duplicate search.
type FindOptions struct {
	// Workers bounds concurrent hashing. Zero means a CPU-based default.
	Workers int
	// ChunkSize is the hashing read size. Zero means DefaultChunkSize.
	ChunkSize int
}

// DuplicateFinder groups the records of a tree by content digest.
type DuplicateFinder struct {
	logger Logger
}

// NewDuplicateFinder creates a finder.
func NewDuplicateFinder(logger Logger) *DuplicateFinder {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &DuplicateFinder{logger: logger}
}

// Find hashes every record that has no digest yet and returns the groups of
// identical content. Computed digests stay cached on the records. Records
// whose hash fails are left out and reported. Records whose file was deleted
// are skipped. The tree is borrowed for the duration of the call.
func (f *DuplicateFinder) Find(ctx context.Context, tree *TreeNode, opts FindOptions) (DuplicateSet, *Report, error) {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	report := NewReport()
	var records []*FileRecord
	for _, r := range tree.Records() {
		if !r.Deleted() {
			records = append(records, r)
		}
	}

	var missing []*FileRecord
	for _, r := range records {
		if _, ok := r.Digest(); !ok {
			missing = append(missing, r)
		}
	}
	f.logger.Debug("hashing records", "total", len(records), "missing", len(missing), "workers", opts.Workers)

	errs := make([]error, len(missing))
	p := pool.New().WithMaxGoroutines(opts.Workers).WithContext(ctx)
	for i, r := range missing {
		i, r := i, r
		p.Go(func(ctx context.Context) error {
			_, errs[i] = r.HashBuffered(ctx, opts.ChunkSize)
			return nil
		})
	}
	_ = p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, report, err
	}
	for _, err := range errs {
		report.Add(err)
	}

	groups := make(DuplicateSet)
	for _, r := range records {
		d, ok := r.Digest()
		if !ok {
			continue
		}
		groups[d] = append(groups[d], r)
	}
	for d, g := range groups {
		if len(g) < 2 {
			delete(groups, d)
		}
	}

	f.logger.Info("duplicate search finished", "groups", len(groups), "files", groups.Files(),
		"wasted_bytes", groups.WastedBytes(), "errors", report.Count(nil))
	return groups, report, nil
}
