package dupscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/sourcegraph/conc/pool"
)

// DefaultMaxDepth bounds directory recursion when ScanOptions.MaxDepth is unset.
const DefaultMaxDepth = 256

// Ignorer reports whether a path, relative to the scan root, should be skipped.
type Ignorer interface {
	Match(relativePath string) bool
}

// ScanOptions controls a single Scan call.
type ScanOptions struct {
	// HashEagerly computes every file's digest during the scan.
	HashEagerly bool
	// NameFilters skips entries whose base name matches exactly, at every level.
	NameFilters []string
	// Ignore, if set, skips entries whose root-relative path it matches.
	Ignore Ignorer
	// MaxDepth is the deepest directory level scanned. Zero means DefaultMaxDepth.
	MaxDepth int
	// Workers bounds how many directories are listed at once. Zero means a CPU-based default.
	Workers int
	// ChunkSize is the read size for eager hashing. Zero means DefaultChunkSize.
	ChunkSize int
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

func defaultWorkers() int {
	return min(runtime.NumCPU(), 8)
}

// Scanner builds TreeNodes from the filesystem.
type Scanner struct {
	fsmgr  FilesystemManager
	logger Logger
}

// NewScanner creates a scanner over fsmgr.
func NewScanner(fsmgr FilesystemManager, logger Logger) *Scanner {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Scanner{fsmgr: fsmgr, logger: logger}
}

// scanRun holds the state of one Scan call.
type scanRun struct {
	fsmgr   FilesystemManager
	opts    ScanOptions
	root    string
	filters map[string]struct{}
	report  *Report
	// tokens limits the extra goroutines; a directory scans inline when none is free.
	tokens chan struct{}
}

// Scan walks the directory at rawPath and returns its tree. Per-entry failures
// are collected in the report and the walk continues. If ctx is cancelled the
// partial tree is discarded and ctx.Err() is returned.
func (s *Scanner) Scan(ctx context.Context, rawPath string, opts ScanOptions) (*TreeNode, *Report, error) {
	root, err := s.fsmgr.Abs(rawPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := s.fsmgr.Stat(root)
	if err != nil {
		return nil, nil, entryError(ErrStat, "stat", root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("path is not a directory: %s", root)
	}

	opts = opts.withDefaults()
	run := &scanRun{
		fsmgr:   s.fsmgr,
		opts:    opts,
		root:    root,
		filters: make(map[string]struct{}, len(opts.NameFilters)),
		report:  NewReport(),
		tokens:  make(chan struct{}, opts.Workers-1),
	}
	for _, name := range opts.NameFilters {
		run.filters[name] = struct{}{}
	}

	s.logger.Debug("scan started", "path", root, "workers", opts.Workers, "hash", opts.HashEagerly)

	var ancestors []string
	if id := run.identity(info); id != "" {
		ancestors = []string{id}
	}
	tree := run.scanDir(ctx, root, 0, ancestors)

	if err := ctx.Err(); err != nil {
		s.logger.Warn("scan cancelled", "path", root)
		return nil, run.report, err
	}

	s.logger.Info("scan finished", "path", root,
		"files", len(tree.Records()), "bytes", tree.AggregateSize(), "errors", run.report.Count(nil))
	return tree, run.report, nil
}

func (r *scanRun) identity(info fs.FileInfo) string {
	data, err := r.fsmgr.ExtractStatData(info)
	if err != nil {
		return ""
	}
	return data.Identity
}

// scanDir lists dirPath and builds its node. Children are published into the
// node only after every subtree of this level has finished.
func (r *scanRun) scanDir(ctx context.Context, dirPath string, depth int, ancestors []string) *TreeNode {
	node := NewTreeNode(r.fsmgr, dirPath)

	names, err := r.fsmgr.ReadDir(dirPath)
	if err != nil {
		r.report.Add(entryError(ErrStat, "readdir", dirPath, err))
		return node
	}

	results := make([]Node, len(names))
	p := pool.New().WithContext(ctx)
	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		childPath := filepath.Join(dirPath, name)
		if r.skip(name, childPath) {
			continue
		}

		info, err := r.fsmgr.Stat(childPath)
		if err != nil || !info.IsDir() {
			results[i] = r.scanFile(ctx, childPath)
			continue
		}

		id := r.identity(info)
		if err := r.guard(childPath, depth+1, id, ancestors); err != nil {
			r.report.Add(err)
			results[i] = NewTreeNode(r.fsmgr, childPath)
			continue
		}
		childAncestors := ancestors
		if id != "" {
			childAncestors = append(slices.Clone(ancestors), id)
		}

		select {
		case r.tokens <- struct{}{}:
			i := i
			p.Go(func(ctx context.Context) error {
				defer func() { <-r.tokens }()
				results[i] = r.scanDir(ctx, childPath, depth+1, childAncestors)
				return nil
			})
		default:
			results[i] = r.scanDir(ctx, childPath, depth+1, childAncestors)
		}
	}
	_ = p.Wait()

	for i, child := range results {
		if child == nil {
			continue
		}
		if err := node.Insert(names[i], child); err != nil {
			r.report.Add(entryError(ErrStat, "insert", child.Path(), err))
		}
	}
	return node
}

func (r *scanRun) skip(name, childPath string) bool {
	if _, ok := r.filters[name]; ok {
		return true
	}
	if r.opts.Ignore == nil {
		return false
	}
	rel, err := filepath.Rel(r.root, childPath)
	if err != nil {
		return false
	}
	return r.opts.Ignore.Match(rel)
}

func (r *scanRun) guard(path string, depth int, id string, ancestors []string) error {
	if depth > r.opts.MaxDepth {
		return entryError(ErrCycle, "scan", path, fmt.Errorf("depth limit %d exceeded", r.opts.MaxDepth))
	}
	if id != "" && slices.Contains(ancestors, id) {
		return entryError(ErrCycle, "scan", path, errors.New("directory already visited by an ancestor"))
	}
	return nil
}

// scanFile returns nil when the entry cannot be recorded at all.
func (r *scanRun) scanFile(ctx context.Context, path string) Node {
	st, sizeErr, err := statEntry(r.fsmgr, path)
	if err != nil {
		r.report.Add(err)
		return nil
	}
	r.report.Add(sizeErr)

	rec := newRecord(r.fsmgr, path)
	rec.apply(st)
	if r.opts.HashEagerly && sizeErr == nil {
		if _, err := rec.HashBuffered(ctx, r.opts.ChunkSize); err != nil && ctx.Err() == nil {
			r.report.Add(err)
		}
	}
	return rec
}
