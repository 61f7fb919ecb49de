package dupscan

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Node is either a *FileRecord or a *TreeNode.
type Node interface {
	Path() string
	isNode()
}

var (
	_ Node = (*FileRecord)(nil)
	_ Node = (*TreeNode)(nil)
)

// TreeNode is a directory in a snapshot. Children are keyed by base name and
// keep insertion order. The aggregate size is maintained incrementally and
// always equals the sum of the known sizes of all records below this node.
type TreeNode struct {
	fsmgr FilesystemManager
	owner *TreeNode

	rootPath string
	names    []string
	children map[string]Node

	aggregateSize int64
	unknownSizes  int
}

func (*TreeNode) isNode() {}

// NewTreeNode creates an empty directory node for rootPath.
func NewTreeNode(fsmgr FilesystemManager, rootPath string) *TreeNode {
	return &TreeNode{
		fsmgr:    fsmgr,
		rootPath: filepath.Clean(rootPath),
		children: make(map[string]Node),
	}
}

// RootPath returns the absolute path of the directory.
func (t *TreeNode) RootPath() string { return t.rootPath }

// Path is an alias for RootPath.
func (t *TreeNode) Path() string { return t.rootPath }

// Parent returns the node this directory is nested in, or nil for a root.
func (t *TreeNode) Parent() *TreeNode { return t.owner }

// AggregateSize returns the sum of the known sizes of every record below this node.
func (t *TreeNode) AggregateSize() int64 { return t.aggregateSize }

// HasUnknownSizes reports whether any record below this node has an unknown size.
func (t *TreeNode) HasUnknownSizes() bool { return t.unknownSizes > 0 }

// Len returns the number of direct children.
func (t *TreeNode) Len() int { return len(t.names) }

// Names returns the child keys in insertion order.
func (t *TreeNode) Names() []string { return slices.Clone(t.names) }

// Child returns the direct child stored under name.
func (t *TreeNode) Child(name string) (Node, bool) {
	n, ok := t.children[name]
	return n, ok
}

// Insert adds child under name. The child must not already belong to a tree.
func (t *TreeNode) Insert(name string, child Node) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("invalid child name %q", name)
	}
	if _, ok := t.children[name]; ok {
		return fmt.Errorf("inserting %q into %s: %w", name, t.rootPath, ErrExists)
	}

	switch c := child.(type) {
	case *FileRecord:
		if c == nil {
			return errors.New("inserting nil record")
		}
		if c.owner != nil {
			return fmt.Errorf("inserting %q: %w", name, ErrOwned)
		}
		c.owner = t
	case *TreeNode:
		if c == nil {
			return errors.New("inserting nil directory")
		}
		if c.owner != nil {
			return fmt.Errorf("inserting %q: %w", name, ErrOwned)
		}
		for n := t; n != nil; n = n.owner {
			if n == c {
				return fmt.Errorf("inserting %q: directory would contain itself", name)
			}
		}
		c.owner = t
	default:
		return fmt.Errorf("inserting %q: unsupported node type %T", name, child)
	}

	t.children[name] = child
	t.names = append(t.names, name)
	size, unknown := contributionOf(child)
	t.propagate(size, unknown)
	return nil
}

// Remove detaches the child stored under name and returns it.
func (t *TreeNode) Remove(name string) (Node, bool) {
	child, ok := t.children[name]
	if !ok {
		return nil, false
	}

	delete(t.children, name)
	if i := slices.Index(t.names, name); i >= 0 {
		t.names = slices.Delete(t.names, i, i+1)
	}
	switch c := child.(type) {
	case *FileRecord:
		c.owner = nil
	case *TreeNode:
		c.owner = nil
	}

	size, unknown := contributionOf(child)
	t.propagate(-size, -unknown)
	return child, true
}

// detach removes child by identity, whatever key it is stored under.
func (t *TreeNode) detach(child Node) bool {
	for _, name := range t.names {
		if t.children[name] == child {
			t.Remove(name)
			return true
		}
	}
	return false
}

func contributionOf(n Node) (int64, int) {
	switch c := n.(type) {
	case *FileRecord:
		return c.contribution()
	case *TreeNode:
		return c.aggregateSize, c.unknownSizes
	}
	return 0, 0
}

// propagate applies a size delta to this node and every ancestor.
func (t *TreeNode) propagate(size int64, unknown int) {
	if size == 0 && unknown == 0 {
		return
	}
	for n := t; n != nil; n = n.owner {
		n.aggregateSize += size
		n.unknownSizes += unknown
	}
}

// Verify recomputes every aggregate from scratch and reports the first mismatch.
func (t *TreeNode) Verify() error {
	_, _, err := t.verify()
	return err
}

func (t *TreeNode) verify() (int64, int, error) {
	var size int64
	var unknown int
	for _, name := range t.names {
		switch c := t.children[name].(type) {
		case *FileRecord:
			if c.owner != t {
				return 0, 0, fmt.Errorf("record %q in %s has wrong owner", name, t.rootPath)
			}
			s, u := c.contribution()
			size += s
			unknown += u
		case *TreeNode:
			if c.owner != t {
				return 0, 0, fmt.Errorf("directory %q in %s has wrong owner", name, t.rootPath)
			}
			s, u, err := c.verify()
			if err != nil {
				return 0, 0, err
			}
			size += s
			unknown += u
		}
	}
	if size != t.aggregateSize || unknown != t.unknownSizes {
		return 0, 0, fmt.Errorf("aggregate mismatch at %s: stored %d (%d unknown), computed %d (%d unknown)",
			t.rootPath, t.aggregateSize, t.unknownSizes, size, unknown)
	}
	return size, unknown, nil
}

// AddFile scans the file at rawPath and inserts it under its base name.
// A file whose size cannot be read is still inserted; the failure goes to report.
func (t *TreeNode) AddFile(rawPath string, report *Report) (*FileRecord, error) {
	rec, err := ScanRecord(t.fsmgr, rawPath, report)
	if err != nil {
		return nil, err
	}
	if err := t.Insert(rec.Name(), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AddTag tags every direct file child, or every record in the subtree when
// recursive is set. It returns how many records gained the tag.
func (t *TreeNode) AddTag(tag string, recursive bool) int {
	return t.eachRecord(recursive, func(r *FileRecord) bool { return r.AddTag(tag) })
}

// RemoveTag is the inverse of AddTag.
func (t *TreeNode) RemoveTag(tag string, recursive bool) int {
	return t.eachRecord(recursive, func(r *FileRecord) bool { return r.RemoveTag(tag) })
}

func (t *TreeNode) eachRecord(recursive bool, fn func(*FileRecord) bool) int {
	n := 0
	for _, name := range t.names {
		switch c := t.children[name].(type) {
		case *FileRecord:
			if fn(c) {
				n++
			}
		case *TreeNode:
			if recursive {
				n += c.eachRecord(true, fn)
			}
		}
	}
	return n
}

// Walk visits every node below t depth-first in insertion order, parents
// before children. depth is 1 for direct children.
func (t *TreeNode) Walk(fn func(name string, n Node, depth int) error) error {
	return t.walk(fn, 1)
}

func (t *TreeNode) walk(fn func(string, Node, int) error, depth int) error {
	for _, name := range t.names {
		child := t.children[name]
		if err := fn(name, child, depth); err != nil {
			return err
		}
		if sub, ok := child.(*TreeNode); ok {
			if err := sub.walk(fn, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Records returns every record in the subtree in depth-first insertion order.
func (t *TreeNode) Records() []*FileRecord {
	var out []*FileRecord
	_ = t.Walk(func(_ string, n Node, _ int) error {
		if r, ok := n.(*FileRecord); ok {
			out = append(out, r)
		}
		return nil
	})
	return out
}

// Flatten maps each record's current absolute path to the record.
func (t *TreeNode) Flatten() map[string]*FileRecord {
	records := t.Records()
	out := make(map[string]*FileRecord, len(records))
	for _, r := range records {
		out[r.Path()] = r
	}
	return out
}

// Lookup finds the node at an absolute path. Directories are found by
// descending through child keys; records are also matched by their current
// path so that moved files can still be located.
func (t *TreeNode) Lookup(path string) (Node, bool) {
	path = filepath.Clean(path)
	if path == t.rootPath {
		return t, true
	}

	if rel, err := filepath.Rel(t.rootPath, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		var cur Node = t
		found := true
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			dir, ok := cur.(*TreeNode)
			if !ok {
				found = false
				break
			}
			if cur, ok = dir.children[part]; !ok {
				found = false
				break
			}
		}
		if found {
			return cur, true
		}
	}

	for _, r := range t.Records() {
		if r.Path() == path {
			return r, true
		}
	}
	return nil, false
}

// DeleteFile removes the backing file of the record stored under name and,
// on success, detaches it from the tree.
func (t *TreeNode) DeleteFile(name string) error {
	child, ok := t.children[name]
	if !ok {
		return entryError(ErrDelete, "delete", filepath.Join(t.rootPath, name), errors.New("no such entry"))
	}
	rec, ok := child.(*FileRecord)
	if !ok {
		return entryError(ErrDelete, "delete", child.Path(), errors.New("entry is a directory"))
	}
	if err := rec.Delete(); err != nil {
		return err
	}
	t.Remove(name)
	return nil
}

// Find locates a record by its absolute path.
func (t *TreeNode) Find(path string) (*FileRecord, bool) {
	n, ok := t.Lookup(path)
	if !ok {
		return nil, false
	}
	r, ok := n.(*FileRecord)
	return r, ok
}
