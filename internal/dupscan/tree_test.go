package dupscan_test

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"testing"

	"dupscan/internal/dupscan"
	"dupscan/internal/testutil"
)

func TestTreeNode_InsertRemove(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	root := dupscan.NewTreeNode(fsmgr, "/data")
	sub := dupscan.NewTreeNode(fsmgr, "/data/sub")

	a := newRecord(t, fsmgr, "/data/a", []byte("aaaa"))
	b := newRecord(t, fsmgr, "/data/sub/b", []byte("bb"))

	steps := []struct {
		name string
		do   func() error
		want int64
	}{
		{"insert file", func() error { return root.Insert("a", a) }, 4},
		{"insert empty dir", func() error { return root.Insert("sub", sub) }, 4},
		{"insert into nested dir", func() error { return sub.Insert("b", b) }, 6},
		{"remove nested file", func() error { sub.Remove("b"); return nil }, 4},
		{"reinsert nested file", func() error { return sub.Insert("b", b) }, 6},
		{"remove dir", func() error { root.Remove("sub"); return nil }, 4},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if got := root.AggregateSize(); got != step.want {
			t.Errorf("%s: AggregateSize() = %d, want %d", step.name, got, step.want)
		}
		if err := root.Verify(); err != nil {
			t.Errorf("%s: Verify() error = %v", step.name, err)
		}
	}

	if sub.Parent() != nil {
		t.Error("removed directory still has a parent")
	}
	if sub.AggregateSize() != 2 {
		t.Errorf("detached dir AggregateSize() = %d, want 2", sub.AggregateSize())
	}
	if got := root.Names(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestTreeNode_InsertErrors(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	root := dupscan.NewTreeNode(fsmgr, "/data")
	other := dupscan.NewTreeNode(fsmgr, "/other")
	sub := dupscan.NewTreeNode(fsmgr, "/data/sub")
	a := newRecord(t, fsmgr, "/data/a", []byte("a"))

	if err := root.Insert("a", a); err != nil {
		t.Fatal(err)
	}
	if err := root.Insert("sub", sub); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		into    *dupscan.TreeNode
		key     string
		child   dupscan.Node
		wantErr error
	}{
		{name: "duplicate name", into: root, key: "a", child: newRecord(t, fsmgr, "/data/a2", nil), wantErr: dupscan.ErrExists},
		{name: "record owned elsewhere", into: other, key: "a", child: a, wantErr: dupscan.ErrOwned},
		{name: "dir owned elsewhere", into: other, key: "sub", child: sub},
		{name: "self", into: other, key: "self", child: other},
		{name: "ancestor", into: sub, key: "root", child: root},
		{name: "empty name", into: other, key: "", child: newRecord(t, fsmgr, "/x/e", nil)},
		{name: "dotdot", into: other, key: "..", child: newRecord(t, fsmgr, "/x/f", nil)},
		{name: "separator", into: other, key: "x/y", child: newRecord(t, fsmgr, "/x/g", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.into.Len()
			err := tt.into.Insert(tt.key, tt.child)
			if err == nil {
				t.Fatal("Insert() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Insert() error = %v, want %v", err, tt.wantErr)
			}
			if tt.into.Len() != before {
				t.Error("failed Insert() changed the tree")
			}
		})
	}

	if err := root.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if a.Owner() != root {
		t.Error("record owner changed by failed Insert()")
	}
}

func TestTreeNode_UnknownSizes(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/real", []byte("abc"))
	fsmgr.AddSymlink("/data/sub/broken", "/missing")

	tree, report := scanTree(t, fsmgr, "/data", dupscan.ScanOptions{})
	if report.Count(dupscan.ErrStat) != 1 {
		t.Errorf("report has %d stat errors, want 1", report.Count(dupscan.ErrStat))
	}
	if !tree.HasUnknownSizes() {
		t.Error("HasUnknownSizes() = false")
	}
	if tree.AggregateSize() != 3 {
		t.Errorf("AggregateSize() = %d, want 3", tree.AggregateSize())
	}

	sub, ok := tree.Child("sub")
	if !ok {
		t.Fatal("sub missing")
	}
	tree.Remove("sub")
	if tree.HasUnknownSizes() {
		t.Error("HasUnknownSizes() = true after removing the only unknown record")
	}
	if !sub.(*dupscan.TreeNode).HasUnknownSizes() {
		t.Error("detached subtree lost its unknown marker")
	}
}

func TestTreeNode_AddFile(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/elsewhere/extra.bin", []byte("12345678"))
	root := dupscan.NewTreeNode(fsmgr, "/data")

	r, err := root.AddFile("/elsewhere/extra.bin", nil)
	if err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if child, ok := root.Child("extra.bin"); !ok || child != r {
		t.Error("record not stored under its base name")
	}
	if root.AggregateSize() != 8 {
		t.Errorf("AggregateSize() = %d, want 8", root.AggregateSize())
	}

	if _, err := root.AddFile("/elsewhere/extra.bin", nil); !errors.Is(err, dupscan.ErrExists) {
		t.Errorf("second AddFile() error = %v, want ErrExists", err)
	}
	if _, err := root.AddFile("/elsewhere/none", nil); !errors.Is(err, dupscan.ErrStat) {
		t.Errorf("AddFile(missing) error = %v, want ErrStat", err)
	}
}

func buildTagTree(t *testing.T) (*testutil.MockFilesystemManager, *dupscan.TreeNode) {
	t.Helper()
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/a", []byte("a"))
	fsmgr.AddFile("/data/b", []byte("b"))
	fsmgr.AddFile("/data/sub/c", []byte("c"))
	fsmgr.AddFile("/data/sub/deep/d", []byte("d"))
	tree, _ := scanTree(t, fsmgr, "/data", dupscan.ScanOptions{})
	return fsmgr, tree
}

func TestTreeNode_Tags(t *testing.T) {
	_, tree := buildTagTree(t)

	if n := tree.AddTag("flat", false); n != 2 {
		t.Errorf("AddTag(non-recursive) = %d, want 2", n)
	}
	if record(t, tree, "/data/sub/c").HasTag("flat") {
		t.Error("non-recursive AddTag() reached a nested file")
	}

	if n := tree.AddTag("all", true); n != 4 {
		t.Errorf("AddTag(recursive) = %d, want 4", n)
	}
	if n := tree.AddTag("all", true); n != 0 {
		t.Errorf("repeated AddTag() = %d, want 0", n)
	}
	if !record(t, tree, "/data/sub/deep/d").HasTag("all") {
		t.Error("recursive AddTag() missed a deep file")
	}

	if n := tree.RemoveTag("all", false); n != 2 {
		t.Errorf("RemoveTag(non-recursive) = %d, want 2", n)
	}
	if n := tree.RemoveTag("all", true); n != 2 {
		t.Errorf("RemoveTag(recursive) = %d, want 2", n)
	}
}

func TestTreeNode_Walk(t *testing.T) {
	_, tree := buildTagTree(t)

	var visited []string
	err := tree.Walk(func(name string, n dupscan.Node, depth int) error {
		kind := "f"
		if _, ok := n.(*dupscan.TreeNode); ok {
			kind = "d"
		}
		visited = append(visited, fmt.Sprintf("%s%d:%s", kind, depth, name))
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := "f1:a f1:b d1:sub f2:c d2:deep f3:d"
	if got := strings.Join(visited, " "); got != want {
		t.Errorf("Walk() order = %q, want %q", got, want)
	}

	stop := errors.New("stop")
	count := 0
	err = tree.Walk(func(string, dupscan.Node, int) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 2 {
		t.Errorf("Walk() did not stop early: err = %v, count = %d", err, count)
	}

	if got := recordPaths(tree.Records()); len(got) != 4 {
		t.Errorf("Records() = %v", got)
	}
	flat := tree.Flatten()
	if len(flat) != 4 || flat["/data/sub/deep/d"] == nil {
		t.Errorf("Flatten() = %v", flat)
	}
}

func TestTreeNode_Lookup(t *testing.T) {
	fsmgr, tree := buildTagTree(t)
	fsmgr.AddDirectory("/moved")

	tests := []struct {
		path     string
		wantOK   bool
		wantPath string
	}{
		{path: "/data", wantOK: true, wantPath: "/data"},
		{path: "/data/sub", wantOK: true, wantPath: "/data/sub"},
		{path: "/data/sub/deep/d", wantOK: true, wantPath: "/data/sub/deep/d"},
		{path: "/data/sub/", wantOK: true, wantPath: "/data/sub"},
		{path: "/data/nope", wantOK: false},
		{path: "/data/a/below-file", wantOK: false},
		{path: "/other", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			n, ok := tree.Lookup(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && n.Path() != tt.wantPath {
				t.Errorf("Lookup() path = %q, want %q", n.Path(), tt.wantPath)
			}
		})
	}

	t.Run("names starting with dots", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/..cache/x", []byte("x"))
		fsmgr.AddFile("/data/..x", []byte("y"))
		dotted, _ := scanTree(t, fsmgr, "/data", dupscan.ScanOptions{})

		for _, p := range []string{"/data/..cache", "/data/..cache/x", "/data/..x"} {
			if n, ok := dotted.Lookup(p); !ok || n.Path() != p {
				t.Errorf("Lookup(%q) = %v, %v", p, n, ok)
			}
		}
		if n, ok := dotted.Lookup("/data/.."); ok {
			t.Errorf("Lookup(/data/..) = %s, want nothing above the root", n.Path())
		}
	})

	t.Run("moved record", func(t *testing.T) {
		r := record(t, tree, "/data/b")
		if err := r.Move("/moved"); err != nil {
			t.Fatal(err)
		}
		if got, ok := tree.Find("/moved/b"); !ok || got != r {
			t.Error("Find() does not locate a moved record by its new path")
		}
		if _, ok := tree.Child("b"); !ok {
			t.Error("moved record no longer indexed under its original key")
		}
	})

	if _, ok := tree.Find("/data/sub"); ok {
		t.Error("Find() returned a directory")
	}
}

func TestTreeNode_DeleteFile(t *testing.T) {
	fsmgr, tree := buildTagTree(t)

	if err := tree.DeleteFile("a"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if _, ok := tree.Child("a"); ok {
		t.Error("deleted record still in tree")
	}
	if fsmgr.Exists("/data/a") {
		t.Error("file still on disk")
	}
	if tree.AggregateSize() != 3 {
		t.Errorf("AggregateSize() = %d, want 3", tree.AggregateSize())
	}

	tests := []struct {
		name  string
		child string
		setup func()
	}{
		{name: "missing", child: "zzz"},
		{name: "directory", child: "sub"},
		{name: "remove fails", child: "b", setup: func() { fsmgr.FailRemove("/data/b", fs.ErrPermission) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			before := tree.Len()
			if err := tree.DeleteFile(tt.child); !errors.Is(err, dupscan.ErrDelete) {
				t.Errorf("DeleteFile() error = %v, want ErrDelete", err)
			}
			if tree.Len() != before {
				t.Error("failed DeleteFile() changed the tree")
			}
		})
	}

	if err := tree.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}
