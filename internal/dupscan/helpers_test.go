package dupscan_test

import (
	"context"
	"slices"
	"testing"

	"dupscan/internal/dupscan"
	"dupscan/internal/testutil"
)

func scanTree(t *testing.T, fsmgr dupscan.FilesystemManager, root string, opts dupscan.ScanOptions) (*dupscan.TreeNode, *dupscan.Report) {
	t.Helper()
	tree, report, err := dupscan.NewScanner(fsmgr, nil).Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := tree.Verify(); err != nil {
		t.Fatalf("Verify() after Scan() error = %v", err)
	}
	return tree, report
}

func record(t *testing.T, tree *dupscan.TreeNode, path string) *dupscan.FileRecord {
	t.Helper()
	r, ok := tree.Find(path)
	if !ok {
		t.Fatalf("Find(%q) found nothing", path)
	}
	return r
}

func recordPaths(records []*dupscan.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Path()
	}
	slices.Sort(out)
	return out
}

func newRecord(t *testing.T, fsmgr *testutil.MockFilesystemManager, path string, content []byte) *dupscan.FileRecord {
	t.Helper()
	fsmgr.AddFile(path, content)
	r, err := dupscan.ScanRecord(fsmgr, path, nil)
	if err != nil {
		t.Fatalf("ScanRecord(%q) error = %v", path, err)
	}
	return r
}
