package dupscan_test

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"testing"
	"time"

	"dupscan/internal/dupscan"
	"dupscan/internal/testutil"
)

func TestScanRecord(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/photos/beach.jpeg", []byte("jpeg bytes"))
	mtime := time.Date(2023, 7, 4, 12, 0, 0, 250, time.UTC)
	fsmgr.SetModTime("/data/photos/beach.jpeg", mtime)

	r, err := dupscan.ScanRecord(fsmgr, "/data/photos/../photos/beach.jpeg", nil)
	if err != nil {
		t.Fatalf("ScanRecord() error = %v", err)
	}

	if r.Path() != "/data/photos/beach.jpeg" {
		t.Errorf("Path() = %q", r.Path())
	}
	if r.ParentPath() != "/data/photos" {
		t.Errorf("ParentPath() = %q", r.ParentPath())
	}
	if r.Name() != "beach.jpeg" {
		t.Errorf("Name() = %q", r.Name())
	}
	if r.Extension() != "jpeg" {
		t.Errorf("Extension() = %q", r.Extension())
	}
	if size, ok := r.Size(); !ok || size != 10 {
		t.Errorf("Size() = %d, %v, want 10, true", size, ok)
	}
	if !r.ModifiedAt().Equal(mtime) {
		t.Errorf("ModifiedAt() = %v, want %v", r.ModifiedAt(), mtime)
	}
	if !r.Mode().IsRegular() {
		t.Errorf("Mode() = %v, want regular", r.Mode())
	}
	if _, ok := r.Digest(); ok {
		t.Error("Digest() present before hashing")
	}
	if len(r.Tags()) != 0 || r.Owner() != nil || r.Deleted() {
		t.Error("new record should have no tags, no owner and not be deleted")
	}
}

func TestScanRecord_Errors(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddDirectory("/data/dir")
	fsmgr.AddFile("/data/locked", []byte("x"))
	fsmgr.FailStat("/data/locked", fs.ErrPermission)

	tests := []struct {
		name string
		path string
	}{
		{name: "missing", path: "/data/missing"},
		{name: "directory", path: "/data/dir"},
		{name: "unreadable metadata", path: "/data/locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := dupscan.ScanRecord(fsmgr, tt.path, nil)
			if !errors.Is(err, dupscan.ErrStat) {
				t.Errorf("ScanRecord() error = %v, want ErrStat", err)
			}
			if r != nil {
				t.Error("ScanRecord() returned a record on error")
			}
		})
	}
}

func TestScanRecord_DanglingLink(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddSymlink("/data/link", "/data/gone")

	report := dupscan.NewReport()
	r, err := dupscan.ScanRecord(fsmgr, "/data/link", report)
	if err != nil {
		t.Fatalf("ScanRecord() error = %v", err)
	}
	if _, ok := r.Size(); ok {
		t.Error("Size() known for dangling link")
	}
	if report.Count(dupscan.ErrStat) != 1 {
		t.Errorf("report has %d stat errors, want 1", report.Count(dupscan.ErrStat))
	}

	_, err = r.Hash(context.Background())
	if !errors.Is(err, dupscan.ErrIO) {
		t.Errorf("Hash() error = %v, want ErrIO", err)
	}
}

func TestFileRecord_Extension(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	tests := []struct {
		name string
		want string
	}{
		{"notes.txt", "txt"},
		{"backup.tar.gz", "gz"},
		{"Makefile", ""},
		{".bashrc", "bashrc"},
		{"trailing.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecord(t, fsmgr, "/x/"+tt.name, nil)
			if got := r.Extension(); got != tt.want {
				t.Errorf("Extension() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileRecord_Hash(t *testing.T) {
	ctx := context.Background()
	fsmgr := testutil.NewMockFilesystemManager()
	content := []byte("the quick brown fox jumps over the lazy dog")
	r := newRecord(t, fsmgr, "/data/fox.txt", content)

	d, err := r.Hash(ctx)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if d != testutil.DigestOf(content) {
		t.Errorf("Hash() = %s, want %s", d, testutil.SHA256Hex(content))
	}
	if cached, ok := r.Digest(); !ok || cached != d {
		t.Error("Digest() not cached after Hash()")
	}

	for _, chunk := range []int{1, 3, 7, 1 << 20} {
		got, err := r.HashBuffered(ctx, chunk)
		if err != nil {
			t.Fatalf("HashBuffered(%d) error = %v", chunk, err)
		}
		if got != d {
			t.Errorf("HashBuffered(%d) = %s, want %s", chunk, got, d)
		}
	}

	t.Run("failure keeps previous digest", func(t *testing.T) {
		fsmgr.FailOpen("/data/fox.txt", fs.ErrPermission)
		defer fsmgr.FailOpen("/data/fox.txt", nil)

		_, err := r.Hash(ctx)
		if !errors.Is(err, dupscan.ErrIO) || !errors.Is(err, fs.ErrPermission) {
			t.Errorf("Hash() error = %v, want ErrIO wrapping ErrPermission", err)
		}
		if cached, ok := r.Digest(); !ok || cached != d {
			t.Error("previous digest lost after failed Hash()")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := r.Hash(cctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Hash() error = %v, want context.Canceled", err)
		}
	})
}

func TestFileRecord_Tags(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	r := newRecord(t, fsmgr, "/data/a", []byte("a"))

	if !r.AddTag("keep") {
		t.Error("AddTag() = false for new tag")
	}
	if r.AddTag("keep") {
		t.Error("AddTag() = true for existing tag")
	}
	r.AddTag("archive")

	if got := r.Tags(); !slices.Equal(got, []string{"archive", "keep"}) {
		t.Errorf("Tags() = %v", got)
	}
	if !r.HasTag("keep") {
		t.Error("HasTag(keep) = false")
	}
	if !r.RemoveTag("keep") {
		t.Error("RemoveTag() = false for present tag")
	}
	if r.RemoveTag("keep") {
		t.Error("RemoveTag() = true for absent tag")
	}
	if got := r.Tags(); !slices.Equal(got, []string{"archive"}) {
		t.Errorf("Tags() = %v", got)
	}
}

func TestFileRecord_Move(t *testing.T) {
	setup := func(t *testing.T) (*testutil.MockFilesystemManager, *dupscan.FileRecord) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddDirectory("/dest")
		fsmgr.AddFile("/notdir", []byte("file"))
		r := newRecord(t, fsmgr, "/src/report.pdf", []byte("pdf"))
		r.AddTag("keep")
		return fsmgr, r
	}

	t.Run("success", func(t *testing.T) {
		fsmgr, r := setup(t)
		if err := r.Move("/dest"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if r.Path() != "/dest/report.pdf" || r.ParentPath() != "/dest" || r.Name() != "report.pdf" {
			t.Errorf("after Move() path = %q parent = %q name = %q", r.Path(), r.ParentPath(), r.Name())
		}
		if fsmgr.Exists("/src/report.pdf") || !fsmgr.Exists("/dest/report.pdf") {
			t.Error("file not relocated on disk")
		}
		if data, _ := fsmgr.Content("/dest/report.pdf"); string(data) != "pdf" {
			t.Errorf("moved content = %q, want %q", data, "pdf")
		}
		if !r.HasTag("keep") {
			t.Error("tags lost on Move()")
		}
	})

	t.Run("same directory is a no-op", func(t *testing.T) {
		_, r := setup(t)
		if err := r.Move("/src"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if r.Path() != "/src/report.pdf" {
			t.Errorf("Path() = %q", r.Path())
		}
	})

	failures := []struct {
		name    string
		dest    string
		prepare func(*testutil.MockFilesystemManager)
		also    error
	}{
		{name: "missing destination", dest: "/nowhere"},
		{name: "destination is a file", dest: "/notdir"},
		{
			name:    "target exists",
			dest:    "/dest",
			prepare: func(m *testutil.MockFilesystemManager) { m.AddFile("/dest/report.pdf", []byte("other")) },
			also:    dupscan.ErrExists,
		},
		{
			name:    "filesystem failure",
			dest:    "/dest",
			prepare: func(m *testutil.MockFilesystemManager) { m.FailMove("/src/report.pdf", fs.ErrPermission) },
			also:    fs.ErrPermission,
		},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			fsmgr, r := setup(t)
			if tt.prepare != nil {
				tt.prepare(fsmgr)
			}
			err := r.Move(tt.dest)
			if !errors.Is(err, dupscan.ErrMove) {
				t.Fatalf("Move() error = %v, want ErrMove", err)
			}
			if tt.also != nil && !errors.Is(err, tt.also) {
				t.Errorf("Move() error = %v, want it to wrap %v", err, tt.also)
			}
			if r.Path() != "/src/report.pdf" {
				t.Errorf("record changed after failed Move(): %q", r.Path())
			}
			if !fsmgr.Exists("/src/report.pdf") {
				t.Error("source removed after failed Move()")
			}
		})
	}
}

func TestFileRecord_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		r := newRecord(t, fsmgr, "/data/a", []byte("a"))

		if err := r.Delete(); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if !r.Deleted() || fsmgr.Exists("/data/a") {
			t.Error("file not deleted")
		}
		if _, err := r.Hash(ctx); !errors.Is(err, dupscan.ErrDeleted) {
			t.Errorf("Hash() after Delete() error = %v, want ErrDeleted", err)
		}
		if err := r.Move("/data"); !errors.Is(err, dupscan.ErrDeleted) {
			t.Errorf("Move() after Delete() error = %v, want ErrDeleted", err)
		}
		if err := r.Delete(); !errors.Is(err, dupscan.ErrDelete) {
			t.Errorf("second Delete() error = %v, want ErrDelete", err)
		}
	})

	t.Run("failure leaves record intact", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		r := newRecord(t, fsmgr, "/data/a", []byte("a"))
		fsmgr.FailRemove("/data/a", fs.ErrPermission)

		if err := r.Delete(); !errors.Is(err, dupscan.ErrDelete) {
			t.Fatalf("Delete() error = %v, want ErrDelete", err)
		}
		if r.Deleted() || !fsmgr.Exists("/data/a") {
			t.Error("record or file changed after failed Delete()")
		}
	})
}

func TestFileRecord_Rescan(t *testing.T) {
	ctx := context.Background()
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/keep", []byte("12345"))
	fsmgr.AddFile("/data/sub/grow", []byte("abc"))

	tree, _ := scanTree(t, fsmgr, "/data", dupscan.ScanOptions{HashEagerly: true})
	r := record(t, tree, "/data/sub/grow")
	r.AddTag("watched")
	if tree.AggregateSize() != 8 {
		t.Fatalf("AggregateSize() = %d, want 8", tree.AggregateSize())
	}

	t.Run("unchanged keeps digest", func(t *testing.T) {
		if err := r.Rescan(ctx, false); err != nil {
			t.Fatalf("Rescan() error = %v", err)
		}
		if _, ok := r.Digest(); !ok {
			t.Error("digest dropped although nothing changed")
		}
	})

	t.Run("changed content", func(t *testing.T) {
		fsmgr.AddFile("/data/sub/grow", []byte("abcdefghij"))
		if err := r.Rescan(ctx, false); err != nil {
			t.Fatalf("Rescan() error = %v", err)
		}
		if size, _ := r.Size(); size != 10 {
			t.Errorf("Size() = %d, want 10", size)
		}
		if _, ok := r.Digest(); ok {
			t.Error("stale digest kept after content change")
		}
		if tree.AggregateSize() != 15 {
			t.Errorf("root AggregateSize() = %d, want 15", tree.AggregateSize())
		}
		if err := tree.Verify(); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
		if !r.HasTag("watched") {
			t.Error("tags lost on Rescan()")
		}
	})

	t.Run("recompute hash", func(t *testing.T) {
		if err := r.Rescan(ctx, true); err != nil {
			t.Fatalf("Rescan() error = %v", err)
		}
		d, ok := r.Digest()
		if !ok || d != testutil.DigestOf([]byte("abcdefghij")) {
			t.Error("digest not recomputed")
		}
	})

	t.Run("failed rehash after change", func(t *testing.T) {
		fsmgr.AddFile("/data/sub/grow", []byte("abcdefghijklmno"))
		fsmgr.FailOpen("/data/sub/grow", fs.ErrPermission)
		defer fsmgr.FailOpen("/data/sub/grow", nil)

		err := r.Rescan(ctx, true)
		if !errors.Is(err, dupscan.ErrIO) {
			t.Fatalf("Rescan() error = %v, want ErrIO", err)
		}
		if _, ok := r.Digest(); ok {
			t.Error("digest of old content kept after failed rehash")
		}
		if size, _ := r.Size(); size != 15 {
			t.Errorf("Size() = %d, want 15", size)
		}
	})

	t.Run("failed rehash without change", func(t *testing.T) {
		if _, err := r.Hash(ctx); err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
		fsmgr.FailOpen("/data/sub/grow", fs.ErrPermission)
		defer fsmgr.FailOpen("/data/sub/grow", nil)

		if err := r.Rescan(ctx, true); !errors.Is(err, dupscan.ErrIO) {
			t.Fatalf("Rescan() error = %v, want ErrIO", err)
		}
		if d, ok := r.Digest(); !ok || d != testutil.DigestOf([]byte("abcdefghijklmno")) {
			t.Error("digest dropped although the file did not change")
		}
	})

	t.Run("file became dangling", func(t *testing.T) {
		fsmgr.AddSymlink("/data/link", "/data/keep")
		link, err := tree.AddFile("/data/link", nil)
		if err != nil {
			t.Fatalf("AddFile() error = %v", err)
		}
		before := tree.AggregateSize()

		if err := fsmgr.Remove("/data/keep"); err != nil {
			t.Fatal(err)
		}
		err = link.Rescan(ctx, false)
		if !errors.Is(err, dupscan.ErrStat) {
			t.Fatalf("Rescan() error = %v, want ErrStat", err)
		}
		if _, ok := link.Size(); ok {
			t.Error("Size() still known for dangling link")
		}
		if !tree.HasUnknownSizes() {
			t.Error("HasUnknownSizes() = false")
		}
		if tree.AggregateSize() != before-5 {
			t.Errorf("AggregateSize() = %d, want %d", tree.AggregateSize(), before-5)
		}
		if err := tree.Verify(); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
	})
}
