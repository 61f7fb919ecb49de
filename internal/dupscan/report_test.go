package dupscan_test

import (
	"errors"
	"io/fs"
	"sync"
	"testing"

	"dupscan/internal/dupscan"
)

func TestReport(t *testing.T) {
	r := dupscan.NewReport()
	if r.Err() != nil || r.Count(nil) != 0 {
		t.Fatal("new report not empty")
	}

	statErr := &dupscan.EntryError{Kind: dupscan.ErrStat, Op: "stat", Path: "/a", Err: fs.ErrPermission}
	ioErr := &dupscan.EntryError{Kind: dupscan.ErrIO, Op: "hash", Path: "/b"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(statErr)
			r.Add(nil)
		}()
	}
	wg.Wait()
	r.Add(ioErr)
	r.Notice("tag already present")

	if r.Count(nil) != 11 {
		t.Errorf("Count(nil) = %d, want 11", r.Count(nil))
	}
	if r.Count(dupscan.ErrStat) != 10 || r.Count(dupscan.ErrIO) != 1 || r.Count(dupscan.ErrMove) != 0 {
		t.Errorf("Count() by kind wrong: stat=%d io=%d", r.Count(dupscan.ErrStat), r.Count(dupscan.ErrIO))
	}
	if !errors.Is(r.Err(), fs.ErrPermission) {
		t.Error("Err() does not wrap the underlying cause")
	}
	if got := r.Notices(); len(got) != 1 {
		t.Errorf("Notices() = %v", got)
	}

	var nilReport *dupscan.Report
	nilReport.Add(statErr)
	nilReport.Notice("ignored")
}

func TestEntryError(t *testing.T) {
	err := &dupscan.EntryError{Kind: dupscan.ErrMove, Op: "move", Path: "/src/a", Err: fs.ErrExist}
	if !errors.Is(err, dupscan.ErrMove) || !errors.Is(err, fs.ErrExist) {
		t.Error("EntryError does not match its kind and cause")
	}
	if errors.Is(err, dupscan.ErrDelete) {
		t.Error("EntryError matches an unrelated kind")
	}
	if got := err.Error(); got != "move error: move /src/a: file already exists" {
		t.Errorf("Error() = %q", got)
	}

	var entry *dupscan.EntryError
	if !errors.As(error(err), &entry) || entry.Path != "/src/a" {
		t.Error("errors.As failed")
	}
}
