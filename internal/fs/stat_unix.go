//go:build linux

package fs

import (
	"fmt"
	"io/fs"
	"syscall"
	"time"

	"dupscan/internal/dupscan"
)

// ExtractStatData extracts Unix-specific stat data from a FileInfo.
func (m *OSFilesystemManager) ExtractStatData(info fs.FileInfo) (*dupscan.StatData, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}

	return &dupscan.StatData{
		AccessedAt: time.Unix(stat.Atim.Sec, stat.Atim.Nsec),
		ChangedAt:  time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec),
		Identity:   fmt.Sprintf("%d:%d", uint64(stat.Dev), uint64(stat.Ino)),
	}, nil
}
