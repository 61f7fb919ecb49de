//go:build !linux

package fs

import (
	"io/fs"

	"dupscan/internal/dupscan"
)

// ExtractStatData falls back to the modification time where the platform
// stat structure is not decoded. Cycle detection then relies on the depth limit.
func (m *OSFilesystemManager) ExtractStatData(info fs.FileInfo) (*dupscan.StatData, error) {
	return &dupscan.StatData{
		AccessedAt: info.ModTime(),
		ChangedAt:  info.ModTime(),
	}, nil
}
