//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// diskUsage returns the bytes allocated to a file, which for sparse
// Badger value logs is much smaller than the logical size.
func diskUsage(_ string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return info.Size(), nil
	}
	return stat.Blocks * 512, nil
}
