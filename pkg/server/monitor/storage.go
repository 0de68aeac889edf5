package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/tinytrack/pkg/config"
)

// StorageMonitor reports how much disk the event log uses. Walking the data
// directory is slow, so the result is cached.
type StorageMonitor struct {
	dataDir  string
	maxBytes int64
	cacheFor time.Duration

	mu        sync.Mutex
	cached    int64
	lastCheck time.Time
}

// NewStorageMonitor creates a monitor for dataDir with a byte limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:  dataDir,
		maxBytes: maxBytes,
		cacheFor: config.StorageUsageCacheFor,
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheFor {
		return sm.cached, nil
	}

	usage, err := dirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cached = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		n, err := diskUsage(path, info)
		if err != nil {
			n = info.Size()
		}
		size += n
		return nil
	})
	return size, err
}
