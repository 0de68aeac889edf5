package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinytrack/pkg/config"
)

// WriteMonitor tracks whether event writes are reaching storage.
type WriteMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastFailure       time.Time
	consecutiveErrors int
	lastError         string
	total             uint64
	failed            uint64
}

// RecordSuccess records a persisted event.
func (wm *WriteMonitor) RecordSuccess() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.lastSuccess = time.Now()
	wm.consecutiveErrors = 0
	wm.lastError = ""
	wm.total++
}

// RecordFailure records a write that did not reach storage.
func (wm *WriteMonitor) RecordFailure(err error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.lastFailure = time.Now()
	wm.consecutiveErrors++
	wm.total++
	wm.failed++
	if err != nil {
		wm.lastError = err.Error()
	}
}

// IsHealthy is false after more than MaxConsecutiveWriteFailures failed
// writes in a row. A server that has not written anything yet is healthy.
func (wm *WriteMonitor) IsHealthy() bool {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.consecutiveErrors <= config.MaxConsecutiveWriteFailures
}

// WriteStatus is the write health reported by /health.
type WriteStatus struct {
	Healthy           bool   `json:"healthy"`
	TotalWrites       uint64 `json:"total_writes"`
	FailedWrites      uint64 `json:"failed_writes"`
	LastSuccess       string `json:"last_success,omitempty"`
	LastFailure       string `json:"last_failure,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current write status for health checks.
func (wm *WriteMonitor) Status() WriteStatus {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	status := WriteStatus{
		Healthy:      wm.consecutiveErrors <= config.MaxConsecutiveWriteFailures,
		TotalWrites:  wm.total,
		FailedWrites: wm.failed,
	}
	if !wm.lastSuccess.IsZero() {
		status.LastSuccess = wm.lastSuccess.Format(time.RFC3339)
	}
	if !wm.lastFailure.IsZero() {
		status.LastFailure = wm.lastFailure.Format(time.RFC3339)
	}
	if wm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = wm.consecutiveErrors
		status.LastError = wm.lastError
	}
	return status
}
