package monitor

import (
	"errors"
	"testing"
)

func TestWriteMonitor_RecordSuccess(t *testing.T) {
	wm := &WriteMonitor{}
	wm.RecordFailure(errors.New("disk full"))
	wm.RecordSuccess()

	status := wm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
	if status.TotalWrites != 2 || status.FailedWrites != 1 {
		t.Errorf("TotalWrites/FailedWrites = %d/%d, want 2/1", status.TotalWrites, status.FailedWrites)
	}
}

func TestWriteMonitor_RecordFailure(t *testing.T) {
	wm := &WriteMonitor{}
	wm.RecordFailure(errors.New("disk full"))

	status := wm.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "disk full" {
		t.Errorf("LastError = %q, want %q", status.LastError, "disk full")
	}
	if status.LastFailure == "" {
		t.Error("LastFailure should be set")
	}
}

func TestWriteMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		recover  bool
		expected bool
	}{
		{name: "no writes yet", expected: true},
		{name: "three failures", failures: 3, expected: true},
		{name: "four failures", failures: 4, expected: false},
		{name: "recovered", failures: 10, recover: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wm := &WriteMonitor{}
			for i := 0; i < tt.failures; i++ {
				wm.RecordFailure(errors.New("write failed"))
			}
			if tt.recover {
				wm.RecordSuccess()
			}
			if got := wm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
