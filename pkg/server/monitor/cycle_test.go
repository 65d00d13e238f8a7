package monitor

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestMonitor(staleAfter time.Duration) (*CycleMonitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newCycleMonitor(staleAfter, clock.now), clock
}

func TestCycleMonitor_RecordSuccess(t *testing.T) {
	cm, _ := newTestMonitor(time.Hour)
	cm.RecordSuccess(2)

	status := cm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", status.Cycles)
	}
	if status.FailedUnits != 2 {
		t.Errorf("FailedUnits = %d, want 2", status.FailedUnits)
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
}

func TestCycleMonitor_RecordFailure(t *testing.T) {
	cm, _ := newTestMonitor(time.Hour)
	cm.RecordFailure(errors.New("connection refused"))

	status := cm.Status()
	if status.Healthy {
		t.Error("Status should be unhealthy after a failed cycle")
	}
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "connection refused" {
		t.Errorf("LastError = %q, want %q", status.LastError, "connection refused")
	}
}

func TestCycleMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*CycleMonitor, *fakeClock)
		expected bool
	}{
		{
			name:     "starting up",
			setup:    func(*CycleMonitor, *fakeClock) {},
			expected: true,
		},
		{
			name: "first cycle overdue",
			setup: func(_ *CycleMonitor, c *fakeClock) {
				c.t = c.t.Add(2 * time.Hour)
			},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(cm *CycleMonitor, c *fakeClock) {
				c.t = c.t.Add(2 * time.Hour)
				cm.RecordSuccess(0)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(cm *CycleMonitor, c *fakeClock) {
				cm.RecordSuccess(0)
				c.t = c.t.Add(90 * time.Minute)
			},
			expected: false,
		},
		{
			name: "success after failure",
			setup: func(cm *CycleMonitor, _ *fakeClock) {
				cm.RecordFailure(errors.New("error 1"))
				cm.RecordSuccess(0)
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, clock := newTestMonitor(time.Hour)
			tt.setup(cm, clock)
			if got := cm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCycleMonitor_Status(t *testing.T) {
	cm, clock := newTestMonitor(time.Hour)
	cm.RecordSuccess(0)
	clock.t = clock.t.Add(5 * time.Minute)

	status := cm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy")
	}
	if status.LastSuccess != "2024-01-01T00:00:00Z" {
		t.Errorf("LastSuccess = %q", status.LastSuccess)
	}
	if status.TimeSinceSuccess != "5m0s" {
		t.Errorf("TimeSinceSuccess = %q, want 5m0s", status.TimeSinceSuccess)
	}
}
