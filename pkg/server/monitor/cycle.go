package monitor

import (
	"sync"
	"time"
)

// CycleMonitor tracks aggregation cycle health and failures.
type CycleMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	now               func() time.Time
	started           time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	cycles            int
	failedUnits       int
	consecutiveErrors int
	lastError         string
}

// NewCycleMonitor creates a monitor that reports unhealthy when no cycle has
// succeeded within staleAfter.
func NewCycleMonitor(staleAfter time.Duration) *CycleMonitor {
	return newCycleMonitor(staleAfter, time.Now)
}

func newCycleMonitor(staleAfter time.Duration, now func() time.Time) *CycleMonitor {
	return &CycleMonitor{staleAfter: staleAfter, now: now, started: now()}
}

// RecordSuccess records a completed cycle. failedUnits is the number of
// units in it that could not be aggregated.
func (cm *CycleMonitor) RecordSuccess(failedUnits int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := cm.now()
	cm.lastSuccess = now
	cm.lastAttempt = now
	cm.cycles++
	cm.failedUnits = failedUnits
	cm.consecutiveErrors = 0
	cm.lastError = ""
}

// RecordFailure records a cycle that stopped with an error.
func (cm *CycleMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = cm.now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// IsHealthy returns true if cycles are completing.
// Unhealthy conditions:
//   - The last cycle failed
//   - No success within staleAfter (counted from startup before the first one)
func (cm *CycleMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthy()
}

func (cm *CycleMonitor) healthy() bool {
	if cm.consecutiveErrors > 0 {
		return false
	}
	since := cm.lastSuccess
	if since.IsZero() {
		since = cm.started
	}
	return cm.staleAfter <= 0 || cm.now().Sub(since) <= cm.staleAfter
}

// CycleStatus is the monitor state reported by the health endpoint.
type CycleStatus struct {
	Healthy           bool   `json:"healthy"`
	Cycles            int    `json:"cycles"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	FailedUnits       int    `json:"failed_units"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current cycle status for health checks.
func (cm *CycleMonitor) Status() CycleStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CycleStatus{
		Healthy:     cm.healthy(),
		Cycles:      cm.cycles,
		FailedUnits: cm.failedUnits,
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = cm.now().Sub(cm.lastSuccess).Round(time.Second).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}
