// Package idle implements the shared inactivity countdown that decides
// when the daemon shuts itself down.
package idle

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor is a countdown timer shared by every store service in the
// process. Any activity calls Reset, which restarts the countdown; if the
// countdown ever elapses uninterrupted, Done is closed exactly once and
// the daemon is expected to exit.
type Monitor struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
	fired bool
	done  chan struct{}
}

// NewMonitor creates a monitor with the given timeout. The countdown does
// not start until the first Reset call.
func NewMonitor(timeout time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Reset restarts the idle countdown. Calling Reset after the monitor has
// fired is a no-op.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fired {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.timeout, m.expire)
}

// Done returns a channel that is closed when the idle timeout elapses.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Stop cancels the countdown without firing. Used during orderly shutdown
// triggered by something other than idleness.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) expire() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fired {
		return
	}
	m.fired = true
	m.logger.Info("services idle, requesting shutdown",
		zap.Duration("timeout", m.timeout))
	close(m.done)
}
