// Package ratelimit implements the shared RateLimitManager used by every
// HTTP collector (spec §5), adapted from
// hyperliquid-system/src/utils/rate_limit_manager.py and mirroring the
// teacher's small stateful-manager-with-mutex idiom.
package ratelimit

import (
	"sync"
	"time"
)

// State is the manager's current posture.
type State string

const (
	StateNormal     State = "normal"
	StateSlowing    State = "slowing"
	StateRecovering State = "recovering"
)

// Manager tracks error/success streaks and exposes a delay multiplier.
type Manager struct {
	mu sync.Mutex

	state State

	errorThreshold   int
	maxErrorCount    int
	recoveryTime     time.Duration

	errorCount            int
	lastErrorTime         time.Time
	lastSuccessTime       time.Time
	consecutiveSuccesses  int
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithErrorThreshold overrides the default 3-error SLOWING threshold.
func WithErrorThreshold(n int) Option { return func(m *Manager) { m.errorThreshold = n } }

// WithMaxErrorCount overrides the default 6-error RECOVERING threshold.
func WithMaxErrorCount(n int) Option { return func(m *Manager) { m.maxErrorCount = n } }

// WithRecoveryTime overrides the default 300s clean-operation window.
func WithRecoveryTime(d time.Duration) Option { return func(m *Manager) { m.recoveryTime = d } }

// New creates a Manager starting in StateNormal.
func New(opts ...Option) *Manager {
	m := &Manager{
		state:           StateNormal,
		errorThreshold:  3,
		maxErrorCount:   6,
		recoveryTime:    300 * time.Second,
		lastSuccessTime: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReportError records a failed call and updates the state machine.
func (m *Manager) ReportError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount++
	m.lastErrorTime = time.Now()
	m.consecutiveSuccesses = 0
	m.updateFromErrors()
}

// ReportSuccess records a successful call and may trigger recovery.
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSuccessTime = time.Now()
	m.consecutiveSuccesses++

	if m.state == StateNormal {
		return
	}
	if time.Since(m.lastErrorTime) > m.recoveryTime && m.consecutiveSuccesses >= 5 {
		m.state = StateNormal
		m.errorCount = 0
	}
}

// DelayMultiplier returns the multiplier to apply to all caller-side delays.
func (m *Manager) DelayMultiplier() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateSlowing:
		return 2.0
	case StateRecovering:
		return 4.0
	default:
		return 1.0
	}
}

// Current returns the current posture.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) updateFromErrors() {
	if m.errorCount >= m.maxErrorCount {
		m.state = StateRecovering
	} else if m.errorCount >= m.errorThreshold {
		m.state = StateSlowing
	}
}
