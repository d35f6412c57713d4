// Package health tracks pipeline liveness. The monitor records a heartbeat
// per processed block and reports unhealthy once the feed has been silent for
// longer than the allowed downtime; the circuit breaker trips after repeated
// downstream failures and re-closes after a cooldown.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor is the pipeline's health signal. It performs no reconnection
// itself; a feed outage past MaxDowntime is surfaced as unhealthy and the
// operator (or orchestrator) restarts the process.
type Monitor struct {
	mu          sync.Mutex
	lastOK      time.Time
	maxDowntime time.Duration
	logger      *slog.Logger
}

// NewMonitor creates a Monitor that tolerates the given feed silence.
func NewMonitor(maxDowntime time.Duration, logger *slog.Logger) *Monitor {
	if maxDowntime <= 0 {
		maxDowntime = 2 * time.Minute
	}
	return &Monitor{
		lastOK:      time.Now(),
		maxDowntime: maxDowntime,
		logger:      logger.With(slog.String("component", "health")),
	}
}

// Beat records a successful heartbeat, one per processed block.
func (m *Monitor) Beat() {
	m.mu.Lock()
	m.lastOK = time.Now()
	m.mu.Unlock()
}

// Healthy reports whether a heartbeat arrived within the allowed downtime.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastOK) <= m.maxDowntime
}

// LastBeat returns the time of the most recent heartbeat.
func (m *Monitor) LastBeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOK
}

// CircuitBreaker trips open after Threshold consecutive failures and lets a
// probe through once Cooldown has elapsed; a success re-closes it.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openedAt  time.Time
	cooldown  time.Duration
	logger    *slog.Logger
}

// NewCircuitBreaker creates a breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration, logger *slog.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger.With(slog.String("component", "circuit_breaker")),
	}
}

// Allow reports whether a call may proceed. While open, only one probe per
// cooldown interval passes.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.openedAt = time.Now() // half-open, admit one probe
		return true
	}
	return false
}

// Failure records a failed call, tripping the breaker at the threshold.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
		b.logger.Warn("circuit breaker opened",
			slog.Int("failures", b.failures),
			slog.Duration("cooldown", b.cooldown),
		)
	}
}

// Trip forces the breaker open immediately, for a dependency that is gone
// for good rather than flaky.
func (b *CircuitBreaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		b.logger.Warn("circuit breaker tripped open")
	}
	b.failures = b.threshold
	b.openedAt = time.Now()
}

// Success re-closes the breaker.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures >= b.threshold {
		b.logger.Info("circuit breaker closed")
	}
	b.failures = 0
}

// Open reports whether the breaker is currently rejecting calls.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold && time.Since(b.openedAt) < b.cooldown
}
