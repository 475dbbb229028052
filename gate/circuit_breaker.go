package gate

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed means the provider is called normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen means calls are rejected without touching the network.
	BreakerOpen
	// BreakerHalfOpen means a single trial call is probing recovery.
	BreakerHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a per-provider circuit breaker.
type BreakerConfig struct {
	// Name identifies the provider in logs and metrics.
	Name string

	// ErrorThreshold is the failure-rate fraction that opens the breaker.
	// Default: 0.7
	ErrorThreshold float64

	// Window is the rolling sample window for the failure rate.
	// Default: 30 seconds
	Window time.Duration

	// Cooldown is how long the breaker stays open before admitting a
	// half-open trial. Default: 10 seconds
	Cooldown time.Duration

	// MinSamples is the minimum number of outcomes in the window before
	// the failure rate is acted on. Default: 10
	MinSamples int

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to BreakerState)
}

type breakerSample struct {
	at time.Time
	ok bool
}

// Breaker isolates a failing provider: it tracks call outcomes in a rolling
// window and, once the failure rate crosses the threshold, rejects calls
// for a cooldown period before probing recovery with a single trial call.
type Breaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	samples       []breakerSample
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker creates a circuit breaker for one provider.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.ErrorThreshold <= 0 || cfg.ErrorThreshold > 1 {
		cfg.ErrorThreshold = 0.7
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}

	slog.Info("Circuit breaker initialized",
		"name", cfg.Name,
		"error_threshold", cfg.ErrorThreshold,
		"window", cfg.Window,
		"cooldown", cfg.Cooldown,
		"min_samples", cfg.MinSamples)

	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until the cooldown has elapsed; at that point exactly one
// caller is admitted as the half-open trial and the rest keep getting
// ErrCircuitOpen until the trial resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transitionLocked(BreakerHalfOpen)
		b.trialInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// Record feeds a call outcome into the breaker. In the closed state it
// appends to the rolling window and opens the breaker when the window holds
// at least MinSamples outcomes with a failure rate at or above the
// threshold. In the half-open state it resolves the trial. Outcomes
// arriving while open (late race losers) are kept for accounting only.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case BreakerHalfOpen:
		b.trialInFlight = false
		if success {
			b.samples = b.samples[:0]
			b.transitionLocked(BreakerClosed)
		} else {
			b.openedAt = now
			b.transitionLocked(BreakerOpen)
		}

	case BreakerOpen:
		b.samples = append(b.samples, breakerSample{at: now, ok: success})

	default:
		b.samples = append(b.samples, breakerSample{at: now, ok: success})
		b.purgeLocked(now)

		total := len(b.samples)
		if total < b.cfg.MinSamples {
			return
		}
		failures := 0
		for _, s := range b.samples {
			if !s.ok {
				failures++
			}
		}
		rate := float64(failures) / float64(total)
		if rate >= b.cfg.ErrorThreshold {
			b.openedAt = now
			b.transitionLocked(BreakerOpen)
			slog.Warn("Circuit breaker opened",
				"name", b.cfg.Name,
				"failure_rate", rate,
				"failures", failures,
				"samples", total)
		}
	}
}

// abortTrial releases the half-open trial slot when the admitted call never
// reached the transport (context cancelled before dispatch), so the slot is
// not leaked.
func (b *Breaker) abortTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed and clears the sample window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
	b.trialInFlight = false
	if b.state != BreakerClosed {
		b.transitionLocked(BreakerClosed)
	}
	slog.Info("Circuit breaker reset", "name", b.cfg.Name)
}

// BreakerStats is a point-in-time snapshot for health reporting.
type BreakerStats struct {
	State       BreakerState
	Samples     int
	Failures    int
	FailureRate float64
	OpenedAt    time.Time
}

// Stats returns a snapshot of the breaker's window.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures := 0
	for _, s := range b.samples {
		if !s.ok {
			failures++
		}
	}
	stats := BreakerStats{
		State:    b.state,
		Samples:  len(b.samples),
		Failures: failures,
		OpenedAt: b.openedAt,
	}
	if len(b.samples) > 0 {
		stats.FailureRate = float64(failures) / float64(len(b.samples))
	}
	return stats
}

// GetHealth returns the health status of the circuit breaker
func (b *Breaker) GetHealth() HealthStatus {
	stats := b.Stats()

	var healthy bool
	switch stats.State {
	case BreakerClosed:
		healthy = true
	case BreakerHalfOpen:
		healthy = true // Degraded but operational
	case BreakerOpen:
		healthy = false
	}

	return HealthStatus{
		Healthy: healthy,
		Status:  stats.State.String(),
		Details: map[string]interface{}{
			"state":        stats.State.String(),
			"samples":      stats.Samples,
			"failures":     stats.Failures,
			"failure_rate": stats.FailureRate,
		},
	}
}

func (b *Breaker) transitionLocked(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	slog.Warn("Circuit breaker state changed",
		"name", b.cfg.Name,
		"from", from.String(),
		"to", to.String())

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

func (b *Breaker) purgeLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}
