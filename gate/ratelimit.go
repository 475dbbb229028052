package gate

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

const (
	// windowExitGuard pads the wait for the oldest admission to leave the
	// window, so a clock-granularity race cannot re-admit a hair early.
	windowExitGuard = 100 * time.Millisecond

	// maxSpacingDelay caps minimum-spacing delays. Only at-capacity waits
	// are allowed to exceed this.
	maxSpacingDelay = time.Second

	largeRequestTokens  = 2000
	mediumRequestTokens = 1000
)

// RateLimiterConfig configures a per-provider rate limiter.
type RateLimiterConfig struct {
	// Name identifies the provider in logs and metrics.
	Name string

	// RPMLimit is the nominal number of requests allowed per window
	// before the safety factor is applied. Default: 150
	RPMLimit int

	// SafetyFactor is the fraction of RPMLimit actually used (0.9 = 90%).
	// Default: 0.9
	SafetyFactor float64

	// Window is the rolling admission window. Default: 1 minute
	Window time.Duration

	// JitterEnabled randomizes delays to avoid synchronized bursts across
	// concurrent callers.
	JitterEnabled bool

	// JitterMin and JitterMax bound the uniform random factor applied to
	// computed delays. Defaults: 1.0 and 1.25
	JitterMin float64
	JitterMax float64
}

// RateLimiter admits calls to one provider at a bounded rate using a
// rolling window of admission timestamps. It never rejects a call, it only
// delays it; at most floor(RPMLimit x SafetyFactor) admissions exist in any
// sliding window.
type RateLimiter struct {
	name        string
	effective   int
	window      time.Duration
	minInterval time.Duration
	jitter      bool
	jitterMin   float64
	jitterMax   float64

	mu       sync.Mutex
	admitted []time.Time
	last     time.Time
}

// NewRateLimiter creates a rate limiter for one provider.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RPMLimit <= 0 {
		cfg.RPMLimit = 150
	}
	if cfg.SafetyFactor <= 0 || cfg.SafetyFactor > 1 {
		cfg.SafetyFactor = 0.9
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = 1.0
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin + 0.25
	}

	effective := int(float64(cfg.RPMLimit) * cfg.SafetyFactor)
	if effective < 1 {
		effective = 1
	}

	slog.Info("Rate limiter initialized",
		"provider", cfg.Name,
		"effective_rpm", effective,
		"safety_factor", cfg.SafetyFactor,
		"window", cfg.Window)

	return &RateLimiter{
		name:        cfg.Name,
		effective:   effective,
		window:      cfg.Window,
		minInterval: cfg.Window / time.Duration(effective),
		jitter:      cfg.JitterEnabled,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
	}
}

// EstimateTokens gives a rough request size estimate: ~4 characters per
// token for text, attachments counted as a flat 1000 tokens. This is a
// pacing heuristic, not billing-grade accounting.
func EstimateTokens(text string, hasAttachment bool) int {
	tokens := len(text) / 4
	if hasAttachment {
		tokens += 1000
	}
	return tokens
}

// Acquire blocks until the call may proceed, then records the admission.
// Returns the delay that was applied. The only error is ctx cancellation.
//
// The mutex is held across the wait: two callers computing delays against
// the same window snapshot could otherwise both admit into one slot.
func (l *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.purgeLocked(now)

	delay := l.delayLocked(now, estimatedTokens)
	if delay > 0 {
		slog.Debug("Rate limiter delaying call",
			"provider", l.name,
			"delay", delay,
			"in_window", len(l.admitted),
			"effective_rpm", l.effective)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	at := time.Now()
	l.admitted = append(l.admitted, at)
	l.last = at
	return delay, nil
}

func (l *RateLimiter) delayLocked(now time.Time, estimatedTokens int) time.Duration {
	mult := costMultiplier(estimatedTokens)

	if len(l.admitted) >= l.effective {
		// At capacity: wait for the oldest admission to exit the window.
		exit := l.admitted[0].Add(l.window).Sub(now)
		if exit < 0 {
			exit = 0
		}
		delay := l.scale(time.Duration(float64(exit+windowExitGuard)*mult), exit)
		return delay
	}

	// Under capacity: enforce minimum spacing since the last admission.
	if l.last.IsZero() {
		return 0
	}
	since := now.Sub(l.last)
	if since >= l.minInterval {
		return 0
	}
	delay := time.Duration(float64(l.minInterval-since) * mult)
	if delay > maxSpacingDelay {
		delay = maxSpacingDelay
	}
	return l.scale(delay, 0)
}

// scale applies the jitter factor. floor is the wait the rate bound
// requires; jitter may stretch a delay but never shave it below that.
func (l *RateLimiter) scale(delay, floor time.Duration) time.Duration {
	if l.jitter && delay > 0 {
		f := l.jitterMin + rand.Float64()*(l.jitterMax-l.jitterMin)
		delay = time.Duration(float64(delay) * f)
	}
	if delay < floor {
		delay = floor
	}
	return delay
}

func (l *RateLimiter) purgeLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admitted) && l.admitted[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[i:]...)
	}
}

// CurrentRate returns the number of admissions in the current window.
func (l *RateLimiter) CurrentRate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(time.Now())
	return len(l.admitted)
}

// AvailableQuota returns the number of admissions left in the current window.
func (l *RateLimiter) AvailableQuota() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(time.Now())
	if n := l.effective - len(l.admitted); n > 0 {
		return n
	}
	return 0
}

// Reset clears the admission history.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admitted = l.admitted[:0]
	l.last = time.Time{}
	slog.Info("Rate limiter reset", "provider", l.name)
}

// costMultiplier stretches delays for larger requests: big payloads consume
// more provider-side capacity than the per-request window accounts for.
func costMultiplier(estimatedTokens int) float64 {
	switch {
	case estimatedTokens > largeRequestTokens:
		return 1.2
	case estimatedTokens > mediumRequestTokens:
		return 1.1
	default:
		return 1.0
	}
}
