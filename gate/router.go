package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// provider bundles one endpoint's transport with its protection layers.
type provider struct {
	name      string
	role      Role
	transport Transport
	limiter   *RateLimiter
	breaker   *Breaker
	gate      *ConcurrencyGate
}

// Router dispatches requests through the full protection stack: cache,
// budget, concurrency gate, circuit breaker and rate limiter, with a
// primary-retry versus fallback-provider race on transient failures.
type Router struct {
	primary   *provider
	secondary *provider // nil when no fallback is configured

	cache   *ResponseCache
	budgets *BudgetTracker
	metrics *MetricsRecorder

	attemptTimeout    time.Duration
	retryInitialDelay time.Duration
	retryMaxDelay     time.Duration
}

// New creates a router from the config, building real transports for the
// configured provider endpoints.
func New(cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	primaryT, err := NewChatTransport(cfg.Primary.Name, cfg.Primary.APIKey, cfg.Primary.BaseURL, cfg.Primary.Model)
	if err != nil {
		return nil, err
	}

	var secondaryT Transport
	if cfg.Secondary != nil {
		secondaryT, err = NewChatTransport(cfg.Secondary.Name, cfg.Secondary.APIKey, cfg.Secondary.BaseURL, cfg.Secondary.Model)
		if err != nil {
			return nil, err
		}
	}

	return NewWithTransports(cfg, primaryT, secondaryT), nil
}

// NewWithTransports creates a router with caller-supplied transports,
// typically for testing. secondary may be nil.
func NewWithTransports(cfg Config, primary, secondary Transport) *Router {
	metrics := NewMetricsRecorder(cfg.EnableMetrics)

	r := &Router{
		primary:           buildProvider(cfg.Primary, RolePrimary, primary, metrics),
		cache:             NewResponseCache(),
		budgets:           NewBudgetTracker(cfg.MaxCallsPerTask),
		metrics:           metrics,
		attemptTimeout:    cfg.AttemptTimeout,
		retryInitialDelay: cfg.RetryInitialDelay,
		retryMaxDelay:     cfg.RetryMaxDelay,
	}
	if r.attemptTimeout <= 0 {
		r.attemptTimeout = 60 * time.Second
	}
	if r.retryInitialDelay <= 0 {
		r.retryInitialDelay = 500 * time.Millisecond
	}
	if r.retryMaxDelay <= 0 {
		r.retryMaxDelay = 2 * time.Second
	}

	if cfg.Secondary != nil && secondary != nil {
		r.secondary = buildProvider(*cfg.Secondary, RoleSecondary, secondary, metrics)
	}

	slog.Info("Router initialized",
		"primary", r.primary.name,
		"fallback_enabled", r.secondary != nil,
		"attempt_timeout", r.attemptTimeout)

	return r
}

func buildProvider(cfg ProviderConfig, role Role, transport Transport, metrics *MetricsRecorder) *provider {
	name := cfg.Name
	if name == "" {
		name = string(role)
	}

	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		if role == RoleSecondary {
			maxConc = 1
		} else {
			maxConc = 6
		}
	}

	return &provider{
		name:      name,
		role:      role,
		transport: transport,
		limiter: NewRateLimiter(RateLimiterConfig{
			Name:          name,
			RPMLimit:      cfg.RPMLimit,
			SafetyFactor:  cfg.SafetyFactor,
			JitterEnabled: cfg.JitterEnabled,
			JitterMin:     cfg.JitterMin,
			JitterMax:     cfg.JitterMax,
		}),
		breaker: NewBreaker(BreakerConfig{
			Name:           name,
			ErrorThreshold: cfg.CircuitErrorThreshold,
			Window:         cfg.CircuitWindow,
			Cooldown:       cfg.CircuitCooldown,
			MinSamples:     cfg.CircuitMinSamples,
			OnStateChange: func(name string, from, to BreakerState) {
				metrics.RecordCircuitState(name, to)
				if to == BreakerOpen {
					metrics.RecordCircuitTrip(name)
				}
			},
		}),
		gate: NewConcurrencyGate(name, maxConc),
	}
}

// Invoke performs one logical provider call for a task. Cache hits return
// without consuming budget. A transient failure on the requested provider
// starts a race between a delayed re-attempt on that provider and a single
// attempt on the other provider; the first success wins. Permanent failures
// propagate immediately without racing.
func (r *Router) Invoke(ctx context.Context, req Request) (*Result, error) {
	requested, fallback, err := r.pick(req.Provider)
	if err != nil {
		return nil, err
	}

	if req.EstimatedTokens <= 0 {
		req.EstimatedTokens = EstimateTokens(req.Text, req.ContentHash != "")
	}

	fingerprint := Fingerprint(requested.name, req.Text, req.ContentHash)
	if body, ok := r.cache.Get(fingerprint); ok {
		r.metrics.RecordCacheHit()
		slog.Debug("Cache hit", "task", req.TaskID, "provider", requested.name)
		return &Result{Body: body, Provider: requested.name, Cached: true}, nil
	}
	r.metrics.RecordCacheMiss()

	budget := r.budgets.Get(req.TaskID)
	if err := budget.Check(); err != nil {
		r.metrics.RecordBudgetExhausted()
		return nil, err
	}

	body, err := r.attempt(ctx, requested, req)
	if err == nil {
		r.cache.Put(fingerprint, body)
		budget.Record(req.Kind, true)
		return &Result{Body: body, Provider: requested.name}, nil
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		budget.Record(req.Kind, false)
		return nil, err
	}
	if ctx.Err() != nil {
		budget.Record(req.Kind, false)
		return nil, ctx.Err()
	}

	return r.race(ctx, requested, fallback, req, fingerprint, budget, err)
}

// race runs a delayed re-attempt on the requested provider against a single
// attempt on the other provider and returns the first success. Attempts run
// on a context detached from the caller's cancellation so a late winner can
// still land in the cache; each attempt remains bounded by the gate timeout.
func (r *Router) race(ctx context.Context, requested, fallback *provider, req Request, fingerprint string, budget *Budget, firstErr error) (*Result, error) {
	detached := context.WithoutCancel(ctx)

	type outcome struct {
		provider     *provider
		fromFallback bool
		body         string
		err          error
	}
	results := make(chan outcome, 2)

	delay := r.reattemptDelay(firstErr)
	slog.Debug("Starting fallback race",
		"task", req.TaskID,
		"requested", requested.name,
		"reattempt_delay", delay,
		"fallback", fallback != nil)

	go func() {
		time.Sleep(delay)
		body, err := r.attempt(detached, requested, req)
		results <- outcome{provider: requested, body: body, err: err}
	}()

	expected := 1
	if fallback != nil {
		expected = 2
		go func() {
			body, err := r.attempt(detached, fallback, req)
			results <- outcome{provider: fallback, fromFallback: true, body: body, err: err}
		}()
	}

	var requestedErr, fallbackErr error
	for i := 0; i < expected; i++ {
		var out outcome
		select {
		case <-ctx.Done():
			budget.Record(req.Kind, false)
			return nil, ctx.Err()
		case out = <-results:
		}

		if out.err == nil {
			r.cache.Put(fingerprint, out.body)
			budget.Record(req.Kind, true)
			r.metrics.RecordRaceOutcome(string(out.provider.role))
			slog.Info("Fallback race won",
				"task", req.TaskID,
				"winner", out.provider.name,
				"from_fallback", out.fromFallback)
			return &Result{
				Body:         out.body,
				Provider:     out.provider.name,
				FromFallback: out.fromFallback,
			}, nil
		}
		if out.fromFallback {
			fallbackErr = out.err
		} else {
			requestedErr = out.err
		}
	}

	budget.Record(req.Kind, false)
	r.metrics.RecordRaceOutcome("none")

	if fallback == nil {
		return nil, requestedErr
	}
	return nil, &RaceError{PrimaryErr: requestedErr, SecondaryErr: fallbackErr}
}

// attempt makes one protected call: concurrency gate, circuit breaker,
// rate limiter, then the transport under the attempt timeout. The outcome
// is fed back into the provider's breaker, except for caller cancellations,
// which say nothing about provider health.
func (r *Router) attempt(ctx context.Context, p *provider, req Request) (string, error) {
	if err := p.gate.Acquire(ctx); err != nil {
		return "", err
	}
	defer p.gate.Release()
	r.metrics.RecordInFlight(p.name, 1)
	defer r.metrics.RecordInFlight(p.name, -1)

	if err := p.breaker.Allow(); err != nil {
		r.metrics.RecordAttempt(p.name, "circuit_open", 0)
		return "", err
	}

	delay, err := p.limiter.Acquire(ctx, req.EstimatedTokens)
	if err != nil {
		// Admitted past the breaker but never dispatched: a half-open
		// trial slot must not be left dangling.
		p.breaker.abortTrial()
		return "", err
	}
	r.metrics.RecordRateLimitDelay(p.name, delay.Seconds())
	r.metrics.RecordEstimatedTokens(p.name, req.EstimatedTokens)

	callCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	start := time.Now()
	body, err := p.transport.Complete(callCtx, req)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		p.breaker.Record(true)
		r.metrics.RecordAttempt(p.name, "success", elapsed)
		return body, nil
	}

	classified := ClassifyProviderError(err)
	if errors.Is(classified, context.Canceled) {
		p.breaker.abortTrial()
		r.metrics.RecordAttempt(p.name, "canceled", elapsed)
		return "", classified
	}

	p.breaker.Record(false)
	r.metrics.RecordAttempt(p.name, failureStatus(classified), elapsed)
	return "", classified
}

// reattemptDelay computes how long to hold the requested provider's
// re-attempt back. A provider-supplied retry-after hint caps the backoff;
// without one the configured maximum applies.
func (r *Router) reattemptDelay(err error) time.Duration {
	max := r.retryMaxDelay
	if hint, ok := RetryAfterHint(err); ok {
		max = hint
	}
	backoff := retry.WithCappedDuration(max, retry.NewExponential(r.retryInitialDelay))
	delay, _ := backoff.Next()
	return delay
}

func (r *Router) pick(role Role) (requested, fallback *provider, err error) {
	switch role {
	case RoleSecondary:
		if r.secondary == nil {
			return nil, nil, fmt.Errorf("%w: no secondary provider configured", ErrInvalidConfig)
		}
		return r.secondary, r.primary, nil
	default:
		return r.primary, r.secondary, nil
	}
}

// ReleaseBudget discards the budget for a finished task.
func (r *Router) ReleaseBudget(taskID string) {
	r.budgets.Release(taskID)
}

// CacheSize returns the number of cached responses.
func (r *Router) CacheSize() int {
	return r.cache.Len()
}

// GetHealth returns the health status of the router and its providers.
func (r *Router) GetHealth() HealthStatus {
	primary := r.primary.breaker.GetHealth()
	details := map[string]interface{}{
		"primary":      primary.Details,
		"cache_size":   r.cache.Len(),
		"active_tasks": r.budgets.Active(),
	}

	healthy := primary.Healthy
	if r.secondary != nil {
		secondary := r.secondary.breaker.GetHealth()
		details["secondary"] = secondary.Details
		// One live provider keeps the router serviceable.
		healthy = healthy || secondary.Healthy
	}

	status := "healthy"
	if !healthy {
		status = "all providers unavailable"
	}
	return HealthStatus{Healthy: healthy, Status: status, Details: details}
}

func failureStatus(err error) string {
	var te *TransientError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return string(KindUnknown)
}
