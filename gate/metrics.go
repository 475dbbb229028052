package gate

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Attempt metrics
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_gate_attempts_total",
			Help: "Total number of provider call attempts",
		},
		[]string{"provider", "status"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_gate_attempt_duration_seconds",
			Help:    "Duration of provider call attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Rate limiter metrics
	rateLimitDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_gate_ratelimit_delay_seconds",
			Help:    "Delay imposed by the rate limiter before admission",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	estimatedTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_gate_estimated_tokens_total",
			Help: "Total estimated tokens submitted for pacing",
		},
		[]string{"provider"},
	)

	// Circuit breaker metrics
	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_gate_circuit_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	circuitTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_gate_circuit_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"provider"},
	)

	// Cache metrics
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_gate_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_gate_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// Budget metrics
	budgetExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_gate_budget_exhausted_total",
			Help: "Total number of calls rejected for an exhausted task budget",
		},
	)

	// Race metrics
	raceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_gate_race_total",
			Help: "Total number of fallback races by winner",
		},
		[]string{"winner"}, // primary, secondary, none
	)

	// Concurrency metrics
	inFlightCalls = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_gate_inflight_calls",
			Help: "Number of provider calls currently in flight",
		},
		[]string{"provider"},
	)
)

// MetricsRecorder provides methods to record metrics
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

// RecordAttempt records one provider call attempt and its duration
func (m *MetricsRecorder) RecordAttempt(provider, status string, seconds float64) {
	if !m.enabled {
		return
	}
	attemptsTotal.WithLabelValues(provider, status).Inc()
	attemptDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordRateLimitDelay records the delay applied before admission
func (m *MetricsRecorder) RecordRateLimitDelay(provider string, seconds float64) {
	if !m.enabled {
		return
	}
	rateLimitDelay.WithLabelValues(provider).Observe(seconds)
}

// RecordEstimatedTokens records the token estimate for a request
func (m *MetricsRecorder) RecordEstimatedTokens(provider string, tokens int) {
	if !m.enabled {
		return
	}
	estimatedTokens.WithLabelValues(provider).Add(float64(tokens))
}

// RecordCircuitState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitState(provider string, state BreakerState) {
	if !m.enabled {
		return
	}
	var v float64
	switch state {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	circuitState.WithLabelValues(provider).Set(v)
}

// RecordCircuitTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitTrip(provider string) {
	if !m.enabled {
		return
	}
	circuitTrips.WithLabelValues(provider).Inc()
}

// RecordCacheHit records a response cache hit
func (m *MetricsRecorder) RecordCacheHit() {
	if !m.enabled {
		return
	}
	cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss
func (m *MetricsRecorder) RecordCacheMiss() {
	if !m.enabled {
		return
	}
	cacheMisses.Inc()
}

// RecordBudgetExhausted records a budget rejection
func (m *MetricsRecorder) RecordBudgetExhausted() {
	if !m.enabled {
		return
	}
	budgetExhausted.Inc()
}

// RecordRaceOutcome records which side won a fallback race
func (m *MetricsRecorder) RecordRaceOutcome(winner string) {
	if !m.enabled {
		return
	}
	raceTotal.WithLabelValues(winner).Inc()
}

// RecordInFlight updates the in-flight call gauge
func (m *MetricsRecorder) RecordInFlight(provider string, delta float64) {
	if !m.enabled {
		return
	}
	inFlightCalls.WithLabelValues(provider).Add(delta)
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RegisterCustomMetrics allows registration of custom metrics
func RegisterCustomMetrics(collector prometheus.Collector) error {
	return prometheus.Register(collector)
}
