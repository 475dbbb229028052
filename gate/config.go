package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ProviderConfig describes one provider endpoint and its protection limits.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string // empty for the default OpenAI endpoint
	Model   string

	// Rate limiter
	RPMLimit     int     // nominal requests per minute, default 150
	SafetyFactor float64 // fraction of RPMLimit actually used, default 0.9

	// Concurrency gate
	MaxConcurrency int // default 6 for primary, 1 for secondary

	// Circuit breaker
	CircuitErrorThreshold float64       // default 0.7
	CircuitWindow         time.Duration // default 30s
	CircuitCooldown       time.Duration // default 10s
	CircuitMinSamples     int           // default 10

	// Jitter
	JitterEnabled bool
	JitterMin     float64
	JitterMax     float64
}

// Config holds the complete gate configuration.
type Config struct {
	Primary   ProviderConfig
	Secondary *ProviderConfig // nil disables the fallback race

	MaxCallsPerTask   int           // per-task budget, default 5
	WorkerPoolSize    int           // batch runner workers, default 4
	AttemptTimeout    time.Duration // wall clock per transport attempt, default 60s
	RetryInitialDelay time.Duration // reattempt backoff seed, default 500ms
	RetryMaxDelay     time.Duration // reattempt backoff cap, default 2s
	EnableMetrics     bool
}

// NewDefaultConfig creates a config with sensible defaults
func NewDefaultConfig(apiKey string) Config {
	if apiKey == "" {
		panic("API key is required")
	}

	return Config{
		Primary: ProviderConfig{
			Name:           "primary",
			APIKey:         apiKey,
			Model:          openai.GPT4oMini,
			RPMLimit:       150,
			SafetyFactor:   0.9,
			MaxConcurrency: 6,
		},
		MaxCallsPerTask:   5,
		WorkerPoolSize:    4,
		AttemptTimeout:    60 * time.Second,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     2 * time.Second,
	}
}

// NewProductionConfig creates a production-ready config with a fallback
// provider, jitter and metrics enabled.
func NewProductionConfig(primaryKey, secondaryKey string) Config {
	cfg := NewDefaultConfig(primaryKey)
	cfg.Primary.JitterEnabled = true
	cfg.EnableMetrics = true

	if secondaryKey != "" {
		cfg = cfg.WithSecondary(ProviderConfig{
			Name:           "secondary",
			APIKey:         secondaryKey,
			Model:          openai.GPT4oMini,
			RPMLimit:       60,
			SafetyFactor:   0.9,
			MaxConcurrency: 1,
			JitterEnabled:  true,
		})
	}
	return cfg
}

// WithSecondary sets the fallback provider
func (c Config) WithSecondary(p ProviderConfig) Config {
	if p.Name == "" {
		p.Name = "secondary"
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = 1
	}
	c.Secondary = &p
	return c
}

// WithMaxCallsPerTask sets the per-task request budget
func (c Config) WithMaxCallsPerTask(max int) Config {
	if max <= 0 {
		panic("MaxCallsPerTask must be positive")
	}
	c.MaxCallsPerTask = max
	return c
}

// WithWorkerPoolSize sets the batch runner worker count
func (c Config) WithWorkerPoolSize(workers int) Config {
	if workers <= 0 {
		panic("WorkerPoolSize must be positive")
	}
	c.WorkerPoolSize = workers
	return c
}

// WithAttemptTimeout sets the per-attempt wall clock timeout
func (c Config) WithAttemptTimeout(timeout time.Duration) Config {
	if timeout < 0 {
		panic("timeout must be positive")
	}
	c.AttemptTimeout = timeout
	return c
}

// WithMetrics enables Prometheus metrics
func (c Config) WithMetrics() Config {
	c.EnableMetrics = true
	return c
}

// WithModel sets the model on the primary provider
func (c Config) WithModel(model string) Config {
	c.Primary.Model = model
	return c
}

// WithRateLimit sets the primary provider's nominal RPM limit
func (c Config) WithRateLimit(rpm int) Config {
	if rpm <= 0 {
		panic("RPMLimit must be positive")
	}
	c.Primary.RPMLimit = rpm
	return c
}

// WithMaxConcurrency sets the primary provider's concurrency bound
func (c Config) WithMaxConcurrency(max int) Config {
	if max <= 0 {
		panic("MaxConcurrency must be positive")
	}
	c.Primary.MaxConcurrency = max
	return c
}

// Validate checks if the config is valid
func (c Config) Validate() error {
	if err := c.Primary.validate("primary"); err != nil {
		return err
	}
	if c.Secondary != nil {
		if err := c.Secondary.validate("secondary"); err != nil {
			return err
		}
	}

	if c.MaxCallsPerTask < 0 {
		return errors.New("MaxCallsPerTask must be non-negative")
	}
	if c.WorkerPoolSize < 0 {
		return errors.New("WorkerPoolSize must be non-negative")
	}
	if c.AttemptTimeout < 0 {
		return errors.New("AttemptTimeout must be non-negative")
	}
	if c.RetryInitialDelay < 0 || c.RetryMaxDelay < 0 {
		return errors.New("retry delays must be non-negative")
	}
	if c.RetryMaxDelay > 0 && c.RetryInitialDelay > c.RetryMaxDelay {
		return errors.New("RetryInitialDelay must not exceed RetryMaxDelay")
	}

	return nil
}

func (p ProviderConfig) validate(role string) error {
	if p.APIKey == "" {
		return fmt.Errorf("%s: %w", role, ErrMissingAPIKey)
	}
	if p.RPMLimit < 0 {
		return fmt.Errorf("%s: RPMLimit must be non-negative", role)
	}
	if p.SafetyFactor < 0 || p.SafetyFactor > 1 {
		return fmt.Errorf("%s: SafetyFactor must be between 0 and 1", role)
	}
	if p.MaxConcurrency < 0 {
		return fmt.Errorf("%s: MaxConcurrency must be non-negative", role)
	}
	if p.CircuitErrorThreshold < 0 || p.CircuitErrorThreshold > 1 {
		return fmt.Errorf("%s: CircuitErrorThreshold must be between 0 and 1", role)
	}
	if p.JitterEnabled && p.JitterMax != 0 && p.JitterMax < p.JitterMin {
		return fmt.Errorf("%s: JitterMax must not be below JitterMin", role)
	}
	return nil
}
