package gate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// FailureKind classifies why a provider call failed.
type FailureKind string

const (
	KindRateLimited        FailureKind = "rate_limited"
	KindOverloaded         FailureKind = "overloaded"
	KindServerError        FailureKind = "server_error"
	KindTimeout            FailureKind = "timeout"
	KindUnauthorized       FailureKind = "unauthorized"
	KindMalformedRequest   FailureKind = "malformed_request"
	KindMalformedResponse  FailureKind = "malformed_response"
	KindUnsupportedContent FailureKind = "unsupported_content"
	KindUnknown            FailureKind = "unknown"
)

// Error definitions
var (
	ErrMissingAPIKey   = errors.New("provider API key is required")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrBudgetExhausted = errors.New("request budget exhausted")
)

// TransientError is a failure worth retrying: the provider was overloaded,
// rate limiting, erroring server-side, or the attempt timed out.
type TransientError struct {
	Kind       FailureKind
	RetryAfter time.Duration // provider-suggested wait, zero when no hint was given
	Err        error
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient failure (%s, retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("transient failure (%s): %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that retrying cannot fix, such as a malformed
// request or unsupported content. It is propagated to the caller immediately.
type PermanentError struct {
	Kind FailureKind
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure (%s): %v", e.Kind, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// RaceError reports that both sides of a fallback race failed. It carries
// the error from each side so callers can inspect both kinds.
type RaceError struct {
	PrimaryErr   error
	SecondaryErr error
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("both providers failed: primary: %v; secondary: %v", e.PrimaryErr, e.SecondaryErr)
}

// IsTransient reports whether an error is transient-class for racing
// purposes. Circuit-open rejections count as transient: the provider may
// recover, and the fallback side of the race can still win.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded)
}

// RetryAfterHint extracts a provider-suggested retry delay from an error,
// if one was attached during classification.
func RetryAfterHint(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}

// Patterns providers embed in throttling messages, e.g.
// "retry_delay { seconds: 49 }" or "please retry in 49.42s".
var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry_delay\s*\{\s*seconds:\s*(\d+)`),
	regexp.MustCompile(`(?i)retry in (\d+\.?\d*)\s*s`),
	regexp.MustCompile(`(?i)wait (\d+\.?\d*)\s*seconds?`),
	regexp.MustCompile(`(?i)retry after (\d+\.?\d*)\s*s`),
}

// ParseRetryAfter extracts a suggested delay from free-text provider error
// messages on a best-effort basis. Returns false when no pattern matches.
func ParseRetryAfter(msg string) (time.Duration, bool) {
	for _, p := range retryAfterPatterns {
		m := p.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
