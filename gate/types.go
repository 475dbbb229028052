package gate

import (
	"context"
)

// Role identifies which configured provider a request is directed at.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Request describes one logical provider call made on behalf of a task.
type Request struct {
	TaskID          string // logical task this call is billed against
	Kind            string // call type recorded in the budget history, e.g. "theme", "pdf", "image"
	Provider        Role   // preferred provider; defaults to RolePrimary
	Text            string // normalized prompt text
	ContentHash     string // content hash of any attached binary payload, empty if none
	EstimatedTokens int    // rough size estimate used for rate-limit pacing; 0 = estimate from Text
}

// Result is a successful provider response.
type Result struct {
	Body         string // response body from the winning provider
	Provider     string // name of the provider that produced the body
	Cached       bool   // true when served from the response cache
	FromFallback bool   // true when the fallback provider won the race
}

// Transport performs a single opaque call against one provider. The gate
// layers rate limiting, circuit breaking and concurrency bounds around it;
// implementations only transmit the request and classify the outcome.
type Transport interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HealthStatus represents the health state of the gate
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}
