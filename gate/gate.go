package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate caps the number of simultaneously in-flight calls to one
// provider. Acquire blocks until a permit is free; Release must be called
// exactly once per successful Acquire, normally via defer, so permits never
// leak regardless of how the call ends.
type ConcurrencyGate struct {
	name     string
	max      int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewConcurrencyGate creates a gate with the given permit bound.
func NewConcurrencyGate(name string, maxConcurrency int) *ConcurrencyGate {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &ConcurrencyGate{
		name: name,
		max:  int64(maxConcurrency),
		sem:  semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// Release returns a permit to the gate.
func (g *ConcurrencyGate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight returns the number of currently granted permits.
func (g *ConcurrencyGate) InFlight() int64 {
	return g.inFlight.Load()
}

// Max returns the permit bound.
func (g *ConcurrencyGate) Max() int64 {
	return g.max
}
