// Package gate provides a production-ready resilience layer for LLM provider
// calls: rate limiting, circuit breaking, concurrency bounds, per-task
// request budgets, response caching and automatic fallback to a secondary
// provider.
//
// Every call goes through the full protection stack. Transient failures on
// the requested provider start a race between a delayed re-attempt and a
// single call to the other provider; the first success wins and is cached.
// Permanent failures (bad requests, auth errors, unparseable responses)
// propagate immediately.
//
// Features:
//   - Rolling-window rate limiter with safety margin and request-size cost scaling
//   - Per-provider circuit breaker with half-open trial probing
//   - Bounded per-provider concurrency
//   - Per-task call budgets so no task can monopolize quota
//   - Content-addressed response cache (successes only)
//   - Primary/secondary fallback race on transient failures
//   - Bounded-worker batch runner with task isolation
//   - Prometheus metrics integration
//
// Basic usage:
//
//	cfg := gate.NewDefaultConfig(os.Getenv("OPENAI_API_KEY"))
//	router, err := gate.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := router.Invoke(ctx, gate.Request{
//	    TaskID: "event-123",
//	    Kind:   "theme",
//	    Text:   prompt,
//	})
package gate
