package gate_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hariV0078/provider-gate/gate"
)

func fastConfig() gate.Config {
	cfg := gate.NewDefaultConfig("test-key")
	cfg.Primary.RPMLimit = 10000
	cfg.AttemptTimeout = time.Second
	cfg.RetryInitialDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond
	return cfg
}

func fastConfigWithSecondary() gate.Config {
	return fastConfig().WithSecondary(gate.ProviderConfig{
		Name:     "secondary",
		APIKey:   "test-key-2",
		RPMLimit: 10000,
	})
}

func transientFailure(kind gate.FailureKind) error {
	return &gate.TransientError{Kind: kind, Err: errors.New("provider unavailable")}
}

var _ = Describe("Router", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Successful Invocation", func() {
		It("should return the provider response", func() {
			primary := &mockTransport{response: "YES"}
			router := gate.NewWithTransports(fastConfig(), primary, nil)

			result, err := router.Invoke(ctx, gate.Request{
				TaskID: "task-1",
				Kind:   "theme",
				Text:   "Is this a real event?",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Body).To(Equal("YES"))
			Expect(result.Provider).To(Equal("primary"))
			Expect(result.Cached).To(BeFalse())
			Expect(result.FromFallback).To(BeFalse())
			Expect(primary.callCount()).To(Equal(int32(1)))
		})
	})

	Describe("Response Cache", func() {
		It("should serve repeated requests from the cache without provider calls", func() {
			primary := &mockTransport{response: "YES"}
			router := gate.NewWithTransports(fastConfig(), primary, nil)

			req := gate.Request{TaskID: "task-1", Kind: "theme", Text: "same question"}

			first, err := router.Invoke(ctx, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Cached).To(BeFalse())

			second, err := router.Invoke(ctx, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(second.Cached).To(BeTrue())
			Expect(second.Body).To(Equal("YES"))
			Expect(primary.callCount()).To(Equal(int32(1)))
		})

		It("should serve cache hits even for a task with an exhausted budget", func() {
			primary := &mockTransport{response: "YES"}
			cfg := fastConfig().WithMaxCallsPerTask(1)
			router := gate.NewWithTransports(cfg, primary, nil)

			req := gate.Request{TaskID: "task-1", Kind: "theme", Text: "same question"}

			_, err := router.Invoke(ctx, req)
			Expect(err).ToNot(HaveOccurred())

			cached, err := router.Invoke(ctx, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(cached.Cached).To(BeTrue())
		})

		It("should never cache failures", func() {
			primary := &mockTransport{err: transientFailure(gate.KindServerError)}
			router := gate.NewWithTransports(fastConfig(), primary, nil)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})
			Expect(err).To(HaveOccurred())
			Expect(router.CacheSize()).To(Equal(0))

			primary.err = nil
			primary.response = "YES"

			result, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Cached).To(BeFalse())
			Expect(router.CacheSize()).To(Equal(1))
		})
	})

	Describe("Request Budget", func() {
		It("should fail fast once a task's budget is exhausted", func() {
			primary := &mockTransport{err: &gate.PermanentError{Kind: gate.KindMalformedRequest, Err: errors.New("bad request")}}
			cfg := fastConfig().WithMaxCallsPerTask(1)
			router := gate.NewWithTransports(cfg, primary, nil)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "q1"})
			Expect(err).To(HaveOccurred())

			_, err = router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "q2"})
			Expect(err).To(MatchError(gate.ErrBudgetExhausted))
			Expect(primary.callCount()).To(Equal(int32(1)))
		})

		It("should keep budgets isolated between tasks", func() {
			primary := &mockTransport{response: "YES"}
			cfg := fastConfig().WithMaxCallsPerTask(1)
			router := gate.NewWithTransports(cfg, primary, nil)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-a", Text: "q1"})
			Expect(err).ToNot(HaveOccurred())

			_, err = router.Invoke(ctx, gate.Request{TaskID: "task-b", Text: "q2"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should start fresh after a budget release", func() {
			primary := &mockTransport{response: "YES"}
			cfg := fastConfig().WithMaxCallsPerTask(1)
			router := gate.NewWithTransports(cfg, primary, nil)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "q1"})
			Expect(err).ToNot(HaveOccurred())
			router.ReleaseBudget("task-1")

			_, err = router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "q2"})
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("Permanent Failures", func() {
		It("should propagate immediately without touching the fallback", func() {
			primary := &mockTransport{err: &gate.PermanentError{Kind: gate.KindUnauthorized, Err: errors.New("invalid key")}}
			secondary := &mockTransport{response: "YES"}
			router := gate.NewWithTransports(fastConfigWithSecondary(), primary, secondary)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})

			var pe *gate.PermanentError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(gate.KindUnauthorized))
			Expect(secondary.callCount()).To(Equal(int32(0)))
		})
	})

	Describe("Fallback Race", func() {
		It("should let the secondary win when the primary keeps failing", func() {
			primary := &mockTransport{err: transientFailure(gate.KindServerError)}
			secondary := &mockTransport{response: "FALLBACK ANSWER"}
			router := gate.NewWithTransports(fastConfigWithSecondary(), primary, secondary)

			result, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Body).To(Equal("FALLBACK ANSWER"))
			Expect(result.Provider).To(Equal("secondary"))
			Expect(result.FromFallback).To(BeTrue())
		})

		It("should let the primary re-attempt win when it recovers", func() {
			failedOnce := false
			primary := &mockTransport{completeFunc: func(ctx context.Context, req gate.Request) (string, error) {
				if !failedOnce {
					failedOnce = true
					return "", transientFailure(gate.KindOverloaded)
				}
				return "RECOVERED", nil
			}}
			slowSecondary := &mockTransport{completeFunc: func(ctx context.Context, req gate.Request) (string, error) {
				time.Sleep(200 * time.Millisecond)
				return "SLOW", nil
			}}
			router := gate.NewWithTransports(fastConfigWithSecondary(), primary, slowSecondary)

			result, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Body).To(Equal("RECOVERED"))
			Expect(result.Provider).To(Equal("primary"))
			Expect(result.FromFallback).To(BeFalse())
		})

		It("should report both errors when both sides fail", func() {
			primary := &mockTransport{err: transientFailure(gate.KindServerError)}
			secondary := &mockTransport{err: transientFailure(gate.KindOverloaded)}
			router := gate.NewWithTransports(fastConfigWithSecondary(), primary, secondary)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})

			var raceErr *gate.RaceError
			Expect(errors.As(err, &raceErr)).To(BeTrue())

			var primarySide, secondarySide *gate.TransientError
			Expect(errors.As(raceErr.PrimaryErr, &primarySide)).To(BeTrue())
			Expect(primarySide.Kind).To(Equal(gate.KindServerError))
			Expect(errors.As(raceErr.SecondaryErr, &secondarySide)).To(BeTrue())
			Expect(secondarySide.Kind).To(Equal(gate.KindOverloaded))
		})

		It("should return the re-attempt error when no fallback is configured", func() {
			primary := &mockTransport{err: transientFailure(gate.KindServerError)}
			router := gate.NewWithTransports(fastConfig(), primary, nil)

			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "question"})

			var te *gate.TransientError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.Kind).To(Equal(gate.KindServerError))
			Expect(primary.callCount()).To(Equal(int32(2)))
		})
	})

	Describe("Circuit Breaking", func() {
		It("should skip the provider once its breaker opens", func() {
			primary := &mockTransport{err: transientFailure(gate.KindServerError)}
			cfg := fastConfig()
			cfg.Primary.CircuitErrorThreshold = 0.5
			cfg.Primary.CircuitMinSamples = 2
			cfg.Primary.CircuitCooldown = time.Minute
			router := gate.NewWithTransports(cfg, primary, nil)

			// Two failed attempts (initial plus re-attempt) trip the breaker.
			_, err := router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "q1"})
			Expect(err).To(HaveOccurred())
			Expect(primary.callCount()).To(Equal(int32(2)))

			_, err = router.Invoke(ctx, gate.Request{TaskID: "task-1", Text: "q2"})
			Expect(err).To(MatchError(gate.ErrCircuitOpen))
			Expect(primary.callCount()).To(Equal(int32(2)))
		})
	})

	Describe("Provider Selection", func() {
		It("should route explicitly requested secondary calls", func() {
			primary := &mockTransport{response: "PRIMARY"}
			secondary := &mockTransport{response: "SECONDARY"}
			router := gate.NewWithTransports(fastConfigWithSecondary(), primary, secondary)

			result, err := router.Invoke(ctx, gate.Request{
				TaskID:   "task-1",
				Provider: gate.RoleSecondary,
				Text:     "question",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Provider).To(Equal("secondary"))
			Expect(result.FromFallback).To(BeFalse())
			Expect(primary.callCount()).To(Equal(int32(0)))
		})

		It("should reject secondary requests when no secondary is configured", func() {
			router := gate.NewWithTransports(fastConfig(), &mockTransport{}, nil)

			_, err := router.Invoke(ctx, gate.Request{
				TaskID:   "task-1",
				Provider: gate.RoleSecondary,
				Text:     "question",
			})
			Expect(err).To(MatchError(gate.ErrInvalidConfig))
		})
	})

	Describe("GetHealth", func() {
		It("should report a fresh router as healthy", func() {
			router := gate.NewWithTransports(fastConfig(), &mockTransport{response: "YES"}, nil)

			health := router.GetHealth()
			Expect(health.Healthy).To(BeTrue())
			Expect(health.Details).To(HaveKey("primary"))
			Expect(health.Details).To(HaveKey("cache_size"))
		})
	})
})
