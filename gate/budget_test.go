package gate_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hariV0078/provider-gate/gate"
)

var _ = Describe("Budget", func() {
	Describe("Allowance", func() {
		It("should allow calls up to the ceiling and then fail fast", func() {
			budget := gate.NewBudget("event-1", 3)

			for i := 0; i < 3; i++ {
				Expect(budget.Check()).To(Succeed())
				budget.Record("theme", true)
			}

			err := budget.Check()
			Expect(err).To(MatchError(gate.ErrBudgetExhausted))
			Expect(err.Error()).To(ContainSubstring("event-1"))
		})

		It("should count failed calls against the budget", func() {
			budget := gate.NewBudget("event-2", 2)

			budget.Record("theme", false)
			budget.Record("pdf", false)

			Expect(budget.Check()).To(MatchError(gate.ErrBudgetExhausted))
			Expect(budget.Used()).To(Equal(2))
			Expect(budget.Remaining()).To(Equal(0))
		})

		It("should default the ceiling for invalid values", func() {
			budget := gate.NewBudget("event-3", 0)
			Expect(budget.Remaining()).To(Equal(5))
		})
	})

	Describe("History", func() {
		It("should record call kind, outcome and order", func() {
			budget := gate.NewBudget("event-4", 5)

			budget.Record("theme", true)
			budget.Record("pdf", false)

			history := budget.History()
			Expect(history).To(HaveLen(2))
			Expect(history[0].Kind).To(Equal("theme"))
			Expect(history[0].Success).To(BeTrue())
			Expect(history[0].CallNumber).To(Equal(1))
			Expect(history[1].Kind).To(Equal("pdf"))
			Expect(history[1].Success).To(BeFalse())
			Expect(history[1].CallNumber).To(Equal(2))
		})
	})
})

var _ = Describe("BudgetTracker", func() {
	It("should create budgets lazily and keep them per task", func() {
		tracker := gate.NewBudgetTracker(3)

		a := tracker.Get("task-a")
		b := tracker.Get("task-b")
		Expect(a).ToNot(BeIdenticalTo(b))
		Expect(tracker.Get("task-a")).To(BeIdenticalTo(a))
		Expect(tracker.Active()).To(Equal(2))
	})

	It("should isolate budgets between tasks", func() {
		tracker := gate.NewBudgetTracker(1)

		tracker.Get("task-a").Record("theme", true)
		Expect(tracker.Get("task-a").Check()).To(MatchError(gate.ErrBudgetExhausted))
		Expect(tracker.Get("task-b").Check()).To(Succeed())
	})

	It("should discard released budgets", func() {
		tracker := gate.NewBudgetTracker(1)

		tracker.Get("task-a").Record("theme", true)
		tracker.Release("task-a")

		_, ok := tracker.Peek("task-a")
		Expect(ok).To(BeFalse())
		Expect(tracker.Get("task-a").Check()).To(Succeed())
	})
})
