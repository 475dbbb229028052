package gate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hariV0078/provider-gate/gate"
)

var _ = Describe("ConcurrencyGate", func() {
	Describe("Bounds", func() {
		It("should never exceed the permit bound under load", func() {
			g := gate.NewConcurrencyGate("test", 3)

			var inFlight, peak int64
			var wg sync.WaitGroup

			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					Expect(g.Acquire(context.Background())).To(Succeed())
					defer g.Release()

					current := atomic.AddInt64(&inFlight, 1)
					for {
						old := atomic.LoadInt64(&peak)
						if current <= old || atomic.CompareAndSwapInt64(&peak, old, current) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt64(&inFlight, -1)
				}()
			}
			wg.Wait()

			Expect(atomic.LoadInt64(&peak)).To(BeNumerically("<=", 3))
			Expect(g.InFlight()).To(Equal(int64(0)))
		})

		It("should default to a single permit for invalid bounds", func() {
			g := gate.NewConcurrencyGate("test", 0)
			Expect(g.Max()).To(Equal(int64(1)))
		})
	})

	Describe("Cancellation", func() {
		It("should abort a blocked acquire when the context expires", func() {
			g := gate.NewConcurrencyGate("test", 1)
			Expect(g.Acquire(context.Background())).To(Succeed())
			defer g.Release()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := g.Acquire(ctx)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(g.InFlight()).To(Equal(int64(1)))
		})
	})
})
