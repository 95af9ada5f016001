package cycle_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/cycle"
)

var _ = Describe("Tracker", func() {
	var t *cycle.Tracker

	BeforeEach(func() {
		t = &cycle.Tracker{}
	})

	It("starts uninitialized", func() {
		Expect(t.Initialized()).To(BeFalse())
	})

	It("accepts the first tick at any cycle number", func() {
		t.BeginTick(1)
		Expect(t.Cycle()).To(Equal(uint64(1)))
		Expect(t.Phase()).To(Equal(cycle.Tick))
	})

	It("moves to tock", func() {
		t.BeginTick(1)
		t.BeginTock()
		Expect(t.Phase()).To(Equal(cycle.Tock))
	})

	It("panics if tock follows tock", func() {
		t.BeginTick(1)
		t.BeginTock()
		Expect(func() { t.BeginTock() }).To(Panic())
	})

	It("panics if the cycle does not advance by exactly one", func() {
		t.BeginTick(1)
		t.BeginTock()
		Expect(func() { t.BeginTick(3) }).To(Panic())
	})

	It("panics if tick follows tick", func() {
		t.BeginTick(1)
		Expect(func() { t.BeginTick(2) }).To(Panic())
	})
})
