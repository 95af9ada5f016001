package memsys_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/memsys"
)

func tickTock(sys *memsys.System, n int) {
	for i := 0; i < n; i++ {
		sys.Tick(uint64(i))
		sys.Tock()
	}
}

var _ = Describe("System with no cache levels", func() {
	It("services a load straight from main memory after its latency", func() {
		sys, err := memsys.Build(memsys.Desc{
			Latencies: memsys.Latencies{memsys.Read: 5, memsys.Write: 5},
		})
		Expect(err).NotTo(HaveOccurred())

		port := sys.Port("")
		Expect(port).NotTo(BeNil())

		port.IssueLoad("t1", 0x100)

		tickTock(sys, 3)
		Expect(port.TakeLoadReplies("t1")).To(BeEmpty())

		tickTock(sys, 10)
		Expect(port.TakeLoadReplies("t1")).To(Equal([]uint64{0x100}))
	})
})

func oneLevelDesc(writePolicy memsys.WritePolicy) memsys.Desc {
	return memsys.Desc{
		Latencies: memsys.Latencies{
			memsys.Read: 50, memsys.Write: 50,
			memsys.FetchRead: 50, memsys.FetchWrite: 50,
		},
		Levels: []memsys.LevelDesc{
			{
				Name:        "l1d",
				Kind:        memsys.DCache,
				LineBits:    512,
				SizeBytes:   4096,
				Placement:   memsys.Placement{Type: memsys.SetAssoc, SetSize: 4, Replacement: "LRU"},
				WritePolicy: writePolicy,
				Latencies: memsys.Latencies{
					memsys.Read: 4, memsys.Write: 4,
				},
			},
		},
	}
}

var _ = Describe("System with one write-back cache level", func() {
	It("misses to main memory then hits on the same line", func() {
		sys, err := memsys.Build(oneLevelDesc(memsys.WriteBack))
		Expect(err).NotTo(HaveOccurred())

		port := sys.Port("l1d")
		Expect(port).NotTo(BeNil())

		port.IssueLoad("t1", 0x40)
		tickTock(sys, 70)
		Expect(port.TakeLoadReplies("t1")).To(Equal([]uint64{0x40}))

		port.IssueLoad("t2", 0x40)
		tickTock(sys, 5)
		Expect(port.TakeLoadReplies("t2")).To(Equal([]uint64{0x40}))
	})

	It("keeps independent in-flight accesses from distinct requesters separate", func() {
		sys, err := memsys.Build(oneLevelDesc(memsys.WriteBack))
		Expect(err).NotTo(HaveOccurred())

		port := sys.Port("l1d")
		port.IssueLoad("a", 0x0)
		port.IssueStore("b", 0x1000)

		// The front cache serves one request at a time, so the two misses
		// resolve sequentially.
		tickTock(sys, 150)

		Expect(port.TakeLoadReplies("a")).To(Equal([]uint64{0x0}))
		Expect(port.TakeStoreReplies("b")).To(Equal([]uint64{0x1000}))
		Expect(port.TakeLoadReplies("b")).To(BeEmpty())
	})
})

var _ = Describe("System with one write-through cache level", func() {
	It("forwards every write to main memory before completing it", func() {
		sys, err := memsys.Build(oneLevelDesc(memsys.WriteThrough))
		Expect(err).NotTo(HaveOccurred())

		port := sys.Port("l1d")
		port.IssueStore("t1", 0x40)

		// A write miss first fetches the line, then forwards the write
		// through, so two round-trips to main memory elapse.
		tickTock(sys, 150)
		Expect(port.TakeStoreReplies("t1")).To(Equal([]uint64{0x40}))
	})
})

func cyclesUntilLoadReply(sys *memsys.System, port memsys.MemPort, tag any, addr uint64) int {
	port.IssueLoad(tag, addr)
	for c := 1; c <= 300; c++ {
		sys.Tick(uint64(c))
		sys.Tock()
		if len(port.TakeLoadReplies(tag)) > 0 {
			return c
		}
	}
	Fail("load reply never arrived")
	return 0
}

var _ = Describe("Store-to-load forwarding", func() {
	It("charges the penalty on a load hitting a freshly stored line, once", func() {
		desc := oneLevelDesc(memsys.WriteBack)
		desc.Levels[0].StoreForwardLatency = 2
		sys, err := memsys.Build(desc)
		Expect(err).NotTo(HaveOccurred())

		port := sys.Port("l1d")
		port.IssueStore("s", 0x40)
		tickTock(sys, 150)
		Expect(port.TakeStoreReplies("s")).To(Equal([]uint64{0x40}))

		forwarded := cyclesUntilLoadReply(sys, port, "l1", 0x40)
		// The forwarding event is consumed by the first load; a repeat load
		// to the same line is a plain hit.
		plain := cyclesUntilLoadReply(sys, port, "l2", 0x40)

		Expect(forwarded).To(Equal(plain + 2))
	})

	It("does not charge the penalty on a load to a different line", func() {
		desc := oneLevelDesc(memsys.WriteBack)
		desc.Levels[0].StoreForwardLatency = 2
		sys, err := memsys.Build(desc)
		Expect(err).NotTo(HaveOccurred())

		port := sys.Port("l1d")
		port.IssueStore("s", 0x40)
		tickTock(sys, 150)
		Expect(port.TakeStoreReplies("s")).To(Equal([]uint64{0x40}))

		// Warm the other line, then compare hit times: neither load below
		// touches the stored line, so neither pays the penalty.
		port.IssueLoad("warm", 0x1000)
		tickTock(sys, 150)
		Expect(port.TakeLoadReplies("warm")).To(Equal([]uint64{0x1000}))

		first := cyclesUntilLoadReply(sys, port, "l1", 0x1000)
		second := cyclesUntilLoadReply(sys, port, "l2", 0x1000)
		Expect(first).To(Equal(second))
	})
})

var _ = Describe("Build", func() {
	It("rejects an unknown cache kind", func() {
		_, err := memsys.Build(memsys.Desc{
			Levels: []memsys.LevelDesc{{Name: "weird", Kind: "bogus"}},
		})
		Expect(err).To(HaveOccurred())
	})
})
