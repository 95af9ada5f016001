package scoreboard_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/scoreboard"
)

var _ = Describe("Scalar Scoreboard", func() {
	var sb *scoreboard.Scoreboard

	BeforeEach(func() {
		sb = scoreboard.NewScalar("EX", scoreboard.Config{})
	})

	It("allows issue and read/write of an instruction with no dependencies", func() {
		i := &instr.Instruction{ID: 1}
		sb.InsertAccesses(i, []string{"x1"}, []string{"x2"})

		Expect(sb.CanIssue(i)).To(BeTrue())
		sb.Issue(i)

		Expect(sb.CanRead(i, []string{"x1"})).To(BeTrue())
		sb.Read(i, []string{"x1"})

		Expect(sb.CanWrite(i, []string{"x2"})).To(BeTrue())
		sb.Write(i, []string{"x2"})
	})

	It("blocks a RAW read until the producer writes or bypasses", func() {
		producer := &instr.Instruction{ID: 1}
		sb.InsertAccesses(producer, nil, []string{"x1"})

		consumer := &instr.Instruction{ID: 2}
		sb.InsertAccesses(consumer, []string{"x1"}, nil)

		Expect(sb.CanRead(consumer, []string{"x1"})).To(BeFalse())

		sb.BuffWrite(producer, []string{"x1"})
		Expect(sb.CanRead(consumer, []string{"x1"})).To(BeTrue())
	})

	It("blocks a WAW write until the prior writer has written", func() {
		first := &instr.Instruction{ID: 1}
		sb.InsertAccesses(first, nil, []string{"x1"})

		second := &instr.Instruction{ID: 2}
		sb.InsertAccesses(second, nil, []string{"x1"})

		Expect(sb.CanWrite(second, []string{"x1"})).To(BeFalse())
		sb.Write(first, []string{"x1"})
		Expect(sb.CanWrite(second, []string{"x1"})).To(BeTrue())
	})

	It("blocks a WAR write until all prior readers have read", func() {
		reader := &instr.Instruction{ID: 1}
		sb.InsertAccesses(reader, []string{"x1"}, nil)

		writer := &instr.Instruction{ID: 2}
		sb.InsertAccesses(writer, nil, []string{"x1"})

		Expect(sb.CanWrite(writer, []string{"x1"})).To(BeFalse())
		sb.Read(reader, []string{"x1"})
		Expect(sb.CanWrite(writer, []string{"x1"})).To(BeTrue())
	})

	It("refuses to issue a consumer until its producer has been issued", func() {
		producer := &instr.Instruction{ID: 1}
		sb.InsertAccesses(producer, nil, []string{"x1"})

		consumer := &instr.Instruction{ID: 2}
		sb.InsertAccesses(consumer, []string{"x1"}, nil)

		Expect(sb.CanIssue(consumer)).To(BeFalse())
		sb.Issue(producer)
		Expect(sb.CanIssue(consumer)).To(BeTrue())
	})

	It("enforces a shared read-port limit", func() {
		ports := 1
		sb = scoreboard.NewScalar("EX", scoreboard.Config{ReadPorts: &ports})

		i := &instr.Instruction{ID: 1}
		sb.InsertAccesses(i, []string{"x1", "x2"}, nil)

		Expect(sb.CanRead(i, []string{"x1", "x2"})).To(BeFalse())
	})
})

var _ = Describe("Vector Scoreboard", func() {
	It("tracks write ports independently per slice", func() {
		ports := 1
		sb := scoreboard.NewVector("VEX", scoreboard.Config{WritePorts: &ports}, 4)

		a := &instr.Instruction{ID: 1}
		sb.InsertAccesses(a, nil, []string{"v0.0"})
		b := &instr.Instruction{ID: 2}
		sb.InsertAccesses(b, nil, []string{"v0.1"})

		Expect(sb.CanWrite(a, []string{"v0.0"})).To(BeTrue())
		sb.Write(a, []string{"v0.0"})

		// Slice 1's port pool is independent of slice 0's usage.
		Expect(sb.CanWrite(b, []string{"v0.1"})).To(BeTrue())
	})
})
