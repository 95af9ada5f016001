package cpu_test

import (
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/cpu"
	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/execunit"
	"github.com/sarchlab/tbsim/fetch"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/memsys"
	"github.com/sarchlab/tbsim/pipeline"
	"github.com/sarchlab/tbsim/scoreboard"
	"github.com/sarchlab/tbsim/sched"
	"github.com/sarchlab/tbsim/simerror"
	"github.com/sarchlab/tbsim/telemetry"
)

// sliceTrace replays a fixed instruction sequence.
type sliceTrace struct {
	items []*instr.Instruction
	pos   int
}

func (t *sliceTrace) EOF() bool { return t.pos >= len(t.items) }

func (t *sliceTrace) NextAddr() uint64 {
	if t.EOF() {
		return 0
	}
	return t.items[t.pos].Addr
}

func (t *sliceTrace) Dequeue() (*instr.Instruction, error) {
	if t.EOF() {
		return nil, nil
	}
	i := t.items[t.pos]
	t.pos++
	return i, nil
}

func (t *sliceTrace) Err() error { return nil }

type machineConfig struct {
	prediction string
	depth      int
	wbqSize    *int
}

// newMachine assembles a one-ALU-pipe CPU around the given trace.
func newMachine(items []*instr.Instruction, mc machineConfig) *cpu.CPU {
	mem, err := memsys.Build(memsys.Desc{Latencies: memsys.Latencies{}})
	Expect(err).NotTo(HaveOccurred())

	sbs := pipeline.RegFileScoreboards{
		instr.Scalar: scoreboard.NewScalar("x", scoreboard.Config{}),
	}

	pipeMap := map[string]string{
		"add": "ALU", "beq": "ALU", "csrrw": "ALU",
	}

	exec := execunit.New(execunit.Config{
		BranchPrediction: execunit.BranchPrediction(mc.prediction),
	}, pipeMap, sbs)
	exec.AddPipe("ALU", pipeline.NewScalar(pipeline.Config{
		Name:              "alu0",
		Kind:              "ALU",
		IssueQueueID:      "iq",
		Depth:             mc.depth,
		Pipelined:         true,
		CanSkipEIQ:        true,
		WritebackBuffSize: mc.wbqSize,
	}, sbs))

	schedU := sched.New(sched.Config{
		BranchPrediction: sched.BranchPrediction(mc.prediction),
	})
	schedU.AddQueue("iq", nil)

	fetchU := fetch.New(fetch.Config{
		BranchPrediction: fetch.BranchPrediction(mc.prediction),
		FetchRate:        1,
	}, &sliceTrace{items: items})

	schedU.Connect(fetchU, exec)
	exec.Connect(schedU, fetchU, schedU)

	return cpu.New(mem, exec, schedU, fetchU, counter.New(),
		telemetry.New(io.Discard, false, 0))
}

func nop(addr uint64) *instr.Instruction {
	return &instr.Instruction{Mnemonic: "nop", Addr: addr, IsNop: true}
}

func add(addr uint64, dst string, srcs ...string) *instr.Instruction {
	return &instr.Instruction{
		Mnemonic: "add",
		Addr:     addr,
		Inputs:   map[instr.RegFile][]string{instr.Scalar: srcs},
		Outputs:  map[instr.RegFile][]string{instr.Scalar: {dst}},
	}
}

var _ = Describe("CPU", func() {
	It("runs a trivial NOP trace to completion without stalls", func() {
		c := newMachine([]*instr.Instruction{
			nop(0x1000), nop(0x1004), nop(0x1008),
		}, machineConfig{prediction: "perfect", depth: 1})

		Expect(c.Simulate(cpu.Options{})).To(Succeed())

		cntr := c.Counter()
		Expect(cntr.RetiredInstructionCount).To(BeEquivalentTo(3))
		Expect(cntr.Cycles).To(BeNumerically("<=", 5))
		Expect(cntr.Stalls["FE"]).To(BeZero())
		Expect(cntr.Stalls["SC"]).To(BeZero())
	})

	It("retires a RAW-dependent pair through the write-buffer bypass", func() {
		c := newMachine([]*instr.Instruction{
			add(0x1000, "x1", "x2", "x3"),
			add(0x1004, "x4", "x1", "x1"),
		}, machineConfig{prediction: "perfect", depth: 3})

		Expect(c.Simulate(cpu.Options{})).To(Succeed())

		cntr := c.Counter()
		Expect(cntr.RetiredInstructionCount).To(BeEquivalentTo(2))
		Expect(cntr.Stalls["SC"]).To(BeZero())
	})

	It("holds a flush barrier until everything older has retired", func() {
		csrrw := &instr.Instruction{
			Mnemonic: "csrrw",
			Addr:     0x1004,
			IsFlush:  true,
			Inputs:   map[instr.RegFile][]string{instr.Scalar: {"x5"}},
			Outputs:  map[instr.RegFile][]string{instr.Scalar: {"x6"}},
		}
		c := newMachine([]*instr.Instruction{
			add(0x1000, "x1", "x2", "x3"),
			csrrw,
			add(0x1008, "x4", "x2", "x3"),
		}, machineConfig{prediction: "perfect", depth: 3})

		Expect(c.Simulate(cpu.Options{})).To(Succeed())

		cntr := c.Counter()
		Expect(cntr.RetiredInstructionCount).To(BeEquivalentTo(3))
		Expect(cntr.Stalls["SC"]).To(BeNumerically(">", 0))
	})

	It("stalls decode at an unresolved branch and resumes after it retires", func() {
		beq := &instr.Instruction{
			Mnemonic: "beq",
			Addr:     0x1000,
			IsBranch: true,
			Inputs:   map[instr.RegFile][]string{instr.Scalar: {"x1", "x2"}},
		}
		c := newMachine([]*instr.Instruction{
			beq,
			add(0x1004, "x3", "x1", "x2"),
		}, machineConfig{prediction: "none", depth: 2})

		Expect(c.Simulate(cpu.Options{})).To(Succeed())

		cntr := c.Counter()
		Expect(cntr.RetiredInstructionCount).To(BeEquivalentTo(2))
		Expect(cntr.BranchCount).To(BeEquivalentTo(1))
	})

	It("stops at the configured cycle limit", func() {
		c := newMachine([]*instr.Instruction{
			add(0x1000, "x1", "x2", "x3"),
		}, machineConfig{prediction: "perfect", depth: 3})

		Expect(c.Simulate(cpu.Options{MaxCycles: 2})).To(Succeed())
		Expect(c.Counter().Cycles).To(BeEquivalentTo(2))
	})

	It("stops after the configured retired-instruction window", func() {
		items := []*instr.Instruction{
			nop(0x1000), nop(0x1004), nop(0x1008), nop(0x100c),
		}
		c := newMachine(items, machineConfig{prediction: "perfect", depth: 1})

		one := uint64(1)
		Expect(c.Simulate(cpu.Options{
			SkipInstructions: 1,
			MaxInstructions:  &one,
		})).To(Succeed())

		// Statistics restart at the skip point, so the reported window holds
		// exactly the bounded run.
		Expect(c.Counter().RetiredInstructionCount).To(BeEquivalentTo(1))
	})

	It("fires the deadlock watchdog when the pipeline can never drain", func() {
		zero := 0
		c := newMachine([]*instr.Instruction{
			add(0x1000, "x1", "x2", "x3"),
		}, machineConfig{prediction: "perfect", depth: 1, wbqSize: &zero})

		err := c.Simulate(cpu.Options{})
		var dead *simerror.DeadlockError
		Expect(err).To(BeAssignableToTypeOf(dead))
	})
})
