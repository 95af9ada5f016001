package sched_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/queue"
	"github.com/sarchlab/tbsim/sched"
)

type fakeFetch struct {
	q *queue.BufferedQueue[*instr.Instruction]
}

func (f *fakeFetch) Queue() *queue.BufferedQueue[*instr.Instruction] { return f.q }

type fakeExec struct {
	qid     string
	pending int
}

func (f *fakeExec) IssueQueueID(*instr.Instruction) string { return f.qid }
func (f *fakeExec) Pending() int                           { return f.pending }

var _ = Describe("Unit", func() {
	It("retires a NOP without queuing it", func() {
		fq := queue.New[*instr.Instruction](nil)
		fq.Buffer(&instr.Instruction{ID: 1, IsNop: true})
		fq.Flush()

		u := sched.New(sched.Config{BranchPrediction: sched.PredictionPerfect})
		u.AddQueue("ALU", nil)
		u.Connect(&fakeFetch{q: fq}, &fakeExec{qid: "ALU"})

		cntr := counter.New()
		u.Reset(cntr)

		u.Tick(1, cntr)
		u.Tock(cntr)

		Expect(cntr.RetiredInstructionCount).To(BeEquivalentTo(1))
		Expect(u.Pending()).To(Equal(0))
	})

	It("dispatches a regular instruction into its issue queue", func() {
		fq := queue.New[*instr.Instruction](nil)
		fq.Buffer(&instr.Instruction{ID: 1, Mnemonic: "add"})
		fq.Flush()

		u := sched.New(sched.Config{BranchPrediction: sched.PredictionPerfect})
		u.AddQueue("ALU", nil)
		u.Connect(&fakeFetch{q: fq}, &fakeExec{qid: "ALU"})

		cntr := counter.New()
		u.Reset(cntr)

		u.Tick(1, cntr)
		u.Tock(cntr)

		Expect(u.Queue("ALU").Len()).To(Equal(1))
	})

	It("stalls dispatch when the target queue is full", func() {
		fq := queue.New[*instr.Instruction](nil)
		fq.Buffer(&instr.Instruction{ID: 1, Mnemonic: "add"})
		fq.Flush()

		size := 0
		u := sched.New(sched.Config{BranchPrediction: sched.PredictionPerfect})
		u.AddQueue("ALU", &size)
		u.Connect(&fakeFetch{q: fq}, &fakeExec{qid: "ALU"})

		cntr := counter.New()
		u.Reset(cntr)

		u.Tick(1, cntr)

		Expect(cntr.Stalls["SC"]).To(Equal(1))
	})
})
