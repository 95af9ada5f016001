package execunit_test

import (
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/execunit"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/pipeline"
	"github.com/sarchlab/tbsim/queue"
)

// fakePipe accepts at most capacity dispatches in total and retires
// whatever the test plants.
type fakePipe struct {
	name     string
	kind     string
	qid      string
	capacity int

	accepted  []*instr.Instruction
	toRetire  []*instr.Instruction
	inFlight  int
}

func (p *fakePipe) Name() string         { return p.name }
func (p *fakePipe) Kind() string         { return p.kind }
func (p *fakePipe) IssueQueueID() string { return p.qid }

func (p *fakePipe) Reset(*counter.Counter) {}
func (p *fakePipe) Tick(*counter.Counter)  {}
func (p *fakePipe) Tock(*counter.Counter)  { p.toRetire = nil }

func (p *fakePipe) Retired() []*instr.Instruction { return p.toRetire }
func (p *fakePipe) Pending() int                  { return p.inFlight }

func (p *fakePipe) TryDispatch(i *instr.Instruction, _ *counter.Counter) bool {
	if len(p.accepted) >= p.capacity {
		return false
	}
	p.accepted = append(p.accepted, i)
	return true
}

func (p *fakePipe) PrintStateDetailed(io.Writer)          {}
func (p *fakePipe) StateThreeValuedHeader() []string      { return []string{p.name} }
func (p *fakePipe) StateThreeValued([3]string) []string   { return []string{"."} }

type fakeSched struct {
	queues map[string]*queue.BufferedQueue[*instr.Instruction]
}

func (s *fakeSched) Queue(qid string) *queue.BufferedQueue[*instr.Instruction] {
	return s.queues[qid]
}

type notifyCount struct{ n int }

func (c *notifyCount) BranchResolved() { c.n++ }

func newQueue(items ...*instr.Instruction) *queue.BufferedQueue[*instr.Instruction] {
	q := queue.New[*instr.Instruction](nil)
	for _, i := range items {
		q.Buffer(i)
	}
	q.Flush()
	return q
}

var _ = Describe("Unit", func() {
	var (
		u     *execunit.Unit
		pipe  *fakePipe
		cntr  *counter.Counter
		fetch *notifyCount
		sched *notifyCount
	)

	newUnit := func(pred execunit.BranchPrediction, pipeMap map[string]string) {
		u = execunit.New(execunit.Config{BranchPrediction: pred},
			pipeMap, pipeline.RegFileScoreboards{})
		pipe = &fakePipe{name: "alu0", kind: "ALU", qid: "iq", capacity: 8}
		u.AddPipe("ALU", pipe)
		fetch = &notifyCount{}
		sched = &notifyCount{}
		cntr = counter.New()
	}

	It("routes an instruction to its kind's first pipe's issue queue", func() {
		newUnit(execunit.PredictionPerfect, map[string]string{"add": "ALU"})
		qid := u.IssueQueueID(&instr.Instruction{Mnemonic: "add"})
		Expect(qid).To(Equal("iq"))
	})

	It("panics on a mnemonic missing from the pipe map", func() {
		newUnit(execunit.PredictionPerfect, map[string]string{})
		Expect(func() {
			u.IssueQueueID(&instr.Instruction{Mnemonic: "bogus"})
		}).To(Panic())
	})

	It("drains a dispatch queue in order until a pipe refuses", func() {
		newUnit(execunit.PredictionPerfect, map[string]string{"add": "ALU"})
		pipe.capacity = 2

		i1 := &instr.Instruction{ID: 1, Mnemonic: "add"}
		i2 := &instr.Instruction{ID: 2, Mnemonic: "add"}
		i3 := &instr.Instruction{ID: 3, Mnemonic: "add"}
		dq := newQueue(i1, i2, i3)
		u.Connect(&fakeSched{queues: map[string]*queue.BufferedQueue[*instr.Instruction]{"iq": dq}},
			fetch, sched)

		u.Tick(1, cntr)

		Expect(pipe.accepted).To(Equal([]*instr.Instruction{i1, i2}))
		Expect(dq.Len()).To(Equal(1))
	})

	It("counts retirements exactly once per instruction", func() {
		newUnit(execunit.PredictionPerfect, map[string]string{"add": "ALU"})
		u.Connect(&fakeSched{queues: map[string]*queue.BufferedQueue[*instr.Instruction]{
			"iq": newQueue(),
		}}, fetch, sched)

		pipe.toRetire = []*instr.Instruction{{ID: 1}}
		u.Tick(1, cntr)
		u.Tock(cntr)

		Expect(cntr.RetiredInstructionCount).To(BeEquivalentTo(1))
	})

	It("notifies fetch and sched when a branch retires under no prediction", func() {
		newUnit(execunit.PredictionNone, map[string]string{"beq": "ALU"})
		u.Connect(&fakeSched{queues: map[string]*queue.BufferedQueue[*instr.Instruction]{
			"iq": newQueue(),
		}}, fetch, sched)

		pipe.toRetire = []*instr.Instruction{{ID: 1, IsBranch: true}}
		u.Tick(1, cntr)

		Expect(fetch.n).To(Equal(1))
		Expect(sched.n).To(Equal(1))
	})

	It("does not notify for a non-branch retirement", func() {
		newUnit(execunit.PredictionNone, map[string]string{"add": "ALU"})
		u.Connect(&fakeSched{queues: map[string]*queue.BufferedQueue[*instr.Instruction]{
			"iq": newQueue(),
		}}, fetch, sched)

		pipe.toRetire = []*instr.Instruction{{ID: 1}}
		u.Tick(1, cntr)

		Expect(fetch.n).To(BeZero())
		Expect(sched.n).To(BeZero())
	})
})
