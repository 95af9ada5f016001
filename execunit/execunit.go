// Package execunit implements ExecUnit: it owns every functional unit's
// pipelines and register-file scoreboards, drains SchedUnit's dispatch
// queues (one per issue-queue id) into whichever pipe of the right kind is
// free, and notifies FetchUnit/SchedUnit once in each cycle in which a
// branch retires under the "none" branch-prediction policy.
package execunit

import (
	"fmt"
	"io"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/cycle"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/pipeline"
	"github.com/sarchlab/tbsim/queue"
	"github.com/sarchlab/tbsim/simerror"
)

// SchedSource is the subset of SchedUnit ExecUnit depends on.
type SchedSource interface {
	Queue(qid string) *queue.BufferedQueue[*instr.Instruction]
}

// BranchNotifiable is the subset of FetchUnit/SchedUnit ExecUnit notifies
// once an unresolved branch retires.
type BranchNotifiable interface {
	BranchResolved()
}

// BranchPrediction mirrors fetch.BranchPrediction/sched.BranchPrediction
// without introducing a package dependency on either.
type BranchPrediction string

const (
	PredictionNone    BranchPrediction = "none"
	PredictionPerfect BranchPrediction = "perfect"
)

// Config is ExecUnit's static configuration.
type Config struct {
	BranchPrediction BranchPrediction
}

// Unit is the execution unit: a pipe_map from mnemonic to functional-unit
// kind, one or more pipes per kind, and the register-file scoreboards
// those pipes share.
type Unit struct {
	cycle.Tracker

	branchPrediction BranchPrediction

	pipeMap     map[string]string
	scoreboards pipeline.RegFileScoreboards

	pipes     map[string][]pipeline.Pipe
	pipeOrder []string

	sched  SchedSource
	fetch  BranchNotifiable
	schedN BranchNotifiable

	retired []*instr.Instruction

	log func(string)
}

// New constructs an ExecUnit.
func New(cfg Config, pipeMap map[string]string, scoreboards pipeline.RegFileScoreboards) *Unit {
	return &Unit{
		branchPrediction: cfg.BranchPrediction,
		pipeMap:          pipeMap,
		scoreboards:      scoreboards,
		pipes:            map[string][]pipeline.Pipe{},
		log:              func(string) {},
	}
}

// SetLogger installs f to receive ExecUnit's trace-level diagnostics.
func (u *Unit) SetLogger(f func(string)) { u.log = f }

// AddPipe registers one or more pipes (in dispatch-preference order) under
// a functional-unit kind.
func (u *Unit) AddPipe(kind string, pipes ...pipeline.Pipe) {
	if len(pipes) == 0 {
		panic("execunit: AddPipe requires at least one pipe")
	}
	if _, exists := u.pipes[kind]; exists {
		panic(fmt.Sprintf("execunit: pipe kind %q already registered", kind))
	}
	u.pipes[kind] = pipes
	u.pipeOrder = append(u.pipeOrder, kind)
}

// Connect wires ExecUnit to the units it notifies on branch resolution and
// drains dispatch queues from.
func (u *Unit) Connect(sched SchedSource, fetch, schedNotify BranchNotifiable) {
	u.sched = sched
	u.fetch = fetch
	u.schedN = schedNotify
}

// functionalUnit returns the pipe kind i executes in, per the pipe map.
func (u *Unit) functionalUnit(i *instr.Instruction) (string, error) {
	kind, ok := u.pipeMap[i.Mnemonic]
	if !ok {
		return "", &simerror.UnknownMnemonicError{Mnemonic: i.Mnemonic}
	}
	return kind, nil
}

// IssueQueueID returns the dispatch-queue id SchedUnit should route i to:
// the id of the first pipe of the kind i will execute in.
func (u *Unit) IssueQueueID(i *instr.Instruction) string {
	kind, err := u.functionalUnit(i)
	if err != nil {
		panic(err)
	}
	return u.pipes[kind][0].IssueQueueID()
}

// Pending is the total number of instructions still in flight across every
// pipe.
func (u *Unit) Pending() int {
	n := 0
	for _, pipes := range u.pipes {
		for _, p := range pipes {
			n += p.Pending()
		}
	}
	return n
}

// Reset installs every pipe's counters into cntr.
func (u *Unit) Reset(cntr *counter.Counter) {
	for _, pipes := range u.pipes {
		for _, p := range pipes {
			p.Reset(cntr)
		}
	}
}

// dispatch tries each pipe of i's kind, in order, returning true once one
// accepts it.
func (u *Unit) dispatch(i *instr.Instruction, cntr *counter.Counter) bool {
	kind, err := u.functionalUnit(i)
	if err != nil {
		panic(err)
	}
	for _, p := range u.pipes[kind] {
		if p.TryDispatch(i, cntr) {
			return true
		}
	}
	return false
}

// Tick ticks every pipe, notifies on the first retiring branch (under
// "none" prediction), drains SchedUnit's dispatch queues into free pipes,
// and updates the retired-instruction count. Scoreboards have no per-tick
// work of their own; their port counters are cleared in Tock.
func (u *Unit) Tick(cycleNum uint64, cntr *counter.Counter) {
	u.BeginTick(cycleNum)

	u.retired = u.retired[:0]

	for _, kind := range u.pipeOrder {
		for _, p := range u.pipes[kind] {
			p.Tick(cntr)
			u.retired = append(u.retired, p.Retired()...)
		}
	}

	if u.branchPrediction == PredictionNone {
		for _, i := range u.retired {
			if i.IsBranch {
				u.schedN.BranchResolved()
				u.fetch.BranchResolved()
				break
			}
		}
	}

	for _, qid := range u.dispatchQueueIDs() {
		dq := u.sched.Queue(qid)
		for {
			next, ok := dq.Peek()
			if !ok {
				break
			}
			if next == nil {
				break
			}
			if !u.dispatch(next, cntr) {
				break
			}
			dq.Dequeue()
			u.log(fmt.Sprintf("dispatched %q", next))
		}
	}

	cntr.RetiredInstructionCount += uint64(len(u.retired))
}

// dispatchQueueIDs lists every issue-queue id this unit's pipes report,
// deduplicated, in pipe-registration order.
func (u *Unit) dispatchQueueIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, kind := range u.pipeOrder {
		for _, p := range u.pipes[kind] {
			qid := p.IssueQueueID()
			if !seen[qid] {
				seen[qid] = true
				ids = append(ids, qid)
			}
		}
	}
	return ids
}

// Tock tocks every scoreboard and pipe. Every pipe's Tock clears its own
// retired list without adding to it (writeback commits only happen in
// Tick), so the retired-count update here never double-counts a
// retirement.
func (u *Unit) Tock(cntr *counter.Counter) {
	u.BeginTock()

	u.retired = u.retired[:0]

	for _, kind := range u.pipeOrder {
		for _, p := range u.pipes[kind] {
			p.Tock(cntr)
			u.retired = append(u.retired, p.Retired()...)
		}
	}

	for _, sb := range u.scoreboards {
		sb.Tock(cntr)
	}

	cntr.RetiredInstructionCount += uint64(len(u.retired))
}

// PrintStateDetailed writes every pipe's detailed state, followed by the
// instructions retired this cycle.
func (u *Unit) PrintStateDetailed(w io.Writer) {
	for _, kind := range u.pipeOrder {
		for _, p := range u.pipes[kind] {
			p.PrintStateDetailed(w)
		}
	}

	fmt.Fprint(w, "[re] ")
	for i, r := range u.retired {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprint(w, r.String())
	}
	fmt.Fprintln(w)
}

// StateThreeValuedHeader returns one column per pipe, across every kind.
func (u *Unit) StateThreeValuedHeader() []string {
	var hdr []string
	for _, kind := range u.pipeOrder {
		for _, p := range u.pipes[kind] {
			hdr = append(hdr, p.StateThreeValuedHeader()...)
		}
	}
	return hdr
}

// StateThreeValued renders every pipe's occupancy, across every kind.
func (u *Unit) StateThreeValued(vals [3]string) []string {
	var out []string
	for _, kind := range u.pipeOrder {
		for _, p := range u.pipes[kind] {
			out = append(out, p.StateThreeValued(vals)...)
		}
	}
	return out
}
