// Package sched implements SchedUnit: it drains FetchUnit's queue, retires
// NOPs immediately, and dispatches everything else into issue queues (one
// per issue-queue id) that ExecUnit's pipelines consume, enforcing flush barriers and
// the configured branch-prediction policy.
package sched

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/cycle"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/queue"
)

// FetchSource is the subset of FetchUnit SchedUnit depends on.
type FetchSource interface {
	Queue() *queue.BufferedQueue[*instr.Instruction]
}

// ExecSink is the subset of ExecUnit SchedUnit depends on: routing a
// fetched instruction to its issue queue, and the count of instructions
// still in flight inside the execution pipelines (for flush-barrier
// stalling).
type ExecSink interface {
	IssueQueueID(i *instr.Instruction) string
	Pending() int
}

// BranchPrediction mirrors fetch.BranchPrediction without introducing a
// package dependency; the CPU wires both units to the same config value.
type BranchPrediction string

const (
	PredictionNone    BranchPrediction = "none"
	PredictionPerfect BranchPrediction = "perfect"
)

// Config is SchedUnit's static configuration.
type Config struct {
	// DecodeRate caps how many instructions leave the fetch queue per
	// cycle; nil means unbounded (drain the whole fetch queue each cycle).
	DecodeRate       *int
	BranchPrediction BranchPrediction
}

// Unit is the scalar/vector dispatcher that sits between FetchUnit and
// ExecUnit.
type Unit struct {
	cycle.Tracker

	decodeRate       *int
	branchPrediction BranchPrediction

	fetch FetchSource
	exec  ExecSink

	queues map[string]*queue.BufferedQueue[*instr.Instruction]
	order  []string

	branchStalling     bool
	nextBranchStalling *bool

	log func(string)
}

// New constructs a SchedUnit.
func New(cfg Config) *Unit {
	return &Unit{
		decodeRate:       cfg.DecodeRate,
		branchPrediction: cfg.BranchPrediction,
		queues:           map[string]*queue.BufferedQueue[*instr.Instruction]{},
		log:              func(string) {},
	}
}

// SetLogger installs f to receive SchedUnit's trace-level diagnostics.
func (u *Unit) SetLogger(f func(string)) { u.log = f }

// Connect wires this unit to the fetch and execution units it sits between.
func (u *Unit) Connect(fetch FetchSource, exec ExecSink) {
	u.fetch = fetch
	u.exec = exec
}

// AddQueue declares an in-order dispatch queue with the given capacity
// (nil for unbounded), keyed by the issue-queue id ExecUnit reports for an
// instruction.
func (u *Unit) AddQueue(qid string, size *int) {
	u.queues[qid] = queue.New[*instr.Instruction](size)
	u.order = append(u.order, qid)
}

// Queue returns the dispatch queue for qid, for ExecUnit to drain.
func (u *Unit) Queue(qid string) *queue.BufferedQueue[*instr.Instruction] {
	return u.queues[qid]
}

// Pending is the total number of instructions sitting in dispatch queues.
func (u *Unit) Pending() int {
	n := 0
	for _, q := range u.queues {
		n += q.Len()
	}
	return n
}

// Reset installs this unit's stall/utilization counters into cntr.
func (u *Unit) Reset(cntr *counter.Counter) {
	cntr.Stalls["SC"] = 0
	for qid, q := range u.queues {
		cntr.Utilizations[qid] = &counter.Utilization{Size: q.Size()}
	}
}

// Tick drains the fetch queue into dispatch queues, in fetch order,
// subject to decode rate, flush barriers, queue capacity, and structural
// conflicts with instructions already sitting in other (in-order) dispatch
// queues.
func (u *Unit) Tick(cycleNum uint64, cntr *counter.Counter) {
	u.BeginTick(cycleNum)

	if u.branchStalling {
		u.log("queuing stalled: unresolved branch")
		return
	}

	fq := u.fetch.Queue()
	limit := fq.Len()
	if u.decodeRate != nil {
		limit = *u.decodeRate
	}

	for k := 0; k < limit; k++ {
		if fq.Len() == 0 {
			break
		}

		fetched, _ := fq.Peek()
		if fetched == nil {
			fq.Dequeue()
			continue
		}

		if fetched.IsFlush && (u.Pending() > 0 || u.exec.Pending() > 0) {
			cntr.Stalls["SC"]++
			u.log(fmt.Sprintf("queueing stalled: flush in effect: %s", fetched))
			break
		}

		if fetched.IsNop {
			u.log(fmt.Sprintf("retired NOP instruction: %s", fetched))
			fq.Dequeue()
			cntr.RetiredInstructionCount++
			continue
		}

		qid := u.exec.IssueQueueID(fetched)

		if u.queues[qid].IsBufferFull() {
			cntr.Stalls["SC"]++
			u.log(fmt.Sprintf("queueing stalled: %q is full", qid))
			break
		}

		if !u.checkConflicts(fetched, qid) {
			cntr.Stalls["SC"]++
			u.log("queueing stalled: conflict with queued instruction")
			break
		}

		u.queues[qid].Buffer(fetched)
		fq.Dequeue()
		cntr.Utilizations[qid].Count++
		u.log(fmt.Sprintf("instruction %q queued", fetched))

		if fetched.IsBranch {
			cntr.BranchCount++
			if u.branchPrediction == PredictionNone {
				u.branchStalling = true
				break
			}
		}
	}
}

// Tock commits buffered dispatch-queue staging, applies any deferred
// branch-stall clear, and updates occupancy counters.
func (u *Unit) Tock(cntr *counter.Counter) {
	u.BeginTock()

	for _, q := range u.queues {
		q.Flush()
	}

	if u.nextBranchStalling != nil {
		u.branchStalling = *u.nextBranchStalling
		u.nextBranchStalling = nil
	}

	for qid, q := range u.queues {
		cntr.Utilizations[qid].Occupied += q.Len()
	}
}

// checkConflicts reports whether it is safe to place newInstr into qid
// ahead of whatever already sits in the other (in-order) dispatch queues —
// there is no need to check the queue newInstr itself is going into, since
// that queue preserves program order, nor instructions already issued to
// execution pipelines, since the scoreboard already enforces those.
func (u *Unit) checkConflicts(newInstr *instr.Instruction, qid string) bool {
	for name, q := range u.queues {
		if name == qid {
			continue
		}
		for _, other := range q.Chain() {
			if newInstr.ConflictsWith(other) {
				return false
			}
		}
	}
	return true
}

// BranchResolved informs SchedUnit that an unresolved branch has been
// resolved, clearing the stall immediately in TOCK, or deferring to the
// next TOCK if called during TICK.
func (u *Unit) BranchResolved() {
	if u.Phase() == cycle.Tick {
		v := false
		u.nextBranchStalling = &v
	} else {
		u.branchStalling = false
	}
}

// PrintStateDetailed writes each dispatch queue's contents.
func (u *Unit) PrintStateDetailed(w io.Writer) {
	ids := append([]string(nil), u.order...)
	sort.Strings(ids)
	for _, qid := range ids {
		items := u.queues[qid].Chain()
		if len(items) == 0 {
			fmt.Fprintf(w, "[qu-%s] -\n", qid)
			continue
		}
		fmt.Fprintf(w, "[qu-%s] ", qid)
		for i := len(items) - 1; i >= 0; i-- {
			fmt.Fprint(w, items[i].String())
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
		}
		fmt.Fprintln(w)
	}
}

// StateThreeValuedHeader returns one column header per dispatch queue.
func (u *Unit) StateThreeValuedHeader() []string {
	return append([]string(nil), u.order...)
}

// StateThreeValued renders each dispatch queue's occupancy.
func (u *Unit) StateThreeValued(vals [3]string) []string {
	present := func(i *instr.Instruction) bool { return i != nil }
	out := make([]string, len(u.order))
	for idx, qid := range u.order {
		out[idx] = u.queues[qid].PPThreeValued(vals, present)
	}
	return out
}
