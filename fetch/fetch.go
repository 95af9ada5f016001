// Package fetch implements FetchUnit: it drains the external trace into a
// buffered fetch queue, one fetch_rate-sized aligned batch per cycle,
// inserting nil placeholders for addresses the functional trace never
// executed.
package fetch

import (
	"fmt"
	"io"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/cycle"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/queue"
	"github.com/sarchlab/tbsim/simerror"
	"github.com/sarchlab/tbsim/trace"
)

const instSize = 4

// nextFetch holds the state of where the next fetch batch should start:
// either a concrete address, or a stall (waiting on a branch target).
type nextFetch struct {
	addr  *uint64
	stall bool
}

func (n *nextFetch) setAddr(addr uint64) {
	n.addr = &addr
	n.stall = false
}

func (n *nextFetch) setStall(v bool) {
	n.addr = nil
	n.stall = v
}

// BranchPrediction selects how FetchUnit reacts to a fetched branch.
type BranchPrediction string

const (
	// PredictionNone never predicts: fetch stalls at a branch until
	// SchedUnit/ExecUnit resolve it and call BranchResolved.
	PredictionNone BranchPrediction = "none"
	// PredictionPerfect always fetches along the trace's actual path.
	PredictionPerfect BranchPrediction = "perfect"
)

// Config is FetchUnit's static configuration.
type Config struct {
	BranchPrediction BranchPrediction
	FetchRate        int
	FetchQueueSize   *int
}

// Unit fetches instructions from the trace into a queue SchedUnit drains.
type Unit struct {
	cycle.Tracker

	trace            trace.Trace
	branchPrediction BranchPrediction
	fetchRate        int

	queue *queue.BufferedQueue[*instr.Instruction]

	nextFetchAddr  nextFetch
	nextFetchStall *bool

	log func(string)
}

// New constructs a FetchUnit reading from tr.
func New(cfg Config, tr trace.Trace) *Unit {
	return &Unit{
		trace:            tr,
		branchPrediction: cfg.BranchPrediction,
		fetchRate:        cfg.FetchRate,
		queue:            queue.New[*instr.Instruction](cfg.FetchQueueSize),
		log:              func(string) {},
	}
}

// SetLogger installs f to receive FetchUnit's trace-level diagnostics.
func (u *Unit) SetLogger(f func(string)) { u.log = f }

// Queue is the buffered queue SchedUnit drains fetched instructions from.
func (u *Unit) Queue() *queue.BufferedQueue[*instr.Instruction] { return u.queue }

// EOF reports whether the underlying trace has been fully consumed.
func (u *Unit) EOF() bool { return u.trace.EOF() }

// Pending is the number of instructions sitting in the fetch queue.
func (u *Unit) Pending() int { return u.queue.Len() }

// Reset installs this unit's stall/utilization counters into cntr.
func (u *Unit) Reset(cntr *counter.Counter) {
	cntr.Stalls["FE"] = 0
	cntr.Utilizations["FE"] = &counter.Utilization{Size: u.queue.Size()}
}

// Tick fetches the next aligned batch of instructions from the trace,
// subject to fetch-queue capacity and branch-stall blocking.
func (u *Unit) Tick(cycleNum uint64, cntr *counter.Counter) error {
	u.BeginTick(cycleNum)

	if err := u.trace.Err(); err != nil {
		return err
	}

	if u.trace.EOF() {
		u.log("can't fetch new instructions: no more instructions in trace.")
		return nil
	}

	if size := u.queue.Size(); size != nil && u.queue.Len()+u.fetchRate > *size {
		u.log("can't fetch new instructions: not enough room in the fetch queue.")
		cntr.Stalls["FE"]++
		return nil
	}

	if u.nextFetchAddr.addr != nil {
		if u.trace.NextAddr() != *u.nextFetchAddr.addr {
			if u.branchPrediction == PredictionNone {
				u.log(fmt.Sprintf("generating memory accesses for %#x (but next trace"+
					" instruction is at %#x)", *u.nextFetchAddr.addr, u.trace.NextAddr()))
				u.nextFetchAddr.setStall(true)
				return nil
			}
			if u.branchPrediction != PredictionPerfect {
				return &simerror.ConfigError{Location: "fetch.branch_prediction",
					Message: fmt.Sprintf("unknown branch prediction option %q", u.branchPrediction)}
			}
		}
	} else if u.nextFetchAddr.stall {
		u.log("stalling")
		cntr.Stalls["FE"]++
		return nil
	}

	fetchAddr := u.trace.NextAddr()
	nextAddr := fetchAddr + uint64(instSize*u.fetchRate)
	nextAddr -= nextAddr % uint64(instSize*u.fetchRate)
	u.nextFetchAddr.setAddr(nextAddr)

	for addr := fetchAddr; addr < nextAddr; addr += instSize {
		if addr != u.trace.NextAddr() {
			u.queue.Buffer(nil)
			continue
		}

		i, err := u.trace.Dequeue()
		if err != nil {
			return err
		}
		if i == nil {
			u.log("no more instructions in trace")
			break
		}

		u.log(i.Mnemonic + " from mem/trace")
		u.queue.Buffer(i)

		if !i.IsBranch && i.Addr+instSize != u.trace.NextAddr() {
			u.log("next fetch is an exception handler?")
			next := u.trace.NextAddr()
			u.nextFetchAddr.setAddr(next)
		}
	}

	cntr.Utilizations["FE"].Count += u.fetchRate
	return nil
}

// Tock commits the buffered batch and applies any deferred branch-stall
// clear requested via BranchResolved during TICK.
func (u *Unit) Tock(cntr *counter.Counter) {
	u.BeginTock()

	u.queue.Flush()

	if u.nextFetchStall != nil {
		u.nextFetchAddr.stall = *u.nextFetchStall
		u.nextFetchStall = nil
	}

	cntr.Utilizations["FE"].Occupied += u.queue.Len()
}

// BranchResolved informs FetchUnit that an unresolved branch's target is
// now known: it discards any leading untraced placeholders and clears the
// stall, immediately if called during TOCK, or deferred to the next TOCK if
// called during TICK.
func (u *Unit) BranchResolved() {
	if u.branchPrediction != PredictionNone {
		panic("BranchResolved called with branch_prediction != none")
	}

	// The branch target may already sit in the queue behind untraced
	// placeholders fetched along the wrong path; only those are dropped.
	isHole := func(i *instr.Instruction) bool { return i == nil }
	u.queue.DropLeadingBuffered(isHole)
	u.queue.DropLeading(isHole)

	if u.Phase() == cycle.Tick {
		stall := false
		u.nextFetchStall = &stall
	} else {
		u.nextFetchAddr.stall = false
	}
}

// PrintStateDetailed writes a human-readable rendering of the fetch queue.
func (u *Unit) PrintStateDetailed(w io.Writer) {
	items := u.queue.Chain()
	if len(items) == 0 {
		fmt.Fprintln(w, "[FE] -")
		return
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i] == nil {
			fmt.Fprint(w, "X")
		} else {
			fmt.Fprint(w, items[i].String())
		}
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
	}
	fmt.Fprintln(w)
}

// StateThreeValuedHeader returns the one column header for this unit.
func (u *Unit) StateThreeValuedHeader() []string { return []string{"FE"} }

// StateThreeValued renders the fetch queue's occupancy as a three-valued
// marker.
func (u *Unit) StateThreeValued(vals [3]string) []string {
	present := func(i *instr.Instruction) bool { return i != nil }
	return []string{u.queue.PPThreeValued(vals, present)}
}
