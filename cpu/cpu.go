// Package cpu composes the memory system, execution unit, scheduling unit
// and fetch unit into one simulated processor and owns the per-cycle
// tick/tock loop.
//
// Units are processed counter to instruction flow — memory, execute,
// schedule, fetch — in both phases. This ordering is a hard invariant of
// the machine, not a style choice: an empty slot downstream is freed before
// its upstream neighbor runs, so lockstep propagation (a bubble pulling the
// whole pipe forward in one cycle) arises without any explicit dataflow
// analysis. Reversing the order yields a machine whose observable latency
// differs by one cycle per stage.
package cpu

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/execunit"
	"github.com/sarchlab/tbsim/fetch"
	"github.com/sarchlab/tbsim/memsys"
	"github.com/sarchlab/tbsim/sched"
	"github.com/sarchlab/tbsim/simerror"
	"github.com/sarchlab/tbsim/telemetry"
)

// deadlockThreshold is how many consecutive cycles the retired-instruction
// count may stay flat, with work still outstanding, before the watchdog
// declares the simulator itself broken.
const deadlockThreshold = 100

// headerRepeatCycles is how often the three-valued dump re-emits its column
// header row.
const headerRepeatCycles = 100

// DumpMode selects the per-cycle state rendering Simulate emits.
type DumpMode int

const (
	DumpNone DumpMode = iota
	DumpDetailed
	DumpThreeValued
)

// Options bounds one Simulate run.
type Options struct {
	// MaxCycles stops the run after this many cycles; 0 means unbounded.
	MaxCycles uint64

	// SkipInstructions discards all statistics gathered before this many
	// instructions have retired.
	SkipInstructions uint64
	// MaxInstructions stops the run once this many instructions have
	// retired after the skip point; nil means run to trace EOF.
	MaxInstructions *uint64

	Dump           DumpMode
	DumpWriter     io.Writer
	PrintFromCycle uint64
}

// CPU is the top-level composition of the simulated processor.
type CPU struct {
	mem   *memsys.System
	exec  *execunit.Unit
	sched *sched.Unit
	fetch *fetch.Unit

	cntr *counter.Counter
	log  *telemetry.Logger

	// threeValuedPhase is the cycle-mod-headerRepeatCycles value of the
	// first three-valued print; the header repeats whenever the phase comes
	// around again.
	threeValuedPhase *uint64
}

// New composes a CPU from its four units and the shared counter aggregate.
func New(mem *memsys.System, exec *execunit.Unit, schedU *sched.Unit,
	fetchU *fetch.Unit, cntr *counter.Counter, log *telemetry.Logger) *CPU {
	c := &CPU{
		mem:   mem,
		exec:  exec,
		sched: schedU,
		fetch: fetchU,
		cntr:  cntr,
		log:   log,
	}
	c.reset()
	return c
}

// Counter returns the statistics aggregate this CPU writes into.
func (c *CPU) Counter() *counter.Counter { return c.cntr }

func (c *CPU) reset() {
	c.mem.Reset()
	c.exec.Reset(c.cntr)
	c.sched.Reset(c.cntr)
	c.fetch.Reset(c.cntr)
}

// pending is the number of instructions somewhere between fetch and
// retirement.
func (c *CPU) pending() int {
	return c.fetch.Pending() + c.sched.Pending() + c.exec.Pending() + c.mem.Pending()
}

// done reports whether the trace is exhausted and every unit has drained.
func (c *CPU) done() bool {
	return c.fetch.EOF() && c.pending() == 0
}

// resetStats zeroes every accumulated statistic in place, keeping the
// installed stall/utilization entries. Used at the --instructions skip
// point so the reported window excludes warm-up.
func (c *CPU) resetStats() {
	c.cntr.Cycles = 0
	c.cntr.RetiredInstructionCount = 0
	c.cntr.BranchCount = 0
	for k := range c.cntr.Stalls {
		c.cntr.Stalls[k] = 0
	}
	for _, u := range c.cntr.Utilizations {
		u.Count = 0
		u.Occupied = 0
	}
	c.cntr.ScalarLoadStore = 0
	c.cntr.ScalarLoadStoreStall = 0
	c.cntr.VectorLoadStore = 0
	c.cntr.VectorLoadStoreStall = 0
}

// cycleOnce runs one full cycle: every unit's tick, then every unit's tock,
// both counter to instruction flow.
func (c *CPU) cycleOnce(cycleNum uint64) error {
	c.log.SetCycle(cycleNum)

	c.mem.Tick(cycleNum)
	c.exec.Tick(cycleNum, c.cntr)
	c.sched.Tick(cycleNum, c.cntr)
	if err := c.fetch.Tick(cycleNum, c.cntr); err != nil {
		return err
	}

	c.mem.Tock()
	c.exec.Tock(c.cntr)
	c.sched.Tock(c.cntr)
	c.fetch.Tock(c.cntr)

	c.cntr.Cycles++
	return nil
}

// Simulate advances the clock until the trace drains, a configured bound is
// reached, or the deadlock watchdog fires.
func (c *CPU) Simulate(opts Options) error {
	var (
		cycleNum    uint64
		lastRetired uint64
		flatCycles  int
	)
	skipped := opts.SkipInstructions == 0

	for {
		if c.done() {
			return nil
		}
		if opts.MaxCycles != 0 && cycleNum >= opts.MaxCycles {
			return nil
		}

		cycleNum++
		if err := c.cycleOnce(cycleNum); err != nil {
			return err
		}

		if opts.Dump != DumpNone && cycleNum >= opts.PrintFromCycle {
			c.dumpState(opts, cycleNum)
		}

		retired := c.cntr.RetiredInstructionCount

		if !skipped && retired >= opts.SkipInstructions {
			c.resetStats()
			skipped = true
			retired = 0
		}

		if skipped && opts.MaxInstructions != nil &&
			retired >= *opts.MaxInstructions {
			return nil
		}

		if retired == lastRetired {
			flatCycles++
			if flatCycles >= deadlockThreshold && !c.done() {
				if opts.DumpWriter != nil {
					c.PrintStateDetailed(opts.DumpWriter)
				}
				return &simerror.DeadlockError{
					Cycle:     cycleNum,
					Threshold: deadlockThreshold,
				}
			}
		} else {
			flatCycles = 0
			lastRetired = retired
		}
	}
}

func (c *CPU) dumpState(opts Options, cycleNum uint64) {
	w := opts.DumpWriter
	if w == nil {
		return
	}
	switch opts.Dump {
	case DumpDetailed:
		fmt.Fprintf(w, "=== cycle %d ===\n", cycleNum)
		c.PrintStateDetailed(w)
	case DumpThreeValued:
		c.PrintStateThreeValued(w, cycleNum)
	}
}

// PrintStateDetailed writes every unit's full textual rendering, in
// instruction-flow order (fetch first) for readability.
func (c *CPU) PrintStateDetailed(w io.Writer) {
	c.fetch.PrintStateDetailed(w)
	c.sched.PrintStateDetailed(w)
	c.exec.PrintStateDetailed(w)
	c.mem.PrintStateDetailed(w)
}

// threeValuedMarks are the empty/partial/full markers of the compact dump.
var threeValuedMarks = [3]string{".", "o", "#"}

// PrintStateThreeValued writes one compact line per cycle, one
// empty/partial/full marker per structural unit. The first print
// establishes the header-repeat phase; the header is re-emitted every
// headerRepeatCycles cycles from that point.
func (c *CPU) PrintStateThreeValued(w io.Writer, cycleNum uint64) {
	phase := cycleNum % headerRepeatCycles
	if c.threeValuedPhase == nil {
		c.threeValuedPhase = &phase
	}
	if phase == *c.threeValuedPhase {
		var hdr []string
		hdr = append(hdr, c.fetch.StateThreeValuedHeader()...)
		hdr = append(hdr, c.sched.StateThreeValuedHeader()...)
		hdr = append(hdr, c.exec.StateThreeValuedHeader()...)
		hdr = append(hdr, c.mem.StateThreeValuedHeader()...)
		fmt.Fprintf(w, "%10s %s\n", "cycle", strings.Join(hdr, " "))
	}

	var cells []string
	cells = append(cells, pad(c.fetch.StateThreeValued(threeValuedMarks), c.fetch.StateThreeValuedHeader())...)
	cells = append(cells, pad(c.sched.StateThreeValued(threeValuedMarks), c.sched.StateThreeValuedHeader())...)
	cells = append(cells, pad(c.exec.StateThreeValued(threeValuedMarks), c.exec.StateThreeValuedHeader())...)
	cells = append(cells, pad(c.mem.StateThreeValued(threeValuedMarks), c.mem.StateThreeValuedHeader())...)
	fmt.Fprintf(w, "%10d %s\n", cycleNum, strings.Join(cells, " "))
}

// pad centers each single-character cell under its header column.
func pad(cells, headers []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		width := len(cell)
		if i < len(headers) && len(headers[i]) > width {
			width = len(headers[i])
		}
		out[i] = fmt.Sprintf("%*s", width, cell)
	}
	return out
}
