// Package pipeline implements the scalar and vector execution pipelines:
// each owns an execution issue queue (EIQ), a fixed-depth staged array, and
// a writeback queue (WBQ), and moves instructions EIQ -> stage -> WBQ -> RF
// one step per cycle. Staged elements are shifted counter to instruction-flow
// direction (writeback end first) so that, within one tick, a freed slot is
// visible to the stage behind it in the same cycle.
package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/scoreboard"
)

// MemPort is the interface a pipeline's load/store stage uses to talk to
// the memory system. tag identifies the in-flight access (an *instr.Instruction
// for the scalar pipeline, an (instruction, slice) pair for the vector one);
// the memory system does not interpret it beyond using it as a reply key.
type MemPort interface {
	IssueLoad(tag any, addr uint64)
	IssueStore(tag any, addr uint64)
	TakeLoadReplies(tag any) []uint64
	TakeStoreReplies(tag any) []uint64
}

// RegFileScoreboards maps a register file to the scoreboard tracking it.
type RegFileScoreboards map[instr.RegFile]*scoreboard.Scoreboard

// Pipe is the surface ExecUnit drives, implemented by both ScalarPipeline
// and VectorPipeline.
type Pipe interface {
	Name() string
	Kind() string
	IssueQueueID() string

	Reset(cntr *counter.Counter)
	Tick(cntr *counter.Counter)
	Tock(cntr *counter.Counter)

	Retired() []*instr.Instruction
	Pending() int

	TryDispatch(i *instr.Instruction, cntr *counter.Counter) bool

	PrintStateDetailed(w io.Writer)
	StateThreeValuedHeader() []string
	StateThreeValued(vals [3]string) []string
}

// Config describes one pipeline's static shape, read from the pipeline
// configuration file.
type Config struct {
	Name string
	Kind string
	// IssueQueueID names the SchedUnit dispatch queue this pipeline (or the
	// first pipe of a kind with several instances) drains from.
	IssueQueueID string

	EIQSize         *int
	CanSkipEIQ      bool
	Depth           int
	Pipelined       bool
	WritebackBuffSize *int

	Mem MemPort

	LoadStage         *int
	FixedLoadLatency  int
	StoreStage        *int
	FixedStoreLatency int
}

func utilName(base, suffix string) string { return base + "." + suffix }

func pipeStr(eiqStr, stageStr, wbqStr string) string {
	if eiqStr == "" {
		eiqStr = "-"
	}
	if wbqStr == "" {
		wbqStr = "-"
	}
	return fmt.Sprintf("%s > %s > %s", eiqStr, stageStr, wbqStr)
}

func joinInstrs(items []*instr.Instruction) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, ", ")
}

// registerUtilizations installs the three per-pipeline utilization
// counters (eiq/pipe/wbq) the report prints.
func registerUtilizations(cntr *counter.Counter, name string, eiqSize *int, depth int, wbqSize *int) {
	cntr.Utilizations[utilName(name, "eiq")] = &counter.Utilization{Size: eiqSize}
	d := depth
	cntr.Utilizations[utilName(name, "pipe")] = &counter.Utilization{Size: &d}
	cntr.Utilizations[utilName(name, "wbq")] = &counter.Utilization{Size: wbqSize}
}
