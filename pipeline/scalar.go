package pipeline

import (
	"fmt"
	"io"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/queue"
)

type loadStoreKey struct {
	i     *instr.Instruction
	addr  uint64
}

// ScalarPipeline executes one non-vector instruction per staged slot.
type ScalarPipeline struct {
	name         string
	kind         string
	issueQueueID string

	eiq        *queue.BufferedQueue[*instr.Instruction]
	canSkipEIQ bool

	pipelined bool
	stage     []*instr.Instruction

	writebackQ *queue.BufferedQueue[*instr.Instruction]

	mem MemPort

	loadStage        *int
	fixedLoadLatency int
	// stallingLoads tracks each in-flight load: nil = issued, true =
	// awaiting its reply, false = reply received.
	stallingLoads map[loadStoreKey]*bool

	storeStage         *int
	fixedStoreLatency  int
	stallingStores     map[loadStoreKey]*bool

	scoreboards RegFileScoreboards

	retired []*instr.Instruction
}

// NewScalar constructs a ScalarPipeline from its static config and the
// scoreboards that track each register file it reads and writes.
func NewScalar(cfg Config, scoreboards RegFileScoreboards) *ScalarPipeline {
	return &ScalarPipeline{
		name:              cfg.Name,
		kind:              cfg.Kind,
		issueQueueID:      cfg.IssueQueueID,
		eiq:               queue.New[*instr.Instruction](cfg.EIQSize),
		canSkipEIQ:        cfg.CanSkipEIQ,
		pipelined:         cfg.Pipelined,
		stage:             make([]*instr.Instruction, cfg.Depth),
		writebackQ:        queue.New[*instr.Instruction](cfg.WritebackBuffSize),
		mem:               cfg.Mem,
		loadStage:         cfg.LoadStage,
		fixedLoadLatency:  cfg.FixedLoadLatency,
		stallingLoads:     map[loadStoreKey]*bool{},
		storeStage:        cfg.StoreStage,
		fixedStoreLatency: cfg.FixedStoreLatency,
		stallingStores:    map[loadStoreKey]*bool{},
		scoreboards:       scoreboards,
	}
}

func (p *ScalarPipeline) Name() string         { return p.name }
func (p *ScalarPipeline) Kind() string         { return p.kind }
func (p *ScalarPipeline) IssueQueueID() string { return p.issueQueueID }

// Reset installs this pipeline's utilization counters into cntr.
func (p *ScalarPipeline) Reset(cntr *counter.Counter) {
	registerUtilizations(cntr, p.name, p.eiq.Size(), len(p.stage), p.writebackQ.Size())
}

func (p *ScalarPipeline) regReadStall(i *instr.Instruction) bool {
	for rf, regs := range i.InputsByType() {
		if !p.scoreboards[rf].CanRead(i, regs) {
			return true
		}
	}
	return false
}

func (p *ScalarPipeline) regWriteStall(i *instr.Instruction) bool {
	for rf, regs := range i.OutputsByType() {
		if !p.scoreboards[rf].CanWrite(i, regs) {
			return true
		}
	}
	return false
}

func (p *ScalarPipeline) sbRegRead(i *instr.Instruction) {
	for rf, regs := range i.InputsByType() {
		p.scoreboards[rf].Read(i, regs)
	}
}

func (p *ScalarPipeline) sbBuffRegWrite(i *instr.Instruction) {
	for rf, regs := range i.OutputsByType() {
		p.scoreboards[rf].BuffWrite(i, regs)
	}
}

func (p *ScalarPipeline) sbRegWrite(i *instr.Instruction) {
	for rf, regs := range i.OutputsByType() {
		p.scoreboards[rf].Write(i, regs)
	}
}

func (p *ScalarPipeline) doRegWriteback() {
	head, ok := p.writebackQ.Peek()
	if !ok {
		return
	}
	if p.regWriteStall(head) {
		return
	}
	i, _ := p.writebackQ.Dequeue()
	p.sbRegWrite(i)
	p.retired = append(p.retired, i)
}

func (p *ScalarPipeline) stall(cntr *counter.Counter) bool {
	last := p.stage[len(p.stage)-1]
	if last != nil && len(last.OutputsByType()) > 0 && p.writebackQ.IsBufferFull() {
		return true
	}

	for _, waiting := range p.stallingLoads {
		if waiting != nil && *waiting {
			cntr.ScalarLoadStoreStall++
			return true
		}
	}
	for _, waiting := range p.stallingStores {
		if waiting != nil && *waiting {
			cntr.ScalarLoadStoreStall++
			return true
		}
	}
	return false
}

func (p *ScalarPipeline) doLoad() {
	if p.loadStage == nil {
		return
	}
	if i := p.stage[*p.loadStage]; i != nil {
		for _, addr := range i.Loads {
			key := loadStoreKey{i, addr}
			if _, ok := p.stallingLoads[key]; !ok {
				p.mem.IssueLoad(i, addr)
				p.stallingLoads[key] = nil
			}
		}
	}

	replyIdx := *p.loadStage + p.fixedLoadLatency
	if replyIdx < len(p.stage) {
		if i := p.stage[replyIdx]; i != nil {
			for _, addr := range i.Loads {
				key := loadStoreKey{i, addr}
				if p.stallingLoads[key] == nil {
					f := true
					p.stallingLoads[key] = &f
				}
			}
			for range p.mem.TakeLoadReplies(i) {
				for _, addr := range i.Loads {
					key := loadStoreKey{i, addr}
					done := false
					p.stallingLoads[key] = &done
				}
			}
		}
	}
}

func (p *ScalarPipeline) doStore() {
	if p.storeStage == nil {
		return
	}
	if i := p.stage[*p.storeStage]; i != nil {
		for _, addr := range i.Stores {
			key := loadStoreKey{i, addr}
			if _, ok := p.stallingStores[key]; !ok {
				p.mem.IssueStore(i, addr)
				p.stallingStores[key] = nil
			}
		}
	}

	replyIdx := *p.storeStage + p.fixedStoreLatency
	if replyIdx < len(p.stage) {
		if i := p.stage[replyIdx]; i != nil {
			for _, addr := range i.Stores {
				key := loadStoreKey{i, addr}
				if p.stallingStores[key] == nil {
					f := true
					p.stallingStores[key] = &f
				}
			}
			for range p.mem.TakeStoreReplies(i) {
				for _, addr := range i.Stores {
					key := loadStoreKey{i, addr}
					done := false
					p.stallingStores[key] = &done
				}
			}
		}
	}
}

// Tick moves instructions EIQ -> stage -> WBQ -> register file, shifting the
// stage array counter to instruction-flow direction so a slot freed at the
// writeback end is visible to its neighbor in the same cycle.
func (p *ScalarPipeline) Tick(cntr *counter.Counter) {
	p.retired = p.retired[:0]

	p.doRegWriteback()

	if !p.stall(cntr) {
		if p.loadStage != nil {
			idx := *p.loadStage + p.fixedLoadLatency
			if idx < len(p.stage) {
				if i := p.stage[idx]; i != nil {
					for _, addr := range i.Loads {
						delete(p.stallingLoads, loadStoreKey{i, addr})
					}
				}
			}
		}
		if p.storeStage != nil {
			idx := *p.storeStage + p.fixedStoreLatency
			if idx < len(p.stage) {
				if i := p.stage[idx]; i != nil {
					for _, addr := range i.Stores {
						delete(p.stallingStores, loadStoreKey{i, addr})
					}
				}
			}
		}

		last := p.stage[len(p.stage)-1]
		copy(p.stage[1:], p.stage[:len(p.stage)-1])
		p.stage[0] = nil

		if last != nil {
			if len(last.OutputsByType()) > 0 {
				p.writebackQ.Buffer(last)
				cntr.Utilizations[utilName(p.name, "wbq")].Count++
				p.sbBuffRegWrite(last)
			} else {
				p.retired = append(p.retired, last)
			}
		}
	}

	p.doLoad()
	p.doStore()

	if p.isReady() {
		n := p.eiq.Len()
		for k := 0; k < n; k++ {
			i, ok := p.eiq.Dequeue()
			if !ok {
				break
			}
			if p.tryIssue(i, cntr) {
				break
			}
			p.eiq.Requeue(i)
		}
	}
}

// Tock commits buffered EIQ/WBQ staging and updates occupancy counters.
func (p *ScalarPipeline) Tock(cntr *counter.Counter) {
	p.retired = p.retired[:0]

	occupied := 0
	for _, i := range p.stage {
		if i != nil {
			occupied++
		}
	}
	cntr.Utilizations[utilName(p.name, "pipe")].Occupied += occupied

	p.eiq.Flush()
	cntr.Utilizations[utilName(p.name, "eiq")].Occupied += p.eiq.Len()

	p.writebackQ.Flush()
	cntr.Utilizations[utilName(p.name, "wbq")].Occupied += p.writebackQ.Len()
}

// Retired returns the instructions that completed (wrote back or had no
// outputs) this tick.
func (p *ScalarPipeline) Retired() []*instr.Instruction { return p.retired }

// Pending returns the total number of instructions still in flight.
func (p *ScalarPipeline) Pending() int {
	occupied := 0
	for _, i := range p.stage {
		if i != nil {
			occupied++
		}
	}
	return len(p.eiq.Chain()) + occupied + len(p.writebackQ.Chain())
}

// TryDispatch attempts to admit i into this pipeline's EIQ (or bypass it, if
// the pipeline is empty and configured to skip the EIQ). Returns false only
// if the EIQ is already full.
func (p *ScalarPipeline) TryDispatch(i *instr.Instruction, cntr *counter.Counter) bool {
	if p.eiq.IsBufferFull() {
		return false
	}

	inputs := i.InputsByType()
	outputs := i.OutputsByType()
	seen := map[instr.RegFile]bool{}
	for rf := range inputs {
		seen[rf] = true
	}
	for rf := range outputs {
		seen[rf] = true
	}
	for rf := range seen {
		p.scoreboards[rf].InsertAccesses(i, inputs[rf], outputs[rf])
	}

	if !(p.canSkipEIQ && p.isReady() && p.tryIssue(i, cntr)) {
		p.eiq.Buffer(i)
		cntr.Utilizations[utilName(p.name, "eiq")].Count++
	}

	if len(i.Loads) > 0 || len(i.Stores) > 0 {
		cntr.ScalarLoadStore++
	}

	return true
}

func (p *ScalarPipeline) isReady() bool {
	if p.pipelined {
		return p.stage[0] == nil
	}
	for _, i := range p.stage {
		if i != nil {
			return false
		}
	}
	return true
}

func (p *ScalarPipeline) tryIssue(i *instr.Instruction, cntr *counter.Counter) bool {
	for _, sb := range p.scoreboards {
		if !sb.CanIssue(i) {
			return false
		}
	}
	if p.regReadStall(i) {
		return false
	}

	p.stage[0] = i
	cntr.Utilizations[utilName(p.name, "pipe")].Count++

	for _, sb := range p.scoreboards {
		sb.Issue(i)
	}
	p.sbRegRead(i)

	return true
}

// PrintStateDetailed writes a human-readable rendering of this pipeline's
// EIQ, stages, and writeback queue.
func (p *ScalarPipeline) PrintStateDetailed(w io.Writer) {
	eiqStr := joinInstrs(p.eiq.Chain())
	stageParts := make([]string, len(p.stage))
	for i, instrAt := range p.stage {
		if instrAt == nil {
			stageParts[i] = "-"
		} else {
			stageParts[i] = instrAt.String()
		}
	}
	wbqStr := joinInstrs(p.writebackQ.Chain())

	fmt.Fprintf(w, "[%s] %s\n", p.name, pipeStr(eiqStr, fmt.Sprint(stageParts), wbqStr))
}

// StateThreeValuedHeader returns the column headers for this pipeline's
// three-valued (empty/partial/full) rendering: eiq, pipe, wbq.
func (p *ScalarPipeline) StateThreeValuedHeader() []string {
	return []string{p.name + ".eiq", p.kind, p.name + ".wbq"}
}

// StateThreeValued renders eiq/pipe/wbq occupancy as three-valued markers.
func (p *ScalarPipeline) StateThreeValued(vals [3]string) []string {
	full, any := true, false
	for _, i := range p.stage {
		if i != nil {
			any = true
		} else {
			full = false
		}
	}
	pipeStr := vals[0]
	if full {
		pipeStr = vals[2]
	} else if any {
		pipeStr = vals[1]
	}

	present := func(i *instr.Instruction) bool { return i != nil }
	return []string{
		p.eiq.PPThreeValued(vals, present),
		pipeStr,
		p.writebackQ.PPThreeValued(vals, present),
	}
}
