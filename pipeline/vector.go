package pipeline

import (
	"fmt"
	"io"
	"math"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/instr"
	"github.com/sarchlab/tbsim/queue"
)

// sliceInstr pairs an in-flight instruction with the slice index it is
// currently occupying a pipeline stage or writeback slot for.
type sliceInstr struct {
	instr *instr.Instruction
	slice int
}

type vecLoadStoreKey struct {
	i     *instr.Instruction
	slice int
	addr  uint64
}

// VectorPipeline streams a vector instruction's slices through the pipe one
// per cycle, supporting chaining (a consumer may start reading slice 0 of a
// producer's result before the producer has finished all its slices) and
// tailgating, by keeping exactly one instruction "inflight" at a time and
// feeding its next slice into the stage array each cycle.
type VectorPipeline struct {
	name         string
	kind         string
	issueQueueID string

	eiq        *queue.BufferedQueue[*instr.Instruction]
	canSkipEIQ bool

	slices    int
	pipelined bool
	stage     []*sliceInstr

	inflight     *instr.Instruction
	inflightNext int

	writebackQ *queue.BufferedQueue[sliceInstr]

	mem MemPort

	loadStage        *int
	fixedLoadLatency int
	// stallingLoads tracks each in-flight per-slice load: nil = issued,
	// true = awaiting its reply, false = reply received.
	stallingLoads map[vecLoadStoreKey]*bool

	storeStage         *int
	fixedStoreLatency  int
	stallingStores     map[vecLoadStoreKey]*bool

	scoreboards RegFileScoreboards

	retired []*instr.Instruction
}

// NewVector constructs a VectorPipeline with the given number of register
// slices (the microarchitectural width the vector register file is split
// into).
func NewVector(cfg Config, slices int, scoreboards RegFileScoreboards) *VectorPipeline {
	return &VectorPipeline{
		name:              cfg.Name,
		kind:              cfg.Kind,
		issueQueueID:      cfg.IssueQueueID,
		eiq:               queue.New[*instr.Instruction](cfg.EIQSize),
		canSkipEIQ:        cfg.CanSkipEIQ,
		slices:            slices,
		pipelined:         cfg.Pipelined,
		stage:             make([]*sliceInstr, cfg.Depth),
		writebackQ:        queue.New[sliceInstr](cfg.WritebackBuffSize),
		mem:               cfg.Mem,
		loadStage:         cfg.LoadStage,
		fixedLoadLatency:  cfg.FixedLoadLatency,
		stallingLoads:     map[vecLoadStoreKey]*bool{},
		storeStage:        cfg.StoreStage,
		fixedStoreLatency: cfg.FixedStoreLatency,
		stallingStores:    map[vecLoadStoreKey]*bool{},
		scoreboards:       scoreboards,
	}
}

func (p *VectorPipeline) Name() string         { return p.name }
func (p *VectorPipeline) Kind() string         { return p.kind }
func (p *VectorPipeline) IssueQueueID() string { return p.issueQueueID }

// Reset installs this pipeline's utilization counters into cntr.
func (p *VectorPipeline) Reset(cntr *counter.Counter) {
	registerUtilizations(cntr, p.name, p.eiq.Size(), len(p.stage), p.writebackQ.Size())
}

// Eslices is the number of slices instruction i streams through this
// pipeline: its effective LMUL (doubled if it is a widening op) rounded up
// to a whole number of register slices.
func (p *VectorPipeline) Eslices(i *instr.Instruction) int {
	return int(math.Ceil(i.MaxEMul() * float64(p.slices)))
}

// sliceAccess returns the memory access location and element count for
// slice index of a total eslices-way split of accesses.
func sliceAccess(accesses []uint64, index, eslices int) (uint64, int) {
	alen := len(accesses)
	slen := alen / eslices
	start := index * slen
	if start >= alen {
		return 0, 0
	}
	if rem := alen - start; slen > rem {
		slen = rem
	}
	return accesses[start], slen
}

// vecRegSeq expands one architectural register name into the sequence of
// slice-qualified tokens it maps to at the given effective LMUL, widening
// with leading/trailing nil placeholders when maxEMul doubles emul (spec
// §3, "Vector register widening").
func (p *VectorPipeline) vecRegSeq(reg string, inputReg bool, emul, maxEMul float64) []string {
	base := reg[1:]
	var seq []string
	if emul < 1 {
		n := int(math.Ceil(emul * float64(p.slices)))
		for s := 0; s < n; s++ {
			seq = append(seq, fmt.Sprintf("%s.%d", reg, s))
		}
	} else {
		g := int(emul)
		baseNum := parseRegNum(base)
		for group := 0; group < g; group++ {
			for s := 0; s < p.slices; s++ {
				seq = append(seq, fmt.Sprintf("%c%d.%d", reg[0], baseNum+group, s))
			}
		}
	}

	if emul == maxEMul || (emul < 1 && float64(p.slices) < 1/emul) {
		return seq
	}

	// maxEMul == 2*emul: interleave nil placeholders for the widened half.
	out := make([]string, 0, len(seq)*2)
	for _, r := range seq {
		if inputReg {
			out = append(out, r, "")
		} else {
			out = append(out, "", r)
		}
	}
	return out
}

func parseRegNum(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func (p *VectorPipeline) inputSeq(i *instr.Instruction, reg string) []string {
	if !instr.IsVectorReg(reg) {
		return []string{reg}
	}
	emul := *i.LMul
	if len(i.Operands) > 1 && i.Operands[1] == reg && i.IsWideningSrc(1) {
		emul = 2 * (*i.LMul)
	}
	return p.vecRegSeq(reg, true, emul, i.MaxEMul())
}

func (p *VectorPipeline) outputSeq(i *instr.Instruction, reg string) []string {
	if !instr.IsVectorReg(reg) {
		res := make([]string, p.Eslices(i))
		res[len(res)-1] = reg
		return res
	}
	emul := *i.LMul
	if len(i.Operands) > 0 && i.Operands[0] == reg && i.IsWideningDst(0) {
		emul = 2 * (*i.LMul)
	}
	return p.vecRegSeq(reg, false, emul, i.MaxEMul())
}

// seqByType groups reg, per register file, into one register set per slice.
func (p *VectorPipeline) seqByType(i *instr.Instruction, regsByType map[instr.RegFile][]string, input bool) map[instr.RegFile][][]string {
	eslices := p.Eslices(i)
	res := map[instr.RegFile][][]string{}
	for rf, regs := range regsByType {
		seq := make([][]string, eslices)
		for _, reg := range regs {
			var tokens []string
			if input {
				tokens = p.inputSeq(i, reg)
			} else {
				tokens = p.outputSeq(i, reg)
			}
			for idx, r := range tokens {
				if idx >= eslices || r == "" {
					continue
				}
				seq[idx] = append(seq[idx], r)
			}
		}
		res[rf] = seq
	}
	return res
}

func (p *VectorPipeline) inputSeqByType(i *instr.Instruction) map[instr.RegFile][][]string {
	return p.seqByType(i, i.InputsByType(), true)
}

func (p *VectorPipeline) outputSeqByType(i *instr.Instruction) map[instr.RegFile][][]string {
	return p.seqByType(i, i.OutputsByType(), false)
}

func (p *VectorPipeline) regReadStall(i *instr.Instruction, s int) bool {
	for rf, seq := range p.inputSeqByType(i) {
		if s < len(seq) && !p.scoreboards[rf].CanRead(i, seq[s]) {
			return true
		}
	}
	return false
}

func (p *VectorPipeline) regWriteStall(i *instr.Instruction, s int) bool {
	for rf, seq := range p.outputSeqByType(i) {
		if s < len(seq) && !p.scoreboards[rf].CanWrite(i, seq[s]) {
			return true
		}
	}
	return false
}

func (p *VectorPipeline) sbRegRead(i *instr.Instruction, s int) {
	for rf, seq := range p.inputSeqByType(i) {
		if s < len(seq) && len(seq[s]) > 0 {
			p.scoreboards[rf].Read(i, seq[s])
		}
	}
}

func (p *VectorPipeline) sbBuffRegWrite(i *instr.Instruction, s int) {
	for rf, seq := range p.outputSeqByType(i) {
		if s < len(seq) {
			p.scoreboards[rf].BuffWrite(i, seq[s])
		}
	}
}

func (p *VectorPipeline) sbRegWrite(i *instr.Instruction, s int) {
	for rf, seq := range p.outputSeqByType(i) {
		if s < len(seq) {
			p.scoreboards[rf].Write(i, seq[s])
		}
	}
}

func (p *VectorPipeline) doRegWriteback() {
	head, ok := p.writebackQ.Peek()
	if !ok {
		return
	}
	if p.regWriteStall(head.instr, head.slice) {
		return
	}
	p.sbRegWrite(head.instr, head.slice)
	p.writebackQ.Dequeue()
	if head.slice+1 == p.Eslices(head.instr) {
		p.retired = append(p.retired, head.instr)
	}
}

func (p *VectorPipeline) hasOutputAt(i *instr.Instruction, s int) bool {
	for _, seq := range p.outputSeqByType(i) {
		if s < len(seq) && len(seq[s]) > 0 {
			return true
		}
	}
	return false
}

func (p *VectorPipeline) stall(cntr *counter.Counter) bool {
	last := p.stage[len(p.stage)-1]
	if last != nil && p.hasOutputAt(last.instr, last.slice) && p.writebackQ.IsBufferFull() {
		return true
	}

	for _, waiting := range p.stallingLoads {
		if waiting != nil && *waiting {
			cntr.VectorLoadStoreStall++
			return true
		}
	}
	for _, waiting := range p.stallingStores {
		if waiting != nil && *waiting {
			cntr.VectorLoadStoreStall++
			return true
		}
	}
	return false
}

func (p *VectorPipeline) doLoad() {
	if p.loadStage == nil {
		return
	}
	if si := p.stage[*p.loadStage]; si != nil && len(si.instr.Loads) > 0 {
		addr, _ := sliceAccess(si.instr.Loads, si.slice, p.Eslices(si.instr))
		key := vecLoadStoreKey{si.instr, si.slice, addr}
		if _, ok := p.stallingLoads[key]; !ok {
			p.mem.IssueLoad(sliceInstr{si.instr, si.slice}, addr)
			p.stallingLoads[key] = nil
		}
	}

	idx := *p.loadStage + p.fixedLoadLatency
	if idx < len(p.stage) {
		if si := p.stage[idx]; si != nil && len(si.instr.Loads) > 0 {
			addr, _ := sliceAccess(si.instr.Loads, si.slice, p.Eslices(si.instr))
			key := vecLoadStoreKey{si.instr, si.slice, addr}
			if p.stallingLoads[key] == nil {
				f := true
				p.stallingLoads[key] = &f
			}
			if len(p.mem.TakeLoadReplies(sliceInstr{si.instr, si.slice})) > 0 {
				done := false
				p.stallingLoads[key] = &done
			}
		}
	}
}

func (p *VectorPipeline) doStore() {
	if p.storeStage == nil {
		return
	}
	if si := p.stage[*p.storeStage]; si != nil && len(si.instr.Stores) > 0 {
		addr, _ := sliceAccess(si.instr.Stores, si.slice, p.Eslices(si.instr))
		key := vecLoadStoreKey{si.instr, si.slice, addr}
		if _, ok := p.stallingStores[key]; !ok {
			p.mem.IssueStore(sliceInstr{si.instr, si.slice}, addr)
			p.stallingStores[key] = nil
		}
	}

	idx := *p.storeStage + p.fixedStoreLatency
	if idx < len(p.stage) {
		if si := p.stage[idx]; si != nil && len(si.instr.Stores) > 0 {
			addr, _ := sliceAccess(si.instr.Stores, si.slice, p.Eslices(si.instr))
			key := vecLoadStoreKey{si.instr, si.slice, addr}
			if p.stallingStores[key] == nil {
				f := true
				p.stallingStores[key] = &f
			}
			if len(p.mem.TakeStoreReplies(sliceInstr{si.instr, si.slice})) > 0 {
				done := false
				p.stallingStores[key] = &done
			}
		}
	}
}

// Tick streams the inflight instruction's next slice into the stage array,
// shifts the stage counter to instruction-flow direction, and retires
// completed slices to the writeback queue.
func (p *VectorPipeline) Tick(cntr *counter.Counter) {
	p.retired = p.retired[:0]

	p.doRegWriteback()

	if !p.stall(cntr) {
		if p.loadStage != nil {
			idx := *p.loadStage + p.fixedLoadLatency
			if idx < len(p.stage) {
				if si := p.stage[idx]; si != nil && len(si.instr.Loads) > 0 {
					addr, _ := sliceAccess(si.instr.Loads, si.slice, p.Eslices(si.instr))
					delete(p.stallingLoads, vecLoadStoreKey{si.instr, si.slice, addr})
				}
			}
		}
		if p.storeStage != nil {
			idx := *p.storeStage + p.fixedStoreLatency
			if idx < len(p.stage) {
				if si := p.stage[idx]; si != nil && len(si.instr.Stores) > 0 {
					addr, _ := sliceAccess(si.instr.Stores, si.slice, p.Eslices(si.instr))
					delete(p.stallingStores, vecLoadStoreKey{si.instr, si.slice, addr})
				}
			}
		}

		last := p.stage[len(p.stage)-1]
		copy(p.stage[1:], p.stage[:len(p.stage)-1])

		if last != nil {
			if p.hasOutputAt(last.instr, last.slice) {
				p.writebackQ.Buffer(*last)
				cntr.Utilizations[utilName(p.name, "wbq")].Count++
				p.sbBuffRegWrite(last.instr, last.slice)
			} else if last.slice+1 == p.Eslices(last.instr) {
				p.retired = append(p.retired, last.instr)
			}
		}

		if p.inflight != nil && !p.regReadStall(p.inflight, p.inflightNext) {
			p.sbRegRead(p.inflight, p.inflightNext)
			p.stage[0] = &sliceInstr{p.inflight, p.inflightNext}
			cntr.Utilizations[utilName(p.name, "pipe")].Count++
			p.inflightNext++
			if p.inflightNext == p.Eslices(p.inflight) {
				p.inflight = nil
			}
		} else {
			p.stage[0] = nil
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
func (p *VectorPipeline) Tock(cntr *counter.Counter) {
	p.retired = p.retired[:0]

	occupied := 0
	for _, si := range p.stage {
		if si != nil {
			occupied++
		}
	}
	cntr.Utilizations[utilName(p.name, "pipe")].Occupied += occupied

	p.eiq.Flush()
	cntr.Utilizations[utilName(p.name, "eiq")].Occupied += p.eiq.Len()

	p.writebackQ.Flush()
	cntr.Utilizations[utilName(p.name, "wbq")].Occupied += p.writebackQ.Len()
}

// Retired returns the instructions whose final slice completed this tick.
func (p *VectorPipeline) Retired() []*instr.Instruction { return p.retired }

// Pending returns the number of instructions in the EIQ plus the slices
// occupying the stages and the writeback queue.
func (p *VectorPipeline) Pending() int {
	occupied := 0
	for _, si := range p.stage {
		if si != nil {
			occupied++
		}
	}
	return len(p.eiq.Chain()) + occupied + len(p.writebackQ.Chain())
}

// TryDispatch attempts to admit i into this pipeline's EIQ.
func (p *VectorPipeline) TryDispatch(i *instr.Instruction, cntr *counter.Counter) bool {
	if p.eiq.IsBufferFull() {
		return false
	}

	inputs := p.inputSeqByType(i)
	outputs := p.outputSeqByType(i)
	seen := map[instr.RegFile]bool{}
	for rf := range inputs {
		seen[rf] = true
	}
	for rf := range outputs {
		seen[rf] = true
	}
	for rf := range seen {
		p.scoreboards[rf].InsertAccesses(i, flatten(inputs[rf]), flatten(outputs[rf]))
	}

	if !(p.canSkipEIQ && p.isReady() && p.tryIssue(i, cntr)) {
		p.eiq.Buffer(i)
		cntr.Utilizations[utilName(p.name, "eiq")].Count++
	}

	if len(i.Loads) > 0 || len(i.Stores) > 0 {
		cntr.VectorLoadStore++
	}

	return true
}

func flatten(seq [][]string) []string {
	var out []string
	for _, s := range seq {
		out = append(out, s...)
	}
	return out
}

func (p *VectorPipeline) isReady() bool {
	if p.inflight != nil {
		return false
	}
	if p.pipelined {
		return p.stage[0] == nil
	}
	for _, si := range p.stage {
		if si != nil {
			return false
		}
	}
	return true
}

func (p *VectorPipeline) tryIssue(i *instr.Instruction, cntr *counter.Counter) bool {
	for _, sb := range p.scoreboards {
		if !sb.CanIssue(i) {
			return false
		}
	}
	if p.regReadStall(i, 0) {
		return false
	}

	p.stage[0] = &sliceInstr{i, 0}
	cntr.Utilizations[utilName(p.name, "pipe")].Count++

	if p.Eslices(i) > 1 {
		p.inflight = i
		p.inflightNext = 1
	}

	for _, sb := range p.scoreboards {
		sb.Issue(i)
	}
	p.sbRegRead(i, 0)

	return true
}

// PrintStateDetailed writes a human-readable rendering of this pipeline's
// EIQ, stages, and writeback queue.
func (p *VectorPipeline) PrintStateDetailed(w io.Writer) {
	eiqStr := joinInstrs(p.eiq.Chain())
	stageParts := make([]string, len(p.stage))
	for i, si := range p.stage {
		if si == nil {
			stageParts[i] = "-"
		} else {
			stageParts[i] = fmt.Sprintf("%s (%d)", si.instr, si.slice)
		}
	}
	var wbqParts []string
	for _, si := range p.writebackQ.Chain() {
		wbqParts = append(wbqParts, fmt.Sprintf("%s (%d)", si.instr, si.slice))
	}

	fmt.Fprintf(w, "[%s] %s\n", p.name, pipeStr(eiqStr, fmt.Sprint(stageParts), fmt.Sprint(wbqParts)))
}

// StateThreeValuedHeader returns the column headers for this pipeline's
// three-valued rendering: eiq, pipe, wbq.
func (p *VectorPipeline) StateThreeValuedHeader() []string {
	return []string{p.name + ".eiq", p.kind, p.name + ".wbq"}
}

// StateThreeValued renders eiq/pipe/wbq occupancy as three-valued markers.
func (p *VectorPipeline) StateThreeValued(vals [3]string) []string {
	full, any := true, false
	for _, si := range p.stage {
		if si != nil {
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

	slicePresent := func(s sliceInstr) bool { return s.instr != nil }

	return []string{
		p.eiq.PPThreeValued(vals, func(i *instr.Instruction) bool { return i != nil }),
		pipeStr,
		p.writebackQ.PPThreeValued(vals, slicePresent),
	}
}
