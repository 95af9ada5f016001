// Package scoreboard tracks in-flight register dependencies (RAW/WAW/WAR)
// so that SchedUnit and ExecUnit can tell which instructions are safe to
// issue, read, and write on a given cycle. Both the scalar and vector
// register files share the same dependency bookkeeping; they differ only in
// how register read/write ports are counted (scalar: one shared pool per
// Scoreboard; vector: one pool per slice, since an EMUL>1 vector op strides
// across slices). That difference is captured by the portTracker the
// constructor installs.
package scoreboard

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/instr"
)

// Scoreboard is a preemptive scoreboard: instead of stalling dispatch until
// a dependency clears, it lets the functional unit issue speculatively and
// then blocks the read/write itself until the dependency is satisfied.
type Scoreboard struct {
	name string

	readPorts          *int
	dedicatedReadPorts map[string]bool

	writePorts          *int
	dedicatedWritePorts map[string]bool

	// rwDeps[instr][reg] is the instruction instr reads reg from, if still
	// in-flight (nil once the source has written, or never had one).
	rwDeps map[*instr.Instruction]map[string]*instr.Instruction

	// wwDeps[instr][reg] is the instruction that writes reg immediately
	// before instr does.
	wwDeps map[*instr.Instruction]map[string]*instr.Instruction

	// wrDeps[instr][reg] is the set of instructions that must read reg
	// before instr writes it.
	wrDeps map[*instr.Instruction]map[string]map[*instr.Instruction]bool

	// writes[reg] is the last in-flight instruction intending to write reg.
	writes map[string]*instr.Instruction

	// reads[reg] is the set of in-flight instructions reading reg that
	// follow writes[reg].
	reads map[string]map[*instr.Instruction]bool

	// issued is the set of instructions already dispatched to a functional
	// unit; used to detect that a dependency will actually resolve instead
	// of deadlocking.
	issued map[*instr.Instruction]bool

	// writeBuff[instr] is the set of registers for which instr has already
	// computed a bypassable write value.
	writeBuff map[*instr.Instruction]map[string]bool

	ports portTracker
}

// portTracker isolates the one real difference between a scalar and a
// vector scoreboard: how used read/write ports are partitioned and counted.
type portTracker interface {
	// bucket splits a (possibly slice-suffixed) register name into the pool
	// it draws ports from, and the base name used for dedication lookups.
	bucket(reg string) (pool int, base string)
	usedRead(pool int) int
	usedWrite(pool int) int
	addUsedRead(pool int, n int)
	addUsedWrite(pool int, n int)
	clear()
}

// scalarPorts is a single pool shared by every register.
type scalarPorts struct {
	usedR, usedW int
}

func (p *scalarPorts) bucket(reg string) (int, string)   { return 0, reg }
func (p *scalarPorts) usedRead(int) int                  { return p.usedR }
func (p *scalarPorts) usedWrite(int) int                 { return p.usedW }
func (p *scalarPorts) addUsedRead(_ int, n int)          { p.usedR += n }
func (p *scalarPorts) addUsedWrite(_ int, n int)         { p.usedW += n }
func (p *scalarPorts) clear()                            { p.usedR, p.usedW = 0, 0 }

// vectorPorts gives each slice its own pool; register tokens are
// "name.slice" (e.g. "v3.0").
type vectorPorts struct {
	usedR, usedW []int
}

func newVectorPorts(slices int) *vectorPorts {
	return &vectorPorts{usedR: make([]int, slices), usedW: make([]int, slices)}
}

func (p *vectorPorts) bucket(reg string) (int, string) {
	idx := strings.LastIndexByte(reg, '.')
	if idx < 0 {
		return 0, reg
	}
	slice, err := strconv.Atoi(reg[idx+1:])
	if err != nil {
		return 0, reg
	}
	return slice, reg[:idx]
}

func (p *vectorPorts) usedRead(pool int) int   { return p.usedR[pool] }
func (p *vectorPorts) usedWrite(pool int) int  { return p.usedW[pool] }
func (p *vectorPorts) addUsedRead(pool int, n int)  { p.usedR[pool] += n }
func (p *vectorPorts) addUsedWrite(pool int, n int) { p.usedW[pool] += n }
func (p *vectorPorts) clear() {
	for i := range p.usedR {
		p.usedR[i] = 0
		p.usedW[i] = 0
	}
}

// Config is the port-accounting configuration read from the pipeline
// config file.
type Config struct {
	ReadPorts           *int
	DedicatedReadPorts   []string
	WritePorts           *int
	DedicatedWritePorts  []string
}

func newBase(name string, cfg Config, ports portTracker) *Scoreboard {
	sb := &Scoreboard{
		name:                name,
		readPorts:           cfg.ReadPorts,
		dedicatedReadPorts:  toSet(cfg.DedicatedReadPorts),
		writePorts:          cfg.WritePorts,
		dedicatedWritePorts: toSet(cfg.DedicatedWritePorts),
		rwDeps:              map[*instr.Instruction]map[string]*instr.Instruction{},
		wwDeps:              map[*instr.Instruction]map[string]*instr.Instruction{},
		wrDeps:              map[*instr.Instruction]map[string]map[*instr.Instruction]bool{},
		writes:              map[string]*instr.Instruction{},
		reads:               map[string]map[*instr.Instruction]bool{},
		issued:              map[*instr.Instruction]bool{},
		writeBuff:           map[*instr.Instruction]map[string]bool{},
		ports:               ports,
	}
	return sb
}

// NewScalar constructs a scoreboard with one shared read/write port pool.
func NewScalar(name string, cfg Config) *Scoreboard {
	return newBase(name, cfg, &scalarPorts{})
}

// NewVector constructs a scoreboard with one read/write port pool per
// slice; register names passed to it must be slice-qualified ("v3.0").
func NewVector(name string, cfg Config, slices int) *Scoreboard {
	return newBase(name, cfg, newVectorPorts(slices))
}

func toSet(vals []string) map[string]bool {
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}

func (s *Scoreboard) readsOf(reg string) map[*instr.Instruction]bool {
	m, ok := s.reads[reg]
	if !ok {
		m = map[*instr.Instruction]bool{}
		s.reads[reg] = m
	}
	return m
}

// InsertAccesses registers a newly-dispatched instruction's planned reads
// and writes. It must be called before any CanRead/CanWrite/CanIssue check
// for instr.
func (s *Scoreboard) InsertAccesses(i *instr.Instruction, regReads, regWrites []string) {
	for _, reg := range regReads {
		if s.rwDeps[i] == nil {
			s.rwDeps[i] = map[string]*instr.Instruction{}
		}
		s.rwDeps[i][reg] = s.writes[reg]
		s.readsOf(reg)[i] = true
	}

	for _, reg := range regWrites {
		if s.wwDeps[i] == nil {
			s.wwDeps[i] = map[string]*instr.Instruction{}
		}
		s.wwDeps[i][reg] = s.writes[reg]

		if s.wrDeps[i] == nil {
			s.wrDeps[i] = map[string]map[*instr.Instruction]bool{}
		}
		waiters := map[*instr.Instruction]bool{}
		for r := range s.readsOf(reg) {
			if r != i {
				waiters[r] = true
			}
		}
		s.wrDeps[i][reg] = waiters

		s.writes[reg] = i
		s.reads[reg] = map[*instr.Instruction]bool{}
	}
}

func (s *Scoreboard) readPortRegs(i *instr.Instruction, regs []string) map[int][]string {
	out := map[int][]string{}
	for _, reg := range regs {
		pool, base := s.ports.bucket(reg)
		if s.dedicatedReadPorts[base] {
			continue
		}
		if s.rwDeps[i][reg] != nil {
			continue
		}
		out[pool] = append(out[pool], base)
	}
	return out
}

func (s *Scoreboard) checkReadPorts(i *instr.Instruction, regs []string) bool {
	if s.readPorts == nil {
		return true
	}
	for pool, rs := range s.readPortRegs(i, regs) {
		if s.ports.usedRead(pool)+len(rs) > *s.readPorts {
			return false
		}
	}
	return true
}

// CanRead reports whether instr may read regs this cycle: read ports are
// available, and every RAW dependency not yet satisfied has at least
// produced a bypassable value.
func (s *Scoreboard) CanRead(i *instr.Instruction, regs []string) bool {
	if !s.checkReadPorts(i, regs) {
		return false
	}
	for _, reg := range regs {
		dep := s.rwDeps[i][reg]
		if dep != nil && !s.writeBuff[dep][reg] {
			return false
		}
	}
	return true
}

func (s *Scoreboard) writePortRegs(regs []string) map[int][]string {
	out := map[int][]string{}
	for _, reg := range regs {
		pool, base := s.ports.bucket(reg)
		if s.dedicatedWritePorts[base] {
			continue
		}
		out[pool] = append(out[pool], base)
	}
	return out
}

func (s *Scoreboard) checkWritePorts(regs []string) bool {
	if s.writePorts == nil {
		return true
	}
	for pool, rs := range s.writePortRegs(regs) {
		if s.ports.usedWrite(pool)+len(rs) > *s.writePorts {
			return false
		}
	}
	return true
}

// CanWrite reports whether instr may write regs this cycle: write ports are
// available, and no outstanding WAW/WAR hazard remains.
func (s *Scoreboard) CanWrite(i *instr.Instruction, regs []string) bool {
	if !s.checkWritePorts(regs) {
		return false
	}
	for _, reg := range regs {
		if s.wwDeps[i][reg] != nil {
			return false
		}
		if len(s.wrDeps[i][reg]) != 0 {
			return false
		}
	}
	return true
}

// Read retires instr's read of regs: clears the RAW dependency, releases
// any writer waiting on this read (WAR), and accounts port usage.
func (s *Scoreboard) Read(i *instr.Instruction, regs []string) {
	for pool, rs := range s.readPortRegs(i, regs) {
		s.ports.addUsedRead(pool, len(rs))
	}

	for _, reg := range regs {
		delete(s.rwDeps[i], reg)

		for _, perReg := range s.wrDeps {
			delete(perReg[reg], i)
		}
		delete(s.reads[reg], i)
	}

	if len(s.rwDeps[i]) == 0 {
		delete(s.rwDeps, i)
		if s.wwDeps[i] == nil {
			delete(s.issued, i)
		}
	}
}

// BuffWrite records that instr has computed regs' values and they may now
// be bypassed to dependent reads.
func (s *Scoreboard) BuffWrite(i *instr.Instruction, regs []string) {
	if s.writeBuff[i] == nil {
		s.writeBuff[i] = map[string]bool{}
	}
	for _, reg := range regs {
		s.writeBuff[i][reg] = true
	}
}

// Write retires instr's write of regs: clears WAW/WAR dependencies that
// named instr, and accounts port usage.
func (s *Scoreboard) Write(i *instr.Instruction, regs []string) {
	for pool, rs := range s.writePortRegs(regs) {
		s.ports.addUsedWrite(pool, len(rs))
	}

	for _, reg := range regs {
		delete(s.wwDeps[i], reg)
		delete(s.wrDeps[i], reg)

		for _, deps := range s.rwDeps {
			if deps[reg] == i {
				deps[reg] = nil
			}
		}
		for _, deps := range s.wwDeps {
			if deps[reg] == i {
				deps[reg] = nil
			}
		}
		if s.writes[reg] == i {
			s.writes[reg] = nil
		}
	}

	if len(s.wwDeps[i]) == 0 {
		delete(s.wwDeps, i)
		delete(s.wrDeps, i)
		if s.rwDeps[i] == nil {
			delete(s.issued, i)
		}
	}

	delete(s.writeBuff, i)
}

// CanIssue reports whether instr may be dispatched to a functional unit:
// every dependency it has is either cleared, or already in-flight at a unit
// that will eventually resolve it (issued), so that issuing instr cannot
// deadlock.
func (s *Scoreboard) CanIssue(i *instr.Instruction) bool {
	if len(s.rwDeps[i]) == 0 && len(s.wwDeps[i]) == 0 && len(s.wrDeps[i]) == 0 {
		return true
	}

	for _, d := range s.rwDeps[i] {
		if d != nil && !s.issued[d] {
			return false
		}
	}
	for _, d := range s.wwDeps[i] {
		if d != nil && !s.issued[d] {
			return false
		}
	}
	for _, ds := range s.wrDeps[i] {
		for d := range ds {
			if !s.issued[d] {
				return false
			}
		}
	}
	return true
}

// Issue marks instr as dispatched, so later CanIssue checks on dependents
// see it as able to eventually resolve its own dependencies.
func (s *Scoreboard) Issue(i *instr.Instruction) {
	if len(s.rwDeps[i]) == 0 && len(s.wwDeps[i]) == 0 && len(s.wrDeps[i]) == 0 {
		return
	}
	s.issued[i] = true
}

// Tock clears the per-cycle port-usage accounting. Call once per cycle,
// after all units have finished their reads and writes.
func (s *Scoreboard) Tock(cntr *counter.Counter) {
	_ = cntr
	s.ports.clear()
}

// Dump writes the scoreboard's internal dependency state, for debugging.
func (s *Scoreboard) Dump(w io.Writer) {
	fmt.Fprintf(w, "-- Scoreboard %s --\n", s.name)
	fmt.Fprintf(w, "read ports: %v\n", s.readPorts)
	fmt.Fprintf(w, "write ports: %v\n", s.writePorts)

	names := make([]string, 0, len(s.issued))
	for i := range s.issued {
		names = append(names, i.String())
	}
	sort.Strings(names)
	fmt.Fprintf(w, "issued: %s\n", strings.Join(names, ", "))
}
