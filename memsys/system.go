package memsys

import (
	"io"

	"github.com/sarchlab/tbsim/simerror"
)

// System is the whole memory hierarchy: main memory at the root, plus
// whatever cache levels the configuration describes hanging off it.
type System struct {
	main     *mainMemory
	elements []element
	ports    map[string]MemPort
}

// Build constructs a memory system from its description. Levels with no
// children become the leaf (front) caches pipelines talk to directly;
// levels with children become inner caches that only see fetch/write-back
// traffic from below.
func Build(desc Desc) (*System, error) {
	main := newMainMemory(desc.Latencies)
	sys := &System{
		main:     main,
		elements: []element{main},
		ports:    map[string]MemPort{},
	}

	for _, lvl := range desc.Levels {
		if err := sys.load(lvl, main); err != nil {
			return nil, err
		}
	}

	if len(desc.Levels) == 0 {
		sys.ports[""] = main
	}

	return sys, nil
}

func (s *System) load(d LevelDesc, parent link) error {
	switch d.Kind {
	case Unified, DCache, ICache:
	default:
		return &simerror.ConfigError{
			Location: "memory_system.levels." + d.Name,
			Message:  "unknown cache type: " + string(d.Kind),
		}
	}

	if len(d.Levels) == 0 {
		c := newFrontCache(d.Name, d, parent)
		s.elements = append(s.elements, c)
		s.ports[d.Name] = c
		return nil
	}

	c := newInnerCache(d.Name, d, parent)
	s.elements = append(s.elements, c)
	for _, child := range d.Levels {
		if err := s.load(child, c); err != nil {
			return err
		}
	}
	return nil
}

// Port returns the MemPort a pipeline should issue loads/stores against
// for the named cache level, or the empty string for main memory directly
// when no cache levels are configured.
func (s *System) Port(name string) MemPort { return s.ports[name] }

// Reset is a no-op: nothing here accumulates counters of its own to reset
// between runs.
func (s *System) Reset() {}

func (s *System) Tick(cycleNum uint64) {
	for _, e := range s.elements {
		e.tick()
	}
}

func (s *System) Tock() {
	for _, e := range s.elements {
		e.tock()
	}
}

// Pending always reports zero in-flight accesses: the memory system never
// blocks CPU-level quiescence on its own, since every outstanding access is
// already accounted for by the pipeline that issued it.
func (s *System) Pending() int { return 0 }

// PrintStateDetailed prints nothing; cache internals are not part of the
// per-cycle dump.
func (s *System) PrintStateDetailed(w io.Writer) {}

// StateThreeValuedHeader reports no columns.
func (s *System) StateThreeValuedHeader() []string { return nil }

// StateThreeValued reports no columns.
func (s *System) StateThreeValued(vals [3]string) []string { return nil }
