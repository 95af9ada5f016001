package memsys

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// lineStore wraps an akita cache directory to provide the tag/LRU
// bookkeeping one cache level needs. It never stores actual data bytes;
// only hit/miss/dirty state matters to the timing model.
type lineStore struct {
	dir       *akitacache.DirectoryImpl
	blockSize uint64
}

func newLineStore(sizeBytes uint64, lineBits, associativity int) *lineStore {
	blockSize := uint64(lineBits / 8)
	numSets := int(sizeBytes / (uint64(associativity) * blockSize))
	return &lineStore{
		dir: akitacache.NewDirectory(
			numSets,
			associativity,
			int(blockSize),
			akitacache.NewLRUVictimFinder(),
		),
		blockSize: blockSize,
	}
}

func (s *lineStore) blockAddr(addr uint64) uint64 {
	return (addr / s.blockSize) * s.blockSize
}

// tryAccess looks the line up, marking it most-recently-used and, if
// setDirty, dirty, on a hit.
func (s *lineStore) tryAccess(addr uint64, setDirty bool) bool {
	block := s.dir.Lookup(0, s.blockAddr(addr))
	if block == nil || !block.IsValid {
		return false
	}
	s.dir.Visit(block)
	if setDirty {
		block.IsDirty = true
	}
	return true
}

// evictFor reserves a victim line for addr's set, invalidating whatever
// was there. It reports the victim's old address for a write-back only when
// that line was valid and dirty. The victim is returned so a later
// commitInsert can land in the exact same slot.
func (s *lineStore) evictFor(addr uint64) (victim *akitacache.Block, wbAddr uint64, hasWriteback bool) {
	victim = s.dir.FindVictim(s.blockAddr(addr))
	if victim.IsValid && victim.IsDirty {
		wbAddr, hasWriteback = victim.Tag, true
	}
	victim.IsValid = false
	return victim, wbAddr, hasWriteback
}

// findVictim reserves a victim slot without reporting (or requiring) a
// write-back, for the exclusion paths that discard the evicted line
// silently.
func (s *lineStore) findVictim(addr uint64) *akitacache.Block {
	return s.dir.FindVictim(s.blockAddr(addr))
}

// commitInsert finalizes a previously reserved victim as holding addr.
func (s *lineStore) commitInsert(victim *akitacache.Block, addr uint64, dirty bool) {
	victim.Tag = s.blockAddr(addr)
	victim.IsValid = true
	victim.IsDirty = dirty
	s.dir.Visit(victim)
}

// take removes addr's line (if present) and reports whether it was dirty;
// exclusive caches use it to hand a hit line over to the child.
func (s *lineStore) take(addr uint64) bool {
	block := s.dir.Lookup(0, s.blockAddr(addr))
	if block == nil || !block.IsValid {
		return false
	}
	dirty := block.IsDirty
	block.IsValid = false
	return dirty
}

func (s *lineStore) reset() { s.dir.Reset() }
