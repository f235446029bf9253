// Package leafcache implements the fully-associative LRU cache of
// translation leaves (spec §4.1, C1): one cache per COW file, slots pinned
// while a metadata write is in flight, eviction never writes back.
//
// Modeled after the teacher's cache.L1Cache / cache.mru discipline, but the
// array backing a CowInfo's cache is small (≈32 slots) so a linear scan for
// the LRU victim is correct and avoids a second index structure.
package leafcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/cowchain"
)

// AccessMode selects lookup semantics: FOR_READ populates the slot from
// disk on a miss and may wait for in-flight writers to drain; FOR_WRITE
// never blocks. Both modes populate a miss by calling read when one is
// given; only a nil read (a freshly-initialised leaf the caller has not
// written to disk yet) leaves the slot zero-filled.
type AccessMode int

const (
	ForRead AccessMode = iota
	ForWrite
)

// NullSector is the sentinel SectorOffset meaning the slot holds no leaf.
const NullSector uint32 = 0

// Slot is one fully-associative leaf-cache entry (spec's LeafSlot).
type Slot struct {
	mu   sync.Mutex
	cond *sync.Cond

	// SectorOffset is the sector of this leaf inside its COW file, or
	// NullSector if the slot is unpopulated.
	SectorOffset uint32
	// Pages holds the leaf's on-disk byte image (not decoded) while pinned.
	Pages []byte
	// LastTouch is the cache-wide monotonic counter value as of the last
	// lookup that hit this slot; used for LRU victim selection.
	LastTouch uint64
	// NumWrites counts in-flight metadata writes referencing this slot. A
	// slot with NumWrites > 0 is never an eviction candidate.
	NumWrites int
}

func newSlot() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Pin increments NumWrites, marking this slot as referenced by an in-flight
// metadata write and therefore ineligible for eviction.
func (s *Slot) Pin() {
	s.mu.Lock()
	s.NumWrites++
	s.mu.Unlock()
}

// Unpin decrements NumWrites and wakes any lookup waiting for the slot to
// become stable.
func (s *Slot) Unpin() {
	s.mu.Lock()
	s.NumWrites--
	if s.NumWrites < 0 {
		s.NumWrites = 0
	}
	if s.NumWrites == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Writes reports the slot's current in-flight-write count.
func (s *Slot) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NumWrites
}

// waitStable blocks while NumWrites > 0.
func (s *Slot) waitStable() {
	s.mu.Lock()
	for s.NumWrites > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// ReadFunc reads the leaf's byte image from sectorOffset in its owning file.
type ReadFunc func(ctx context.Context, sectorOffset uint32) ([]byte, error)

// Cache is the per-CowInfo fully-associative leaf cache.
type Cache struct {
	mu       sync.Mutex
	slots    []*Slot
	touch    uint64
	leafSize int
}

// New returns a Cache of size slots, each expected to hold a leaf of
// leafSize bytes once populated.
func New(size int, leafSize int) *Cache {
	slots := make([]*Slot, size)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &Cache{slots: slots, leafSize: leafSize}
}

// Size returns the number of slots in the cache.
func (c *Cache) Size() int {
	return len(c.slots)
}

// Lookup implements the C1 contract: return the slot matching sectorOffset
// if populated (a hit), otherwise evict the LRU slot among those with
// NumWrites == 0 and populate it via read, regardless of mode — a sector
// offset already on disk must never be replaced by a zeroed page just
// because the caller is about to write it, or a sibling grain mapping in
// the same leaf is lost. Only a nil read, meaning the caller is
// initialising a brand-new leaf it has not written to disk yet, leaves the
// slot zero-filled. If stable is true and an existing populated slot is
// returned, Lookup blocks until no metadata write is in flight against it.
func (c *Cache) Lookup(ctx context.Context, sectorOffset uint32, mode AccessMode, stable bool, read ReadFunc) (*Slot, error) {
	c.mu.Lock()
	for _, s := range c.slots {
		s.mu.Lock()
		hit := s.SectorOffset == sectorOffset && sectorOffset != NullSector
		s.mu.Unlock()
		if hit {
			c.touch++
			s.mu.Lock()
			s.LastTouch = c.touch
			s.mu.Unlock()
			c.mu.Unlock()
			if stable {
				s.waitStable()
			}
			return s, nil
		}
	}

	var victim *Slot
	for _, s := range c.slots {
		s.mu.Lock()
		eligible := s.NumWrites == 0
		lastTouch := s.LastTouch
		s.mu.Unlock()
		if !eligible {
			continue
		}
		if victim == nil || lastTouch < victim.LastTouch {
			victim = s
		}
	}
	if victim == nil {
		c.mu.Unlock()
		return nil, sop.Error{Code: sop.NoMemory, Err: fmt.Errorf("leaf cache exhausted: all %d slots pinned", len(c.slots))}
	}

	victim.mu.Lock()
	victim.SectorOffset = sectorOffset
	c.touch++
	victim.LastTouch = c.touch
	victim.mu.Unlock()
	c.mu.Unlock()

	if read != nil {
		data, err := read(ctx, sectorOffset)
		if err != nil {
			victim.mu.Lock()
			victim.SectorOffset = NullSector
			victim.Pages = nil
			victim.mu.Unlock()
			return nil, sop.Error{Code: sop.ReadError, Err: err}
		}
		victim.Pages = data
	} else {
		victim.Pages = make([]byte, c.leafSize)
	}
	return victim, nil
}

// Evict discards slot's association with its sector offset without writing
// it back; callers must ensure NumWrites == 0 first.
func (c *Cache) Evict(slot *Slot) {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.SectorOffset = NullSector
	slot.Pages = nil
}
