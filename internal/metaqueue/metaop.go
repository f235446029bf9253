package metaqueue

import (
	"sync"

	"github.com/sharedcode/cowchain/internal/leafcache"
)

// Edit is one (virtual sector -> new physical sector) grain mapping produced
// by the translation write path.
type Edit struct {
	VirtualSector     uint32
	NewPhysicalSector uint32
}

// LeafEdit collects every Edit destined for one leaf slot. All edits in one
// LeafEdit target the same leaf, so the pipeline issues one metadata write
// per LeafEdit's owning MetaOp rather than per edit.
type LeafEdit struct {
	Slot         *leafcache.Slot
	SectorOffset uint32
	Edits        []Edit
}

// MetaOp is one logical write request that changed at least one grain
// mapping (spec §3's MetaOp).
type MetaOp struct {
	mu    sync.Mutex
	state State
	err   error

	Entries []*LeafEdit

	ParentToken *ParentToken
	FileHandle  any
	Info        any
}

// New returns a MetaOp in state Init.
func New(parent *ParentToken) *MetaOp {
	return &MetaOp{state: Init, ParentToken: parent}
}

// State returns the op's current lifecycle state.
func (op *MetaOp) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Advance moves the op to its canonical next state (see State.next). It
// does not touch leaf slots: InsertEdit pins a slot when the op's first edit
// for it is attached.
func (op *MetaOp) Advance() error {
	op.mu.Lock()
	next, err := op.state.next()
	if err != nil {
		op.mu.Unlock()
		return err
	}
	op.state = next
	op.mu.Unlock()
	return nil
}

// SetState force-sets the op's state without consulting State.next; the
// queue uses it to move ops through WaitingMD, CacheDone, MDInflight and
// MDDone.
func (op *MetaOp) SetState(s State) {
	op.mu.Lock()
	op.state = s
	op.mu.Unlock()
}

// InsertEdit attaches a new grain mapping for slot to the op, creating a new
// LeafEdit if this is the first edit on that slot and pinning the slot
// (spec §3: "numWrites on that slot is incremented when the edit list is
// attached").
func InsertEdit(op *MetaOp, slot *leafcache.Slot, sectorOffset uint32, virtualSector, newPhysicalSector uint32) {
	op.mu.Lock()
	defer op.mu.Unlock()
	for _, le := range op.Entries {
		if le.Slot == slot {
			le.Edits = append(le.Edits, Edit{VirtualSector: virtualSector, NewPhysicalSector: newPhysicalSector})
			return
		}
	}
	slot.Pin()
	op.Entries = append(op.Entries, &LeafEdit{
		Slot:         slot,
		SectorOffset: sectorOffset,
		Edits:        []Edit{{VirtualSector: virtualSector, NewPhysicalSector: newPhysicalSector}},
	})
}

// TouchedLeaves reports whether this op changed any grain mapping; ops that
// didn't bypass the metadata path entirely (spec §4.3).
func (op *MetaOp) TouchedLeaves() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return len(op.Entries) > 0
}
