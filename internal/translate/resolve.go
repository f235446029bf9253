package translate

import (
	"context"
	"fmt"

	"github.com/sharedcode/cowchain/internal/encoding"
	"github.com/sharedcode/cowchain/internal/leafcache"
	"github.com/sharedcode/cowchain/internal/metaqueue"

	"github.com/sharedcode/cowchain"
)

// ReadResult is the outcome of ResolveRead: either a concrete (level,
// psector) to read from, or ZeroFill if every level left the grain
// unallocated and the base disk is itself sparse-COW.
type ReadResult struct {
	ZeroFill bool
	Level    int
	Psector  uint32
}

// ResolveRead implements spec §4.2's read path over files, an ordered slice
// [base, redo1, ..., top]. It walks top -> 1 (index len-1 down to 1); index 0
// (the base) is special-cased last.
func ResolveRead(ctx context.Context, files []*File, vsector uint32) (ReadResult, error) {
	if len(files) == 0 {
		return ReadResult{}, sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("translate: empty chain")}
	}
	for i := len(files) - 1; i >= 1; i-- {
		f := files[i]
		g := vsector / f.Granularity
		root := g / f.LeafFanout
		leafIx := g % f.LeafFanout

		f.mu.Lock()
		if root >= f.NumRootEntries {
			f.mu.Unlock()
			return ReadResult{}, sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("translate: root index %d out of range (numRootEntries=%d)", root, f.NumRootEntries)}
		}
		rootEntry := f.RootEntries[root]
		f.mu.Unlock()

		if rootEntry == 0 {
			continue
		}

		slot, err := f.Cache.Lookup(ctx, rootEntry, leafcache.ForRead, true, f.readLeaf)
		if err != nil {
			return ReadResult{}, err
		}
		offsets := decodeOffsets(slot.Pages, f.LeafFanout)
		if offsets[leafIx] == 0 {
			continue
		}
		psector := offsets[leafIx] + vsector%f.Granularity
		return ReadResult{Level: i, Psector: psector}, nil
	}

	base := files[0]
	if base.Sparse {
		return ReadResult{ZeroFill: true}, nil
	}
	return ReadResult{Level: 0, Psector: vsector}, nil
}

// ResolveWrite implements spec §4.2's write path: always against top,
// allocating leaf and root-table entries synchronously on first use and
// deferring the in-memory offset update to CACHE_DONE via InsertEdit.
func ResolveWrite(ctx context.Context, top *File, vsector uint32, op *metaqueue.MetaOp) (uint32, error) {
	g := vsector / top.Granularity
	root := g / top.LeafFanout
	leafIx := g % top.LeafFanout

	top.mu.Lock()
	if root >= top.NumRootEntries {
		top.mu.Unlock()
		return 0, sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("translate: root index %d out of range (numRootEntries=%d)", root, top.NumRootEntries)}
	}
	rootEntry := top.RootEntries[root]
	top.mu.Unlock()

	if rootEntry == 0 {
		var err error
		rootEntry, err = initLeaf(ctx, top, root)
		if err != nil {
			return 0, err
		}
	}

	slot, err := top.Cache.Lookup(ctx, rootEntry, leafcache.ForWrite, false, top.readLeaf)
	if err != nil {
		return 0, err
	}

	offsets := decodeOffsets(slot.Pages, top.LeafFanout)
	if offsets[leafIx] != 0 {
		return offsets[leafIx] + vsector%top.Granularity, nil
	}

	newSector, err := allocSectors(ctx, top, top.Granularity)
	if err != nil {
		return 0, err
	}
	metaqueue.InsertEdit(op, slot, rootEntry, vsector, newSector)
	return newSector, nil
}

// initLeaf performs leaf initialisation (spec §4.2 step 1): reserve a
// contiguous run for a new leaf, zero and synchronously write it, then
// synchronously write the updated root table. These are the only points
// where ResolveWrite blocks on disk I/O before returning.
func initLeaf(ctx context.Context, top *File, root uint32) (uint32, error) {
	leafSectors := encoding.LeafSectorCount(top.LeafFanout, top.SectorSize)
	leafSector, err := allocSectors(ctx, top, leafSectors)
	if err != nil {
		return 0, err
	}

	zeroed := make([]uint32, top.LeafFanout)
	leafBytes := encodeOffsets(zeroed, top.SectorSize)
	if err := top.writeLeafSync(ctx, leafSector, leafBytes); err != nil {
		return 0, sop.Error{Code: sop.WriteError, Err: err}
	}

	top.mu.Lock()
	top.RootEntries[root] = leafSector
	rootCopy := append([]uint32(nil), top.RootEntries...)
	top.mu.Unlock()

	rootBytes := encoding.MarshalRootTable(rootCopy)
	if err := top.writeRootTableSync(ctx, rootOffsetSectors(top), rootBytes); err != nil {
		return 0, sop.Error{Code: sop.WriteError, Err: err}
	}

	// Populate the cache with the freshly-zeroed leaf so the immediately
	// following Lookup(FOR_WRITE) observes the write we just made, rather
	// than re-reading the file.
	_, _ = top.Cache.Lookup(ctx, leafSector, leafcache.ForRead, false, func(context.Context, uint32) ([]byte, error) {
		return leafBytes, nil
	})

	return leafSector, nil
}

// rootOffsetSectors returns the sector offset at which the root table lives.
// Kept as a function (rather than a stored field read directly) so future
// root-table relocation logic has one call site to change.
func rootOffsetSectors(top *File) uint32 {
	return top.RootOffset
}

// allocSectors reserves n sectors from freeSector, extending the file first
// if necessary (spec §4.2 Growth).
func allocSectors(ctx context.Context, top *File, n uint32) (uint32, error) {
	top.mu.Lock()
	start := top.FreeSector
	newFree := start + n
	needsExtend := newFree > top.AllocSectors
	top.mu.Unlock()

	if needsExtend {
		if top.Extend == nil {
			return 0, sop.Error{Code: sop.LimitExceeded, Err: fmt.Errorf("translate: file full and no Extend collaborator configured")}
		}
		newAlloc := growthTarget(newFree, top.AllocSectors)
		if err := top.Extend(ctx, newAlloc); err != nil {
			return 0, sop.Error{Code: sop.WriteError, Err: fmt.Errorf("translate: extend failed: %w", err)}
		}
		top.mu.Lock()
		top.AllocSectors = newAlloc
		top.mu.Unlock()
	}

	top.mu.Lock()
	top.FreeSector = newFree
	top.FreeSectorChanged = true
	top.mu.Unlock()
	return start, nil
}

// growthIncrement is the fixed number of sectors a file grows by when it
// must be extended (spec §4.2: "extended in fixed increments").
const growthIncrement = 32768 // 16 MiB at 512-byte sectors

func growthTarget(need, current uint32) uint32 {
	target := current
	for target < need {
		target += growthIncrement
	}
	return target
}
