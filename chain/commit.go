package chain

import (
	"context"
	"fmt"

	"github.com/sharedcode/cowchain/internal/encoding"
	"github.com/sharedcode/cowchain/internal/leafcache"
	"github.com/sharedcode/cowchain/internal/metaqueue"
	"github.com/sharedcode/cowchain/internal/translate"

	"github.com/sharedcode/cowchain"
)

// grainRun is a maximal run of physically and virtually contiguous
// allocated grains discovered while walking level's root/leaf tables.
type grainRun struct {
	vsectorStart uint32
	psectorStart uint32
	numGrains    uint32
}

// Commit implements spec §4.4's commit: copies the allocated grains of
// level in [startFraction, endFraction) of the grain-index space down to
// level-1 in coalesced batches. A commit whose range covers the entire file
// (endFraction == FractionMax) also reaffirms the parent's generation,
// making repeated full commits idempotent.
func (h *Handle) Commit(ctx context.Context, level int, startFraction, endFraction int) error {
	if startFraction < 0 || endFraction > FractionMax || startFraction > endFraction {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: invalid fraction range [%d, %d]", startFraction, endFraction)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.ClusterLocker != nil {
		lock, err := h.cfg.ClusterLocker.Acquire(ctx, h.cfg.ClusterKey)
		if err != nil {
			return err
		}
		defer lock.Release(ctx)
	}

	if level <= 0 || level >= len(h.levels) {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: commit level %d out of range", level)}
	}
	child := h.levels[level]
	parent := h.levels[level-1]
	if child.raw {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: level %d has no COW header to commit", level)}
	}
	if !child.queue.Drain() {
		return sop.Error{Code: sop.Busy, Err: fmt.Errorf("chain: commit called with metadata ops in flight")}
	}

	totalGrains := child.file.NumRootEntries * child.file.LeafFanout
	startGrain := uint32(uint64(startFraction) * uint64(totalGrains) / FractionMax)
	endGrain := uint32(uint64(endFraction) * uint64(totalGrains) / FractionMax)

	runs, err := collectGrainRuns(ctx, child.file, startGrain, endGrain)
	if err != nil {
		return err
	}

	if err := checkParentCapacity(ctx, parent, runs, h.cfg); err != nil {
		return err
	}

	for _, run := range runs {
		if err := copyRun(ctx, child, parent, run, h.cfg); err != nil {
			return err
		}
	}

	if endFraction == FractionMax {
		parent.savedGeneration = child.savedGeneration
		parent.headerDirty = true
	}
	return nil
}

// collectGrainRuns walks grain indices [startGrain, endGrain), skipping
// unallocated ones, and coalesces virtually-and-physically contiguous
// allocated grains into runs (spec "coalescing physically contiguous grains
// to improve sequential throughput").
func collectGrainRuns(ctx context.Context, f *translate.File, startGrain, endGrain uint32) ([]grainRun, error) {
	var runs []grainRun
	var cur *grainRun

	flush := func() {
		if cur != nil {
			runs = append(runs, *cur)
			cur = nil
		}
	}

	for g := startGrain; g < endGrain; g++ {
		root := g / f.LeafFanout
		leafIx := g % f.LeafFanout
		if root >= f.NumRootEntries {
			break
		}

		rootEntry := f.RootEntries[root]
		if rootEntry == 0 {
			flush()
			continue
		}

		slot, err := f.Cache.Lookup(ctx, rootEntry, leafcache.ForRead, true, f.ReadLeaf)
		if err != nil {
			return nil, err
		}
		offsets := encoding.UnmarshalLeaf(slot.Pages, f.LeafFanout)
		psector := offsets[leafIx]
		if psector == 0 {
			flush()
			continue
		}

		vsector := g * f.Granularity
		if cur != nil && cur.vsectorStart+cur.numGrains*f.Granularity == vsector && cur.psectorStart+cur.numGrains*f.Granularity == psector {
			cur.numGrains++
			continue
		}
		flush()
		cur = &grainRun{vsectorStart: vsector, psectorStart: psector, numGrains: 1}
	}
	flush()
	return runs, nil
}

// checkParentCapacity fails fast with LimitExceeded when a raw parent is too
// small to receive the commit (the Open Question resolution: a COW parent
// grows itself via resolveWrite's allocSectors, but a raw base cannot).
func checkParentCapacity(ctx context.Context, parent *levelState, runs []grainRun, cfg Config) error {
	if !parent.raw || len(runs) == 0 {
		return nil
	}
	attrs, err := parent.io.Stat(ctx)
	if err != nil {
		return err
	}
	var highest uint32
	for _, r := range runs {
		if end := r.vsectorStart + r.numGrains*cfg.Granularity; end > highest {
			highest = end
		}
	}
	if int64(highest)*int64(cfg.SectorSize) > attrs.Length {
		return sop.Error{Code: sop.LimitExceeded, Err: fmt.Errorf("chain: parent too small to receive commit (need %d bytes, have %d)", int64(highest)*int64(cfg.SectorSize), attrs.Length)}
	}
	return nil
}

func copyRun(ctx context.Context, child, parent *levelState, run grainRun, cfg Config) error {
	n := run.numGrains * cfg.Granularity
	buf := make([]byte, n*cfg.SectorSize)
	if _, err := child.file.Fd.ReadAt(ctx, buf, int64(run.psectorStart)*int64(cfg.SectorSize)); err != nil {
		return sop.Error{Code: sop.ReadError, Err: err}
	}

	if parent.raw {
		if _, err := parent.file.Fd.WriteAt(ctx, buf, int64(run.vsectorStart)*int64(cfg.SectorSize)); err != nil {
			return sop.Error{Code: sop.WriteError, Err: err}
		}
		return nil
	}

	return writeRunToCOWParent(ctx, parent, run, buf, cfg)
}

// writeRunToCOWParent writes buf across run.numGrains grains, one
// resolveWrite per grain (a COW parent may map each grain to a different
// physical sector), batching all resulting edits onto a single parent token
// so the caller observes one completion for the whole run.
func writeRunToCOWParent(ctx context.Context, parent *levelState, run grainRun, buf []byte, cfg Config) error {
	done := make(chan error, 1)
	token := metaqueue.NewParentToken(func(err error) { done <- err })
	grainBytes := cfg.Granularity * cfg.SectorSize

	var lastErr error
	for i := uint32(0); i < run.numGrains; i++ {
		vsector := run.vsectorStart + i*cfg.Granularity
		op := metaqueue.New(token)
		token.AddRef()

		psector, err := translate.ResolveWrite(ctx, parent.file, vsector, op)
		if err != nil {
			lastErr = err
			token.Release(err)
			continue
		}
		chunk := buf[i*grainBytes : (i+1)*grainBytes]
		_ = op.Advance() // INIT -> DATA_INFLIGHT; cannot fail from Init
		_, writeErr := parent.file.Fd.WriteAt(ctx, chunk, int64(psector)*int64(cfg.SectorSize))
		parent.queue.OnDataComplete(ctx, op, writeErr)
	}
	token.Release(nil)

	if err := <-done; err != nil {
		return err
	}
	return lastErr
}
