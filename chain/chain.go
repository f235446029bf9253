// Package chain implements the chain engine (spec §4.4, C4): it owns the
// ordered list of files forming one logical disk, dispatches reads (possibly
// split across levels) and writes (always to the top file), and performs
// splice, commit, reset and abort.
package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/cowchain/fss"
	"github.com/sharedcode/cowchain/internal/cluster"
	"github.com/sharedcode/cowchain/internal/encoding"
	"github.com/sharedcode/cowchain/internal/metaqueue"
	"github.com/sharedcode/cowchain/internal/resiliency"
	"github.com/sharedcode/cowchain/internal/translate"

	"github.com/sharedcode/cowchain"
)

// KMax bounds the number of redo logs stacked on one base disk.
const KMax = 32

// FractionMax is the denominator for Commit's [startFraction, endFraction]
// range, matching the collaborator interface's basis-point style bound
// (spec §6: "fractions in [0, FRACTION_MAX]").
const FractionMax = 10000

// LevelIO is the collaborator surface the chain engine needs from one file
// in the chain: plain I/O (translate.FileHandle) plus attribute query and
// control-path operations.
type LevelIO interface {
	translate.FileHandle
	Stat(ctx context.Context) (fss.Attrs, error)
	Truncate(ctx context.Context, length int64) error
	Reset(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Config carries the fixed, chain-wide geometry every level shares.
type Config struct {
	SectorSize     uint32
	Granularity    uint32
	LeafFanout     uint32
	NumRootEntries uint32
	CacheSize      int

	// TrustHeaderIfGenerationZero resolves the ambiguity between a
	// freshly-formatted header (generation legitimately 0) and one that was
	// never reconciled with the live fs generation.
	TrustHeaderIfGenerationZero bool

	// ResiliencyCoder, when non-nil, additionally erasure-codes every header
	// write across ResiliencyExtents. This never changes the single-extent
	// on-disk layout of the chain file itself; the extents hold only the
	// redundant copy.
	ResiliencyCoder   *resiliency.Coder
	ResiliencyExtents []resiliency.Extent

	// ClusterLocker, when non-nil, extends this handle's in-process
	// topology lock (mu) to every other host sharing the same backing
	// store: Commit and Splice hold it for the duration of their topology
	// mutation, so two hosts can never commit or splice the same chain
	// concurrently. A nil ClusterLocker leaves topology changes guarded
	// only by mu, which is correct for a single-host deployment.
	ClusterLocker *cluster.Locker
	ClusterKey    string
}

// SGEntry is one grain-aligned scatter-gather element: VSector is the
// logical-disk virtual sector the grain starts at, Buf's length must equal
// Granularity*SectorSize.
type SGEntry struct {
	VSector sop.Sector
	Buf     []byte
}

type levelState struct {
	io    LevelIO
	file  *translate.File
	queue *metaqueue.Queue
	raw   bool // true for a non-COW base: reads/writes address vsector directly

	savedGeneration uint32
	parentFileName  string
	flags           uint32
	numSectors      uint32
	headerDirty     bool
}

// Handle is one open logical disk: the ordered [base, redo1, ..., top] list
// plus the reader/writer lock that orders I/O against topology changes.
type Handle struct {
	mu     sync.RWMutex
	cfg    Config
	levels []*levelState
}

// Open parses the COW header of every level beyond the base, adopts or
// rescans freeSector per level, and returns an idle Handle ready for I/O
// (spec §4.4 "Open hierarchy").
func Open(ctx context.Context, levels []LevelIO, cfg Config) (*Handle, error) {
	if len(levels) == 0 {
		return nil, sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: open requires at least a base level")}
	}
	if len(levels) > KMax+1 {
		return nil, sop.Error{Code: sop.LimitExceeded, Err: fmt.Errorf("chain: chain depth %d exceeds KMax=%d", len(levels)-1, KMax)}
	}

	h := &Handle{cfg: cfg, levels: make([]*levelState, len(levels))}
	for i, io := range levels {
		ls, err := openLevel(ctx, io, cfg, i == 0)
		if err != nil {
			return nil, err
		}
		h.levels[i] = ls
	}
	return h, nil
}

func openLevel(ctx context.Context, io LevelIO, cfg Config, isBase bool) (*levelState, error) {
	hdrBuf := make([]byte, encoding.HeaderSizeInBytes)
	if _, err := io.ReadAt(ctx, hdrBuf, 0); err != nil {
		if isBase {
			return rawBaseLevel(io, cfg), nil
		}
		return nil, sop.Error{Code: sop.ReadError, Err: err}
	}

	hdr, err := encoding.UnmarshalHeader(hdrBuf)
	if err != nil {
		if isBase {
			return rawBaseLevel(io, cfg), nil
		}
		return nil, err
	}
	// Version is already validated by UnmarshalHeader; a header that reaches
	// this point always has Version == encoding.Version.
	if cfg.NumRootEntries != 0 && hdr.NumRootEntries != cfg.NumRootEntries {
		return nil, sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("chain: header numRootEntries=%d does not match expected %d", hdr.NumRootEntries, cfg.NumRootEntries)}
	}

	f := translate.NewFile(io, cfg.SectorSize, cfg.Granularity, cfg.LeafFanout, hdr.NumRootEntries, cfg.CacheSize)
	f.RootOffset = hdr.RootOffset

	rootSectors := encoding.RootTableSectorCount(hdr.NumRootEntries, cfg.SectorSize)
	rootBuf := make([]byte, rootSectors*cfg.SectorSize)
	if _, err := io.ReadAt(ctx, rootBuf, int64(hdr.RootOffset)*int64(cfg.SectorSize)); err != nil {
		return nil, sop.Error{Code: sop.ReadError, Err: err}
	}
	f.RootEntries = encoding.UnmarshalRootTable(rootBuf, hdr.NumRootEntries)

	attrs, err := io.Stat(ctx)
	if err != nil {
		return nil, err
	}

	generationMatches := false
	if hdr.SavedGeneration == 0 {
		generationMatches = cfg.TrustHeaderIfGenerationZero
	} else {
		generationMatches = hdr.SavedGeneration == attrs.Generation
	}

	if generationMatches && uint64(hdr.FreeSector)*uint64(cfg.SectorSize) <= uint64(attrs.Length) {
		f.FreeSector = hdr.FreeSector
	} else {
		fs, err := scanFreeSector(ctx, f, cfg)
		if err != nil {
			return nil, err
		}
		f.FreeSector = fs
		f.FreeSectorChanged = true
	}
	f.AllocSectors = uint32(attrs.Length / int64(cfg.SectorSize))
	f.Extend = extendFunc(io, cfg.SectorSize)

	ls := &levelState{
		io:              io,
		file:            f,
		queue:           newLevelQueue(f),
		savedGeneration: attrs.Generation,
		parentFileName:  hdr.ParentFileName,
		flags:           hdr.Flags,
		numSectors:      hdr.NumSectors,
		headerDirty:     hdr.SavedGeneration != attrs.Generation,
	}
	return ls, nil
}

func rawBaseLevel(io LevelIO, cfg Config) *levelState {
	f := translate.NewFile(io, cfg.SectorSize, cfg.Granularity, cfg.LeafFanout, 0, cfg.CacheSize)
	return &levelState{io: io, file: f, raw: true}
}

// scanFreeSector walks every non-zero root entry, reads its leaf, and
// returns the first sector past the root table, every leaf and every
// allocated grain (a grain ends one granularity after its start), with no
// further headroom (spec §4.4's crash-recovery rescan path).
func scanFreeSector(ctx context.Context, f *translate.File, cfg Config) (uint32, error) {
	leafSectors := encoding.LeafSectorCount(cfg.LeafFanout, cfg.SectorSize)
	max := f.RootOffset + encoding.RootTableSectorCount(f.NumRootEntries, cfg.SectorSize)
	for _, leafOff := range f.RootEntries {
		if leafOff == 0 {
			continue
		}
		if end := leafOff + leafSectors; end > max {
			max = end
		}
		buf := make([]byte, leafSectors*cfg.SectorSize)
		if _, err := f.Fd.ReadAt(ctx, buf, int64(leafOff)*int64(cfg.SectorSize)); err != nil {
			return 0, sop.Error{Code: sop.ReadError, Err: err}
		}
		offsets := encoding.UnmarshalLeaf(buf, cfg.LeafFanout)
		for _, off := range offsets {
			if off == 0 {
				continue
			}
			if end := off + cfg.Granularity; end > max {
				max = end
			}
		}
	}
	return max, nil
}

func extendFunc(io LevelIO, sectorSize uint32) func(ctx context.Context, newAllocSectors uint32) error {
	return func(ctx context.Context, newAllocSectors uint32) error {
		return io.Truncate(ctx, int64(newAllocSectors)*int64(sectorSize))
	}
}

func newLevelQueue(f *translate.File) *metaqueue.Queue {
	updateCache := func(op *metaqueue.MetaOp) error {
		for _, le := range op.Entries {
			offsets := encoding.UnmarshalLeaf(le.Slot.Pages, f.LeafFanout)
			for _, e := range le.Edits {
				leafIx := (e.VirtualSector / f.Granularity) % f.LeafFanout
				if e.NewPhysicalSector >= f.FreeSector {
					return sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("chain: edit sector %d not less than freeSector %d", e.NewPhysicalSector, f.FreeSector)}
				}
				offsets[leafIx] = e.NewPhysicalSector
			}
			copy(le.Slot.Pages, encoding.MarshalLeaf(offsets, f.SectorSize))
		}
		return nil
	}
	dispatchWrite := func(ctx context.Context, op *metaqueue.MetaOp, done func(error)) {
		go func() {
			var err error
			for _, le := range op.Entries {
				if _, werr := f.Fd.WriteAt(ctx, le.Slot.Pages, int64(le.SectorOffset)*int64(f.SectorSize)); werr != nil {
					err = werr
					break
				}
			}
			done(err)
		}()
	}
	return metaqueue.NewQueue(updateCache, dispatchWrite)
}

// translateFiles returns the ordered []*translate.File view used by
// translate.ResolveRead.
func (h *Handle) translateFiles() []*translate.File {
	files := make([]*translate.File, len(h.levels))
	for i, ls := range h.levels {
		files[i] = ls.file
	}
	return files
}

// Close drains every level's metadata queue and rewrites any header whose
// generation or freeSector changed (spec §4.4 "Close hierarchy").
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ls := range h.levels {
		if ls.raw {
			continue
		}
		if !ls.queue.Drain() {
			return sop.Error{Code: sop.Busy, Err: fmt.Errorf("chain: close called with metadata ops in flight")}
		}
	}

	for _, ls := range h.levels {
		if ls.raw {
			continue
		}
		if ls.file.FreeSectorChanged || ls.headerDirty {
			if err := writeHeader(ctx, ls, h.cfg); err != nil {
				return err
			}
			ls.file.FreeSectorChanged = false
			ls.headerDirty = false
		}
	}
	return nil
}

// writeHeader serializes and persists ls's header. Callers must hold the
// chain's exclusive lock with the level's metadata queue drained, so no
// concurrent resolveWrite can be mutating the file's fields.
func writeHeader(ctx context.Context, ls *levelState, cfg Config) error {
	hdr := encoding.Header{
		Magic:           encoding.MagicNumber,
		Version:         encoding.Version,
		Flags:           ls.flags,
		NumSectors:      ls.file.AllocSectors,
		Granularity:     cfg.Granularity,
		RootOffset:      ls.file.RootOffset,
		NumRootEntries:  ls.file.NumRootEntries,
		FreeSector:      ls.file.FreeSector,
		SavedGeneration: ls.savedGeneration,
		ParentFileName:  ls.parentFileName,
	}

	buf := hdr.Marshal()
	if _, err := ls.io.WriteAt(ctx, buf, 0); err != nil {
		return sop.Error{Code: sop.WriteError, Err: err}
	}

	if cfg.ResiliencyCoder != nil {
		if err := cfg.ResiliencyCoder.EncodeAndWrite(ctx, cfg.ResiliencyExtents, 0, buf); err != nil {
			return err
		}
	}
	return nil
}

// GetCapacity reports the top level's allocated byte capacity and sector
// size (spec §6 chain.getCapacity).
func (h *Handle) GetCapacity() (int64, uint32) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	top := h.levels[len(h.levels)-1]
	return int64(top.file.AllocSectors) * int64(h.cfg.SectorSize), h.cfg.SectorSize
}

// Resolve exposes resolveRead for external callers that wish to bypass the
// data plane (spec §6 chain.resolve).
func (h *Handle) Resolve(ctx context.Context, vsector uint32) (level int, psector uint32, zeroFill bool, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res, err := translate.ResolveRead(ctx, h.translateFiles(), vsector)
	if err != nil {
		return 0, 0, false, err
	}
	return res.Level, res.Psector, res.ZeroFill, nil
}
