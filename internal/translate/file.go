// Package translate implements the two-level sparse translation tree (spec
// §4.2, C2): resolveRead walks a chain of Files from top to base; resolveWrite
// allocates leaves and grains against the top file only.
package translate

import (
	"context"
	"sync"

	"github.com/sharedcode/cowchain/internal/encoding"
	"github.com/sharedcode/cowchain/internal/leafcache"
)

// FileHandle is the minimal collaborator I/O surface translate needs: plain
// synchronous reads/writes at a byte offset, independent of any particular
// transport (internal/directio.File satisfies this).
type FileHandle interface {
	ReadAt(ctx context.Context, p []byte, offset int64) (int, error)
	WriteAt(ctx context.Context, p []byte, offset int64) (int, error)
}

// File is one level's translation state, the spec's CowInfo stripped of the
// metadata queue (owned separately by internal/metaqueue) and the leaf cache
// slot array (owned by internal/leafcache but referenced here).
type File struct {
	mu sync.Mutex

	Fd          FileHandle
	SectorSize  uint32
	Granularity uint32 // sectors per grain
	LeafFanout  uint32

	RootOffset     uint32 // sector offset of the root table
	NumRootEntries uint32
	RootEntries    []uint32 // sector offsets; 0 = absent

	FreeSector        uint32
	AllocSectors      uint32
	FreeSectorChanged bool

	// Sparse marks a base-level File as itself being a sparse-COW disk
	// (reads of unallocated grains return zero rather than an error).
	Sparse bool

	Cache *leafcache.Cache

	// Extend is invoked when FreeSector would exceed AllocSectors; it must
	// grow the underlying file and persist the new AllocSectors via the
	// collaborator's set-length call (spec §4.2 Growth).
	Extend func(ctx context.Context, newAllocSectors uint32) error
}

// NewFile returns a File with a freshly allocated leaf cache of cacheSize
// slots sized for one leaf (leafFanout * 4 bytes, rounded to a whole sector).
func NewFile(fd FileHandle, sectorSize, granularity, leafFanout, numRootEntries uint32, cacheSize int) *File {
	leafBytes := encoding.LeafSectorCount(leafFanout, sectorSize) * sectorSize
	return &File{
		Fd:             fd,
		SectorSize:     sectorSize,
		Granularity:    granularity,
		LeafFanout:     leafFanout,
		NumRootEntries: numRootEntries,
		RootEntries:    make([]uint32, numRootEntries),
		Cache:          leafcache.New(cacheSize, int(leafBytes)),
	}
}

// readLeaf reads the leaf at sectorOffset from disk; used as the
// leafcache.ReadFunc for FOR_READ and FOR_WRITE lookups against this file.
func (f *File) readLeaf(ctx context.Context, sectorOffset uint32) ([]byte, error) {
	n := encoding.LeafSectorCount(f.LeafFanout, f.SectorSize) * f.SectorSize
	buf := make([]byte, n)
	_, err := f.Fd.ReadAt(ctx, buf, int64(sectorOffset)*int64(f.SectorSize))
	return buf, err
}

// ReadLeaf exposes readLeaf to other packages (the chain engine's commit
// path reads leaves directly to discover allocated grain runs).
func (f *File) ReadLeaf(ctx context.Context, sectorOffset uint32) ([]byte, error) {
	return f.readLeaf(ctx, sectorOffset)
}

// writeLeafSync synchronously writes offsets as the leaf at sectorOffset;
// used during leaf initialisation (spec §4.2 step 1), which is the one path
// that blocks on disk I/O before resolveWrite returns.
func (f *File) writeLeafSync(ctx context.Context, sectorOffset uint32, data []byte) error {
	_, err := f.Fd.WriteAt(ctx, data, int64(sectorOffset)*int64(f.SectorSize))
	return err
}

// writeRootTableSync synchronously writes the root table to the given sector
// offset, the second half of leaf initialisation.
func (f *File) writeRootTableSync(ctx context.Context, rootOffset uint32, data []byte) error {
	_, err := f.Fd.WriteAt(ctx, data, int64(rootOffset)*int64(f.SectorSize))
	return err
}

// decodeOffsets returns the leaf fanout entries held in a cache slot's pages.
func decodeOffsets(pages []byte, fanout uint32) []uint32 {
	return encoding.UnmarshalLeaf(pages, fanout)
}

// encodeOffsets serializes fanout leaf entries into a page buffer matching
// the given size.
func encodeOffsets(offsets []uint32, sectorSize uint32) []byte {
	return encoding.MarshalLeaf(offsets, sectorSize)
}
