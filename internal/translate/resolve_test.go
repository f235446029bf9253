package translate

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/sharedcode/cowchain/internal/metaqueue"
)

// memFile is an in-memory FileHandle for tests.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func newMemFile(size int) *memFile {
	return &memFile{data: make([]byte, size)}
}

func (m *memFile) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(p, m.data[offset:])
	return n, nil
}

func (m *memFile) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset)+len(p) > len(m.data) {
		grown := make([]byte, int(offset)+len(p))
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[offset:], p)
	return n, nil
}

const (
	testSectorSize = 512
	testGranularity = 8
	testFanout      = 4096
)

func newTestFile(numRootEntries uint32) *File {
	fd := newMemFile(64 * 1024 * 1024)
	f := NewFile(fd, testSectorSize, testGranularity, testFanout, numRootEntries, 8)
	f.Extend = func(ctx context.Context, newAllocSectors uint32) error {
		f.AllocSectors = newAllocSectors
		return nil
	}
	f.AllocSectors = 1 << 20
	f.FreeSector = 1
	return f
}

func TestResolveWrite_FreshSparseWrite(t *testing.T) {
	top := newTestFile(16)
	ctx := context.Background()
	op := metaqueue.New(metaqueue.NewParentToken(func(error) {}))

	psector, err := ResolveWrite(ctx, top, 0, op)
	if err != nil {
		t.Fatalf("ResolveWrite: %v", err)
	}
	if psector == 0 {
		t.Fatalf("psector must be non-zero after allocation")
	}
	if top.RootEntries[0] == 0 {
		t.Fatalf("RootEntries[0] should be non-zero after leaf allocation")
	}
	if !op.TouchedLeaves() {
		t.Fatalf("op should have an edit attached")
	}
	if len(op.Entries) != 1 || len(op.Entries[0].Edits) != 1 {
		t.Fatalf("expected exactly one LeafEdit with one edit")
	}
}

func TestResolveWrite_SecondWriteSameGrainReturnsExistingMapping(t *testing.T) {
	top := newTestFile(16)
	ctx := context.Background()
	op1 := metaqueue.New(metaqueue.NewParentToken(func(error) {}))
	p1, err := ResolveWrite(ctx, top, 0, op1)
	if err != nil {
		t.Fatalf("first ResolveWrite: %v", err)
	}

	// Apply the cache update the metadata pipeline would have applied at
	// CACHE_DONE, since ResolveWrite defers the in-memory offset update.
	applyEdits(t, op1)

	op2 := metaqueue.New(metaqueue.NewParentToken(func(error) {}))
	p2, err := ResolveWrite(ctx, top, 0, op2)
	if err != nil {
		t.Fatalf("second ResolveWrite: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("p1=%d p2=%d, want equal (same grain)", p1, p2)
	}
	if op2.TouchedLeaves() {
		t.Fatalf("second write to the same grain must not allocate again")
	}
}

func TestResolveRead_ShadowedReadFallsThroughToParent(t *testing.T) {
	base := newTestFile(16) // raw, non-COW base; never consulted via leaf/root
	middle := newTestFile(16)
	top := newTestFile(16) // empty redo on top of middle
	ctx := context.Background()

	op := metaqueue.New(metaqueue.NewParentToken(func(error) {}))
	_, err := ResolveWrite(ctx, middle, 800, op)
	if err != nil {
		t.Fatalf("ResolveWrite on middle: %v", err)
	}
	applyEdits(t, op)

	files := []*File{base, middle, top}
	res, err := ResolveRead(ctx, files, 800)
	if err != nil {
		t.Fatalf("ResolveRead: %v", err)
	}
	if res.ZeroFill {
		t.Fatalf("expected a concrete mapping, got zero-fill")
	}
	if res.Level != 1 {
		t.Fatalf("Level = %d, want 1 (middle)", res.Level)
	}
}

func TestResolveRead_SparseBaseReturnsZeroFill(t *testing.T) {
	base := newTestFile(16)
	base.Sparse = true
	ctx := context.Background()
	res, err := ResolveRead(ctx, []*File{base}, 42)
	if err != nil {
		t.Fatalf("ResolveRead: %v", err)
	}
	if !res.ZeroFill {
		t.Fatalf("expected zero-fill for unallocated grain on sparse base")
	}
}

func TestResolveRead_RootIndexOutOfRangeIsMetadataCorruption(t *testing.T) {
	base := newTestFile(16)
	top := newTestFile(1)
	ctx := context.Background()
	_, err := ResolveRead(ctx, []*File{base, top}, uint32(testGranularity)*uint32(testFanout)*2)
	if err == nil {
		t.Fatalf("expected metadata corruption error for out-of-range root index")
	}
}

// applyEdits mimics the metadata pipeline's updateCache step: writes each
// pending edit's new sector into the leaf slot's in-memory pages.
func applyEdits(t *testing.T, op *metaqueue.MetaOp) {
	t.Helper()
	for _, le := range op.Entries {
		offsets := decodeOffsets(le.Slot.Pages, testFanout)
		for _, e := range le.Edits {
			leafIx := (e.VirtualSector / testGranularity) % testFanout
			offsets[leafIx] = e.NewPhysicalSector
		}
		copy(le.Slot.Pages, encodeOffsets(offsets, testSectorSize))
		le.Slot.Unpin()
	}
}

func TestEncodeDecodeOffsetsRoundTrip(t *testing.T) {
	offsets := []uint32{0, 1, 1000, 0xFFFFFFFF}
	buf := encodeOffsets(offsets, testSectorSize)
	got := decodeOffsets(buf, uint32(len(offsets)))
	for i := range offsets {
		if got[i] != offsets[i] {
			t.Fatalf("offset %d: got %d want %d", i, got[i], offsets[i])
		}
	}
	if bytes.Equal(buf, make([]byte, len(buf))) && offsets[1] != 0 {
		t.Fatalf("encoded buffer unexpectedly all-zero")
	}
}
