package testutil

import (
	"context"
	"sync"

	"github.com/sharedcode/cowchain/fss"
)

// FakeFile is an in-memory stand-in for internal/directio.File: a growable
// byte slice behind the same sector-addressed, context-aware I/O surface
// the chain engine's collaborator interface expects, so tests can exercise
// chain/fss logic without touching O_DIRECT or a real filesystem.
type FakeFile struct {
	mu         sync.Mutex
	buf        []byte
	generation uint32
	sectorSize int
}

// NewFakeFile returns a FakeFile pre-sized to size bytes, all zero.
func NewFakeFile(size, sectorSize int) *FakeFile {
	return &FakeFile{buf: make([]byte, size), sectorSize: sectorSize}
}

func (f *FakeFile) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(offset) >= len(f.buf) {
		return 0, nil
	}
	return copy(p, f.buf[offset:]), nil
}

func (f *FakeFile) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	need := int(offset) + len(p)
	if need > len(f.buf) {
		grown := make([]byte, need)
		copy(grown, f.buf)
		f.buf = grown
	}
	return copy(f.buf[offset:], p), nil
}

func (f *FakeFile) Stat(ctx context.Context) (fss.Attrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fss.Attrs{Length: int64(len(f.buf)), Generation: f.generation, SectorSize: f.sectorSize}, nil
}

func (f *FakeFile) Truncate(ctx context.Context, length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int64(len(f.buf)) >= length {
		f.buf = f.buf[:length]
		return nil
	}
	grown := make([]byte, length)
	copy(grown, f.buf)
	f.buf = grown
	return nil
}

// Reset is a no-op: a FakeFile has no in-flight async I/O to cancel.
func (f *FakeFile) Reset(ctx context.Context) error { return nil }

// Abort is a no-op, matching Reset.
func (f *FakeFile) Abort(ctx context.Context) error { return nil }

// SetGeneration lets a test simulate a foreign writer bumping the file's
// generation between opens.
func (f *FakeFile) SetGeneration(gen uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation = gen
}
