package resiliency

import (
	"bytes"
	"context"
	"sync"
	"testing"
)

type memExtent struct {
	mu  sync.Mutex
	buf []byte
}

func newMemExtent(size int) *memExtent { return &memExtent{buf: make([]byte, size)} }

func (m *memExtent) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset)+len(p) > len(m.buf) {
		return 0, bytes.ErrTooLarge
	}
	return copy(p, m.buf[offset:]), nil
}

func (m *memExtent) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	need := int(offset) + len(p)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(m.buf[offset:], p), nil
}

func newExtents(n int, size int) []Extent {
	exts := make([]Extent, n)
	for i := range exts {
		exts[i] = newMemExtent(size)
	}
	return exts
}

func TestEncodeAndWrite_ThenReadAndRepair_RoundTrip(t *testing.T) {
	c, err := New(3, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := bytes.Repeat([]byte("metadata-block"), 20)
	exts := newExtents(c.NumExtents(), 4096)
	ctx := context.Background()

	if err := c.EncodeAndWrite(ctx, exts, 0, data); err != nil {
		t.Fatalf("EncodeAndWrite: %v", err)
	}

	shardSize := (len(data) + 2) / 3
	got, repaired, err := c.ReadAndRepair(ctx, exts, 0, shardSize, len(data))
	if err != nil {
		t.Fatalf("ReadAndRepair: %v", err)
	}
	if len(repaired) != 0 {
		t.Fatalf("unexpected repairs with no damage: %v", repaired)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded data does not match original")
	}
}

func TestReadAndRepair_ToleratesMissingExtent(t *testing.T) {
	c, err := New(3, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := bytes.Repeat([]byte("x"), 300)
	exts := newExtents(c.NumExtents(), 4096)
	ctx := context.Background()

	if err := c.EncodeAndWrite(ctx, exts, 0, data); err != nil {
		t.Fatalf("EncodeAndWrite: %v", err)
	}

	// Zero out one extent's shard entirely, simulating a lost/corrupt extent.
	me := exts[1].(*memExtent)
	me.mu.Lock()
	for i := range me.buf {
		me.buf[i] = 0
	}
	me.mu.Unlock()

	shardSize := (len(data) + 2) / 3
	got, repaired, err := c.ReadAndRepair(ctx, exts, 0, shardSize, len(data))
	if err != nil {
		t.Fatalf("ReadAndRepair after damage: %v", err)
	}
	if len(repaired) == 0 {
		t.Fatalf("expected the corrupted extent to be reported as repaired")
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded data after repair does not match original")
	}
}

func TestNew_RejectsTooManyShards(t *testing.T) {
	if _, err := New(200, 100); err == nil {
		t.Fatalf("expected an error when data+parity shards exceed 256")
	}
}
