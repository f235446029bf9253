package fss

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/sharedcode/cowchain/internal/objcache"

	"github.com/sharedcode/cowchain"
)

// OpenOptions is accepted by Table.Open but not consulted by it: an object
// opens the same way whatever TrustHeaderIfGenerationZero says. The
// zero-generation header trust that takes effect is chain.Config's
// TrustHeaderIfGenerationZero, read when chain.Open parses each level's
// header.
type OpenOptions struct {
	TrustHeaderIfGenerationZero bool
}

// DefaultOpenOptions returns the resolved default: trust a zero generation.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{TrustHeaderIfGenerationZero: true}
}

// objPayload is what an object's objcache.Descriptor carries once a miss
// handler has opened it: the Implementation that owns the native handle, so
// the one real Close (spec §4.5's eviction path) can route back to it.
type objPayload struct {
	impl   Implementation
	native any
}

// handleEntry is one row of the file-handle table: the per-open mode plus a
// reference on the object cache's shared descriptor for this oid (spec
// §4.6). Every compatible concurrent open of the same object shares one
// underlying native handle, opened once by the object cache's miss handler
// rather than once per FileHandle.
type handleEntry struct {
	oid        ObjectID
	impl       Implementation
	mode       OpenMode
	descriptor *objcache.Descriptor
}

// native returns the underlying Implementation handle shared by every open
// of this entry's object.
func (e *handleEntry) native() any {
	return e.descriptor.Payload.(objPayload).native
}

// openCounts tracks the three counters whose sum spec §4.6 requires to equal
// the number of outstanding opens on an object: readerCount + sharedReaderCount
// + writerCount.
type openCounts struct {
	readerCount       int
	sharedReaderCount int
	writerCount       int
}

func (c openCounts) total() int {
	return c.readerCount + c.sharedReaderCount + c.writerCount
}

func (c *openCounts) add(mode OpenMode, delta int) {
	switch mode {
	case Read:
		c.readerCount += delta
	case SharedReadOnly:
		c.sharedReaderCount += delta
	case Write:
		c.writerCount += delta
	}
}

func (c openCounts) heldModes() []OpenMode {
	var modes []OpenMode
	if c.readerCount > 0 {
		modes = append(modes, Read)
	}
	if c.sharedReaderCount > 0 {
		modes = append(modes, SharedReadOnly)
	}
	if c.writerCount > 0 {
		modes = append(modes, Write)
	}
	return modes
}

// FileHandle is a caller-visible handle to an open object. It is opaque:
// callers route all operations back through the Table that produced it.
type FileHandle struct {
	id uint64
}

// Table is the file-system switch's file-handle table: it tracks every open
// object, enforces the open-mode compatibility matrix, and routes each
// operation to the Implementation registered for the object's type tag.
type Table struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*handleEntry
	counts  map[ObjectID]*openCounts // keyed by the whole oid (TypeTag + Bytes)
	objs    *objcache.Cache
}

// NewTable returns an empty file-handle table. Its object cache (C5) serves
// as the miss handler for every open: the first, and only the first, open
// of a given object invokes the registered Implementation's Open; every
// later compatible open reuses the descriptor it populated instead of
// opening the object again.
func NewTable() *Table {
	t := &Table{
		entries: make(map[uint64]*handleEntry),
		counts:  make(map[ObjectID]*openCounts),
	}
	t.objs = objcache.New(func(d *objcache.Descriptor) {
		p := d.Payload.(objPayload)
		if err := p.impl.Close(context.Background(), p.native); err != nil {
			log.Warn("fss: closing evicted object descriptor failed", "error", err)
		}
	})
	return t
}

// oidKey is oid's key in the table and the object cache: the whole ObjectID,
// so equal Bytes under different type tags never share an entry.
func oidKey(oid ObjectID) ObjectID {
	return oid
}

// Open opens oid in the given mode, enforcing the compatibility matrix
// against every mode already held on the same object (spec §4.6).
func (t *Table) Open(ctx context.Context, oid ObjectID, mode OpenMode, opts OpenOptions) (*FileHandle, error) {
	impl, err := lookupImplementation(oid.TypeTag)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	key := oidKey(oid)
	counts, ok := t.counts[key]
	if !ok {
		counts = &openCounts{}
		t.counts[key] = counts
	}
	for _, held := range counts.heldModes() {
		if !Compatible(mode, held) {
			t.mu.Unlock()
			return nil, sop.Error{Code: sop.Busy, Err: fmt.Errorf("fss: open mode %s incompatible with held mode %s", mode, held)}
		}
	}
	t.mu.Unlock()

	descriptor, err := t.objs.Reserve(ctx, key, func(ctx context.Context, d *objcache.Descriptor) error {
		native, err := impl.Open(ctx, oid, mode)
		if err != nil {
			return err
		}
		d.Payload = objPayload{impl: impl, native: native}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.entries[id] = &handleEntry{oid: oid, impl: impl, mode: mode, descriptor: descriptor}
	counts.add(mode, 1)
	t.mu.Unlock()

	return &FileHandle{id: id}, nil
}

func (t *Table) lookup(h *FileHandle) (*handleEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h.id]
	if !ok {
		return nil, sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("fss: stale or closed file handle")}
	}
	return e, nil
}

// Close releases h. openCount for the underlying object is decremented
// before the Implementation's Close is invoked.
func (t *Table) Close(ctx context.Context, h *FileHandle) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.entries, h.id)
	key := oidKey(e.oid)
	if counts, ok := t.counts[key]; ok {
		counts.add(e.mode, -1)
		if counts.total() == 0 {
			delete(t.counts, key)
		}
	}
	t.mu.Unlock()

	t.objs.Release(e.descriptor)
	return nil
}

// ReadAt routes to the Implementation registered for h's object type.
func (t *Table) ReadAt(ctx context.Context, h *FileHandle, p []byte, offset int64) (int, error) {
	e, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	return e.impl.ReadAt(ctx, e.native(), p, offset)
}

// WriteAt routes to the Implementation registered for h's object type.
func (t *Table) WriteAt(ctx context.Context, h *FileHandle, p []byte, offset int64) (int, error) {
	e, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	if e.mode != Write {
		return 0, sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("fss: write on handle opened in mode %s", e.mode)}
	}
	return e.impl.WriteAt(ctx, e.native(), p, offset)
}

// Stat routes to the Implementation registered for h's object type.
func (t *Table) Stat(ctx context.Context, h *FileHandle) (Attrs, error) {
	e, err := t.lookup(h)
	if err != nil {
		return Attrs{}, err
	}
	return e.impl.Stat(ctx, e.native())
}

// Truncate routes to the Implementation registered for h's object type.
func (t *Table) Truncate(ctx context.Context, h *FileHandle, length int64) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	return e.impl.Truncate(ctx, e.native(), length)
}

// Reset routes to the Implementation registered for h's object type
// (spec §4.4 reset/abort: best-effort, forwarded per handle).
func (t *Table) Reset(ctx context.Context, h *FileHandle) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	return e.impl.Reset(ctx, e.native())
}

// Abort routes to the Implementation registered for h's object type.
func (t *Table) Abort(ctx context.Context, h *FileHandle) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	return e.impl.Abort(ctx, e.native())
}

// Upgrade attempts to change h's open mode to newMode, requiring this handle
// be the sole opener of the underlying object (spec §4.6: mode changes
// between exclusive and shared require openCount == 1).
func (t *Table) Upgrade(h *FileHandle, newMode OpenMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h.id]
	if !ok {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("fss: stale or closed file handle")}
	}
	key := oidKey(e.oid)
	counts := t.counts[key]
	if counts == nil || counts.total() != 1 {
		return sop.Error{Code: sop.Busy, Err: fmt.Errorf("fss: cannot change open mode while other handles are open")}
	}
	counts.add(e.mode, -1)
	counts.add(newMode, 1)
	e.mode = newMode
	return nil
}
