package fss

import (
	"context"
	"testing"
)

// fakeImpl is a minimal in-memory Implementation for table tests.
type fakeImpl struct {
	opens  int
	closes int
}

func (f *fakeImpl) Open(ctx context.Context, oid ObjectID, mode OpenMode) (any, error) {
	f.opens++
	return make([]byte, 4096), nil
}
func (f *fakeImpl) Close(ctx context.Context, handle any) error {
	f.closes++
	return nil
}
func (f *fakeImpl) ReadAt(ctx context.Context, handle any, p []byte, offset int64) (int, error) {
	buf := handle.([]byte)
	return copy(p, buf[offset:]), nil
}
func (f *fakeImpl) WriteAt(ctx context.Context, handle any, p []byte, offset int64) (int, error) {
	buf := handle.([]byte)
	return copy(buf[offset:], p), nil
}
func (f *fakeImpl) Stat(ctx context.Context, handle any) (Attrs, error) {
	buf := handle.([]byte)
	return Attrs{Length: int64(len(buf))}, nil
}
func (f *fakeImpl) Truncate(ctx context.Context, handle any, length int64) error { return nil }
func (f *fakeImpl) Reset(ctx context.Context, handle any) error                 { return nil }
func (f *fakeImpl) Abort(ctx context.Context, handle any) error                 { return nil }

func testOID(tag string, n byte) ObjectID {
	var oid ObjectID
	oid.TypeTag = tag
	oid.Bytes[0] = n
	return oid
}

func TestTable_OpenCloseRoutesToRegisteredImplementation(t *testing.T) {
	impl := &fakeImpl{}
	Register("fss-test-basic", impl)
	tbl := NewTable()
	ctx := context.Background()

	h, err := tbl.Open(ctx, testOID("fss-test-basic", 1), Write, DefaultOpenOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if impl.opens != 1 {
		t.Fatalf("opens = %d, want 1", impl.opens)
	}

	if _, err := tbl.WriteAt(ctx, h, []byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := tbl.ReadAt(ctx, h, buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("ReadAt = %q, want hello", buf)
	}

	if err := tbl.Close(ctx, h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if impl.closes != 1 {
		t.Fatalf("closes = %d, want 1", impl.closes)
	}
	if _, err := tbl.ReadAt(ctx, h, buf, 0); err == nil {
		t.Fatalf("expected error reading from closed handle")
	}
}

func TestTable_ExclusiveOpenRejectedWhileAnyOtherOpenHeld(t *testing.T) {
	impl := &fakeImpl{}
	Register("fss-test-excl", impl)
	tbl := NewTable()
	ctx := context.Background()
	oid := testOID("fss-test-excl", 1)

	h, err := tbl.Open(ctx, oid, Read, DefaultOpenOptions())
	if err != nil {
		t.Fatalf("Open(Read): %v", err)
	}
	if _, err := tbl.Open(ctx, oid, Exclusive, DefaultOpenOptions()); err == nil {
		t.Fatalf("expected Exclusive open to be rejected while Read is held")
	}
	_ = tbl.Close(ctx, h)

	if _, err := tbl.Open(ctx, oid, Exclusive, DefaultOpenOptions()); err != nil {
		t.Fatalf("Exclusive open should succeed once no other opens are held: %v", err)
	}
}

func TestTable_SharedReadOnlyAllowsConcurrentReaders(t *testing.T) {
	impl := &fakeImpl{}
	Register("fss-test-shared", impl)
	tbl := NewTable()
	ctx := context.Background()
	oid := testOID("fss-test-shared", 1)

	h1, err := tbl.Open(ctx, oid, SharedReadOnly, DefaultOpenOptions())
	if err != nil {
		t.Fatalf("first SharedReadOnly open: %v", err)
	}
	h2, err := tbl.Open(ctx, oid, SharedReadOnly, DefaultOpenOptions())
	if err != nil {
		t.Fatalf("second SharedReadOnly open: %v", err)
	}
	if _, err := tbl.Open(ctx, oid, Write, DefaultOpenOptions()); err == nil {
		t.Fatalf("Write open should be rejected while SharedReadOnly handles are outstanding")
	}
	_ = tbl.Close(ctx, h1)
	_ = tbl.Close(ctx, h2)
}

func TestTable_WriteAtRejectedOnReadOnlyHandle(t *testing.T) {
	impl := &fakeImpl{}
	Register("fss-test-ro", impl)
	tbl := NewTable()
	ctx := context.Background()

	h, err := tbl.Open(ctx, testOID("fss-test-ro", 1), Read, DefaultOpenOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := tbl.WriteAt(ctx, h, []byte("x"), 0); err == nil {
		t.Fatalf("expected WriteAt to fail on a Read-mode handle")
	}
}

func TestTable_UpgradeRequiresSoleOpener(t *testing.T) {
	impl := &fakeImpl{}
	Register("fss-test-upgrade", impl)
	tbl := NewTable()
	ctx := context.Background()
	oid := testOID("fss-test-upgrade", 1)

	h1, _ := tbl.Open(ctx, oid, Read, DefaultOpenOptions())
	h2, _ := tbl.Open(ctx, oid, Read, DefaultOpenOptions())
	if err := tbl.Upgrade(h1, Write); err == nil {
		t.Fatalf("expected Upgrade to fail while a second handle is open")
	}
	_ = tbl.Close(ctx, h2)
	if err := tbl.Upgrade(h1, Write); err != nil {
		t.Fatalf("Upgrade should succeed once sole opener: %v", err)
	}
	if _, err := tbl.WriteAt(ctx, h1, []byte("y"), 0); err != nil {
		t.Fatalf("WriteAt after upgrade: %v", err)
	}
}

func TestTable_OpenUnregisteredTypeTagFails(t *testing.T) {
	tbl := NewTable()
	ctx := context.Background()
	if _, err := tbl.Open(ctx, testOID("fss-test-nonexistent-tag", 1), Read, DefaultOpenOptions()); err == nil {
		t.Fatalf("expected error opening an unregistered type tag")
	}
}
