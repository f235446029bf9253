package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/cowchain"
	"github.com/sharedcode/cowchain/volcache"
)

func TestFakeCache_SetGetStructRoundTrip(t *testing.T) {
	c := NewFakeCache()
	ctx := context.Background()
	type payload struct{ N int }

	if err := c.SetStruct(ctx, "k", &payload{N: 7}, time.Minute); err != nil {
		t.Fatalf("SetStruct: %v", err)
	}
	var got payload
	found, err := c.GetStruct(ctx, "k", &got)
	if err != nil || !found {
		t.Fatalf("GetStruct: found=%v err=%v", found, err)
	}
	if got.N != 7 {
		t.Fatalf("N = %d, want 7", got.N)
	}
}

func TestFakeCache_LockIsExclusive(t *testing.T) {
	c := NewFakeCache()
	ctx := context.Background()
	keysA := c.CreateLockKeys([]string{"res"})
	keysB := c.CreateLockKeys([]string{"res"})

	ok, _, err := c.Lock(ctx, time.Minute, keysA)
	if err != nil || !ok {
		t.Fatalf("first Lock: ok=%v err=%v", ok, err)
	}
	ok, _, err = c.Lock(ctx, time.Minute, keysB)
	if err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	if ok {
		t.Fatalf("second Lock should fail while the first holder has not unlocked")
	}

	if err := c.Unlock(ctx, keysA); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, _, err = c.Lock(ctx, time.Minute, keysB)
	if err != nil || !ok {
		t.Fatalf("Lock after release: ok=%v err=%v", ok, err)
	}
}

func TestFakeFile_WriteExtendsAndReadsBack(t *testing.T) {
	f := NewFakeFile(512, 512)
	ctx := context.Background()
	payload := []byte("hello")

	if _, err := f.WriteAt(ctx, payload, 1024); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	attrs, err := f.Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs.Length < 1024+int64(len(payload)) {
		t.Fatalf("Length = %d, want >= %d", attrs.Length, 1024+len(payload))
	}

	got := make([]byte, len(payload))
	if _, err := f.ReadAt(ctx, got, 1024); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestFakeCatalogStore_LookupVolume(t *testing.T) {
	s := NewFakeCatalogStore()
	id := sop.NewUUID()
	s.Put(volcache.Entry{VolumeName: "vol0", UUID: id})

	e, found, err := s.LookupVolume(context.Background(), id)
	if err != nil || !found {
		t.Fatalf("LookupVolume: found=%v err=%v", found, err)
	}
	if e.VolumeName != "vol0" {
		t.Fatalf("VolumeName = %q, want vol0", e.VolumeName)
	}

	_, found, err = s.LookupVolume(context.Background(), sop.NewUUID())
	if err != nil || found {
		t.Fatalf("expected a miss for an unregistered uuid, found=%v err=%v", found, err)
	}
}
