package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/cowchain/internal/testutil"
)

func TestAcquireThenRelease_AllowsReacquire(t *testing.T) {
	cache := testutil.NewFakeCache()
	l := New(cache, Options{TTL: time.Minute})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "obj-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	h2, err := l.Acquire(ctx, "obj-1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if err := h2.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestAcquire_FailsWhileHeldByOther(t *testing.T) {
	cache := testutil.NewFakeCache()
	l := New(cache, Options{TTL: time.Minute})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "obj-2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release(ctx)

	if _, err := l.Acquire(ctx, "obj-2"); err == nil {
		t.Fatalf("expected the second Acquire to fail while the first is held")
	}
}

func TestNilCache_IsANoOp(t *testing.T) {
	l := New(nil, Options{})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "obj-3")
	if err != nil {
		t.Fatalf("Acquire with nil cache: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release with nil cache: %v", err)
	}
}
