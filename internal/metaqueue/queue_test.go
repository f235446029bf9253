package metaqueue

import (
	"context"
	"sync"
	"testing"

	"github.com/sharedcode/cowchain/internal/leafcache"
)

func newTestSlot() *leafcache.Slot {
	c := leafcache.New(4, 16)
	s, _ := c.Lookup(context.Background(), 1, leafcache.ForWrite, false, nil)
	return s
}

func TestQueue_BypassesMetadataWhenNoLeavesTouched(t *testing.T) {
	var mdCalls int
	q := NewQueue(
		func(op *MetaOp) error { return nil },
		func(ctx context.Context, op *MetaOp, done func(error)) { mdCalls++; done(nil) },
	)
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	op := New(NewParentToken(func(err error) { gotErr = err; wg.Done() }))
	op.Advance() // INIT -> DATA_INFLIGHT

	q.OnDataComplete(context.Background(), op, nil)
	wg.Wait()

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if mdCalls != 0 {
		t.Fatalf("metadata write dispatched for a cache-hit-only op")
	}
	if op.State() != DataDone {
		t.Fatalf("state = %v, want DataDone (bypass never reaches WaitingMD)", op.State())
	}
}

func TestQueue_DataFailureSkipsMetadata(t *testing.T) {
	var mdCalls int
	q := NewQueue(
		func(op *MetaOp) error { return nil },
		func(ctx context.Context, op *MetaOp, done func(error)) { mdCalls++; done(nil) },
	)
	slot := newTestSlot()
	op := New(NewParentToken(func(error) {}))
	op.Advance()
	InsertEdit(op, slot, 1, 0, 100)

	wantErr := context.DeadlineExceeded
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	op.ParentToken = NewParentToken(func(err error) { gotErr = err; wg.Done() })

	q.OnDataComplete(context.Background(), op, wantErr)
	wg.Wait()

	if gotErr != wantErr {
		t.Fatalf("gotErr = %v, want %v", gotErr, wantErr)
	}
	if mdCalls != 0 {
		t.Fatalf("metadata write dispatched after data-I/O failure")
	}
	if slot.Writes() != 0 {
		t.Fatalf("slot.Writes() = %d, want 0 after data-I/O failure unpins it", slot.Writes())
	}
}

func TestQueue_SingleOpRunsThroughMetadataWrite(t *testing.T) {
	var updateCalls, dispatchCalls int
	q := NewQueue(
		func(op *MetaOp) error { updateCalls++; return nil },
		func(ctx context.Context, op *MetaOp, done func(error)) { dispatchCalls++; done(nil) },
	)
	slot := newTestSlot()
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	op := New(NewParentToken(func(err error) { gotErr = err; wg.Done() }))
	op.Advance()
	InsertEdit(op, slot, 1, 0, 100)
	if slot.Writes() != 1 {
		t.Fatalf("slot.Writes() = %d, want 1 after InsertEdit", slot.Writes())
	}

	q.OnDataComplete(context.Background(), op, nil)
	wg.Wait()

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if updateCalls != 1 || dispatchCalls != 1 {
		t.Fatalf("updateCalls=%d dispatchCalls=%d, want 1 and 1", updateCalls, dispatchCalls)
	}
	if op.State() != MDDone {
		t.Fatalf("state = %v, want MDDone", op.State())
	}
	if slot.Writes() != 0 {
		t.Fatalf("slot.Writes() = %d, want 0 after completion", slot.Writes())
	}
	if q.ActiveLen() != 0 || q.ReadyLen() != 0 {
		t.Fatalf("queues not drained: active=%d ready=%d", q.ActiveLen(), q.ReadyLen())
	}
}

func TestQueue_SecondBatchWaitsForFirstToDrain(t *testing.T) {
	var dispatched []*MetaOp
	var doneFns []func(error)
	q := NewQueue(
		func(op *MetaOp) error { return nil },
		func(ctx context.Context, op *MetaOp, done func(error)) {
			dispatched = append(dispatched, op)
			doneFns = append(doneFns, done)
		},
	)
	slot := newTestSlot()

	op1 := New(NewParentToken(func(error) {}))
	op1.Advance()
	InsertEdit(op1, slot, 1, 0, 100)
	q.OnDataComplete(context.Background(), op1, nil)

	op2 := New(NewParentToken(func(error) {}))
	op2.Advance()
	InsertEdit(op2, slot, 1, 1, 200)
	q.OnDataComplete(context.Background(), op2, nil)

	if len(dispatched) != 1 {
		t.Fatalf("len(dispatched) = %d, want 1 (second batch must wait)", len(dispatched))
	}
	if q.ReadyLen() != 1 {
		t.Fatalf("ReadyLen() = %d, want 1", q.ReadyLen())
	}

	doneFns[0](nil) // complete op1, should splice op2 in
	if len(dispatched) != 2 {
		t.Fatalf("len(dispatched) = %d, want 2 after first batch drained", len(dispatched))
	}
	doneFns[1](nil)

	if op2.State() != MDDone {
		t.Fatalf("op2 state = %v, want MDDone", op2.State())
	}
}
