package metaqueue

import (
	"container/list"
	"context"
	"sync"
)

// UpdateCacheFunc applies every LeafEdit in op to its slot's pinned pages
// under the slot's own lock, asserting newSector < freeSector is the
// caller's responsibility (it owns the freeSector value); metaqueue only
// sequences the call.
type UpdateCacheFunc func(op *MetaOp) error

// DispatchWriteFunc issues one asynchronous metadata write for op (a
// scatter-gather over the pages of every LeafEdit.Slot it references) and
// invokes done with the write's result when it completes.
type DispatchWriteFunc func(ctx context.Context, op *MetaOp, done func(error))

// Queue implements the per-CowInfo metadata pipeline (spec §4.3): a ready
// FIFO of ops waiting for the metadata-write path and an active FIFO of ops
// currently being walked by the pipeline, both protected by one queueLock.
type Queue struct {
	mu     sync.Mutex
	ready  *list.List
	active *list.List

	updateCache   UpdateCacheFunc
	dispatchWrite DispatchWriteFunc
}

// NewQueue returns an empty Queue using the given cache-update and
// metadata-dispatch collaborators.
func NewQueue(updateCache UpdateCacheFunc, dispatchWrite DispatchWriteFunc) *Queue {
	return &Queue{
		ready:         list.New(),
		active:        list.New(),
		updateCache:   updateCache,
		dispatchWrite: dispatchWrite,
	}
}

// ReadyLen and ActiveLen expose queue depth for tests and diagnostics.
func (q *Queue) ReadyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}

func (q *Queue) ActiveLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active.Len()
}

// OnDataComplete handles the data-I/O completion for op (spec §4.3's first
// rule). A data-I/O error short-circuits the metadata path entirely. An op
// that touched no leaves (pure cache hit) also bypasses the metadata path
// and completes directly.
func (q *Queue) OnDataComplete(ctx context.Context, op *MetaOp, dataErr error) {
	if dataErr != nil {
		for _, le := range op.Entries {
			le.Slot.Unpin()
		}
		op.ParentToken.Release(dataErr)
		return
	}
	if err := op.Advance(); err != nil { // -> DataDone
		op.ParentToken.Release(err)
		return
	}
	if !op.TouchedLeaves() {
		op.ParentToken.Release(nil)
		return
	}

	op.SetState(WaitingMD)
	q.mu.Lock()
	q.ready.PushBack(op)
	splice := q.active.Len() == 0
	if splice {
		q.active, q.ready = q.ready, list.New()
	}
	q.mu.Unlock()

	if splice {
		q.advance(ctx)
	}
}

// advance walks active from the head, applying updateCache and dispatching
// one metadata write for every op still in WaitingMD (spec §4.3's second
// rule). It must only be invoked immediately after a splice (active was
// empty and is now populated) or after a metadata completion that spliced a
// new batch in, so it never runs concurrently with itself for the same
// CowInfo.
func (q *Queue) advance(ctx context.Context) {
	q.mu.Lock()
	var batch []*MetaOp
	for e := q.active.Front(); e != nil; e = e.Next() {
		op := e.Value.(*MetaOp)
		if op.State() == WaitingMD {
			batch = append(batch, op)
		}
	}
	q.mu.Unlock()

	for _, op := range batch {
		if err := q.updateCache(op); err != nil {
			q.failAndRemove(op, err)
			continue
		}
		op.SetState(CacheDone)
		op.SetState(MDInflight)
		q.dispatchWrite(ctx, op, func(err error) {
			q.onMetadataDone(ctx, op, err)
		})
	}
}

func (q *Queue) onMetadataDone(ctx context.Context, op *MetaOp, err error) {
	op.SetState(MDDone)
	for _, le := range op.Entries {
		le.Slot.Unpin()
	}
	op.ParentToken.Release(err)

	q.mu.Lock()
	removeFromList(q.active, op)
	var splice bool
	if q.active.Len() == 0 && q.ready.Len() > 0 {
		q.active, q.ready = q.ready, list.New()
		splice = true
	}
	q.mu.Unlock()

	if splice {
		q.advance(ctx)
	}
}

func (q *Queue) failAndRemove(op *MetaOp, err error) {
	for _, le := range op.Entries {
		le.Slot.Unpin()
	}
	op.ParentToken.Release(err)
	q.mu.Lock()
	removeFromList(q.active, op)
	q.mu.Unlock()
}

func removeFromList(l *list.List, op *MetaOp) {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*MetaOp) == op {
			l.Remove(e)
			return
		}
	}
}

// Drain reports whether both queues are empty, used by chain's close-
// hierarchy to decide between proceeding and returning Busy.
func (q *Queue) Drain() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() == 0 && q.active.Len() == 0
}
