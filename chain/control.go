package chain

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/cowchain"
)

// Splice implements spec §4.4's splice-parent: rewrites level's
// parent-filename field to level-1's parent-filename, then removes level-1
// from the in-memory list, so the chain skips the fully-committed
// intermediate level. The chain lock is held exclusively; callers must have
// already quiesced I/O against level-1 (typically by calling Commit to
// completion first).
func (h *Handle) Splice(ctx context.Context, level int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.ClusterLocker != nil {
		lock, err := h.cfg.ClusterLocker.Acquire(ctx, h.cfg.ClusterKey)
		if err != nil {
			return err
		}
		defer lock.Release(ctx)
	}

	if level <= 0 || level >= len(h.levels) {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: splice level %d out of range", level)}
	}
	child := h.levels[level]
	parent := h.levels[level-1]
	if child.raw || parent.raw {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: splice requires both levels to carry a COW header")}
	}
	if !child.queue.Drain() || !parent.queue.Drain() {
		return sop.Error{Code: sop.Busy, Err: fmt.Errorf("chain: splice called with metadata ops in flight")}
	}

	child.parentFileName = parent.parentFileName
	child.headerDirty = true
	if err := writeHeader(ctx, child, h.cfg); err != nil {
		return err
	}

	h.levels = append(h.levels[:level-1], h.levels[level:]...)
	return nil
}

// Reset forwards a best-effort reset to every file handle in the chain, in
// reverse order (spec §4.4/§5 "Cancellation / timeouts"). The chain lock is
// not required since this is a control-path operation that does not mutate
// topology; failures are logged and do not abort the loop.
func (h *Handle) Reset(ctx context.Context) {
	h.mu.RLock()
	levels := append([]*levelState(nil), h.levels...)
	h.mu.RUnlock()

	for i := len(levels) - 1; i >= 0; i-- {
		if err := levels[i].io.Reset(ctx); err != nil {
			log.Warn("chain: reset failed for level", "level", i, "error", err)
		}
	}
}

// Abort forwards a best-effort abort to every file handle in the chain, in
// reverse order.
func (h *Handle) Abort(ctx context.Context) {
	h.mu.RLock()
	levels := append([]*levelState(nil), h.levels...)
	h.mu.RUnlock()

	for i := len(levels) - 1; i >= 0; i-- {
		if err := levels[i].io.Abort(ctx); err != nil {
			log.Warn("chain: abort failed for level", "level", i, "error", err)
		}
	}
}
