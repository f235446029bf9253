package chain

import (
	"context"
	"fmt"

	"github.com/sharedcode/cowchain/internal/metaqueue"
	"github.com/sharedcode/cowchain/internal/translate"

	"github.com/sharedcode/cowchain"
)

// Read implements spec §4.4's read dispatch: resolve every grain, group the
// ones that land on the same file into one batch, issue each batch
// concurrently, and return the first non-OK child result (spec "first
// non-OK wins").
func (h *Handle) Read(ctx context.Context, sg []SGEntry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(sg) == 0 {
		return nil
	}

	files := h.translateFiles()
	levelOf := make([]int, len(sg))
	zero := make([]bool, len(sg))
	psectorOf := make([]uint32, len(sg))

	for i, e := range sg {
		res, err := translate.ResolveRead(ctx, files, uint32(e.VSector))
		if err != nil {
			return err
		}
		if res.ZeroFill {
			for j := range sg[i].Buf {
				sg[i].Buf[j] = 0
			}
			zero[i] = true
			continue
		}
		levelOf[i] = res.Level
		psectorOf[i] = res.Psector
	}

	groups := make(map[int][]int)
	for i := range sg {
		if zero[i] {
			continue
		}
		groups[levelOf[i]] = append(groups[levelOf[i]], i)
	}

	runner := sop.NewTaskRunner(ctx, len(groups))
	for level, idxs := range groups {
		level, idxs := level, idxs
		runner.Go(func() error {
			fd := h.levels[level].file.Fd
			for _, i := range idxs {
				if _, err := fd.ReadAt(runner.GetContext(), sg[i].Buf, int64(psectorOf[i])*int64(h.cfg.SectorSize)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return runner.Wait()
}

// Write implements spec §4.4's write dispatch: every entry goes to the top
// file, resolveWrite allocates synchronously as needed, and the data write's
// completion triggers the metadata state machine (§4.3).
func (h *Handle) Write(ctx context.Context, sg []SGEntry) error {
	h.mu.RLock()
	top := h.levels[len(h.levels)-1]
	h.mu.RUnlock()

	if top.raw {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("chain: top level has no valid COW header and cannot accept writes")}
	}
	if len(sg) == 0 {
		return nil
	}

	runner := sop.NewTaskRunner(ctx, len(sg))
	for _, e := range sg {
		e := e
		runner.Go(func() error {
			return h.writeOne(runner.GetContext(), top, e)
		})
	}
	return runner.Wait()
}

func (h *Handle) writeOne(ctx context.Context, top *levelState, e SGEntry) error {
	done := make(chan error, 1)
	token := metaqueue.NewParentToken(func(err error) { done <- err })
	op := metaqueue.New(token)

	psector, err := translate.ResolveWrite(ctx, top.file, uint32(e.VSector), op)
	if err != nil {
		return err
	}

	_ = op.Advance() // INIT -> DATA_INFLIGHT; cannot fail from Init
	_, writeErr := top.file.Fd.WriteAt(ctx, e.Buf, int64(psector)*int64(h.cfg.SectorSize))
	top.queue.OnDataComplete(ctx, op, writeErr)
	return <-done
}
