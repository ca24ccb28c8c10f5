package election

import (
	"context"
	"sync/atomic"
	"time"
)

// workHandle tracks one scheduled unit of election work: an apply attempt,
// a watch or the backoff sleep before either. Disposing it cancels its
// context; disposal is idempotent.
type workHandle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	disposed atomic.Bool
}

func newWorkHandle() *workHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &workHandle{ctx: ctx, cancel: cancel}
}

// Dispose cancels the handle. Returns true on the first call only.
func (h *workHandle) Dispose() bool {
	if !h.disposed.CompareAndSwap(false, true) {
		return false
	}
	h.cancel()

	return true
}

// Disposed reports whether the handle was disposed.
func (h *workHandle) Disposed() bool {
	return h.disposed.Load()
}

// sleep waits for d unless the handle is disposed first. Returns false if the
// handle was disposed.
func (h *workHandle) sleep(d time.Duration) bool {
	if d <= 0 {
		return !h.Disposed()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-h.ctx.Done():
		return false
	case <-t.C:
		return !h.Disposed()
	}
}
