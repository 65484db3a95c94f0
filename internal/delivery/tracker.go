package delivery

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Tracker supervises detached background work. Once an HTTP response has
// been written there is no caller left to report to, but the process still
// must not exit while work is outstanding; shutdown and tests drain through
// here instead of racing process exit.
type Tracker struct {
	wg          sync.WaitGroup
	outstanding atomic.Int64
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Go spawns fn as a supervised background task with its own error boundary:
// a panic is logged and absorbed, never propagated to the server.
func (t *Tracker) Go(name string, fn func()) {
	t.wg.Add(1)
	t.outstanding.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.outstanding.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
				)
			}
		}()
		fn()
	}()
}

// Outstanding returns the number of tasks still running.
func (t *Tracker) Outstanding() int64 {
	return t.outstanding.Load()
}

// Drain blocks until all outstanding tasks finish or ctx expires.
func (t *Tracker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
