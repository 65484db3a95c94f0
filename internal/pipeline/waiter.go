package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
)

// Waiter polls the artifact store for an artifact produced asynchronously by
// a sibling stage. Stages are triggered fire-and-forget, so the trigger
// returning says nothing about the artifact being written yet; bounded
// polling covers that lag without a push-based completion signal.
type Waiter struct {
	store      artifact.Store
	maxRetries int
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewWaiter creates a Waiter. maxRetries is the number of existence checks
// performed (default 5), delay the fixed pause between them (default 2s).
func NewWaiter(store artifact.Store, maxRetries int, delay time.Duration) *Waiter {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Waiter{
		store:      store,
		maxRetries: maxRetries,
		delay:      delay,
		sleep:      sleepCtx,
	}
}

// WithSleep replaces the delay function; tests inject a no-op clock.
func (w *Waiter) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Waiter {
	w.sleep = sleep
	return w
}

// Wait polls existence up to maxRetries times and returns the artifact as
// soon as it appears. When the bound is reached it returns ErrWaitTimeout,
// which callers distinguish from a stage-execution failure.
func (w *Waiter) Wait(ctx context.Context, sessionID string, name model.ArtifactName) (json.RawMessage, error) {
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		exists, err := w.store.Exists(ctx, sessionID, name)
		if err != nil {
			return nil, eris.Wrapf(err, "waiter: check %s/%s", sessionID, name)
		}
		if exists {
			raw, err := w.store.Read(ctx, sessionID, name)
			if err != nil {
				return nil, eris.Wrapf(err, "waiter: read %s/%s", sessionID, name)
			}
			return raw, nil
		}

		zap.L().Debug("waiting for artifact",
			zap.String("session_id", sessionID),
			zap.String("artifact", string(name)),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", w.maxRetries),
		)

		// No sleep after the final check.
		if attempt == w.maxRetries {
			break
		}
		if err := w.sleep(ctx, w.delay); err != nil {
			return nil, err
		}
	}
	return nil, eris.Wrapf(ErrWaitTimeout, "waiter: %s/%s not visible after %d attempts", sessionID, name, w.maxRetries)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
