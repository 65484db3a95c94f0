package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
)

// Coordinator determines which stage artifacts a session is missing and runs
// the corresponding stages with failure isolation: one stage failing never
// prevents its siblings from running, and never aborts the run.
type Coordinator struct {
	store   artifact.Store
	invoker *Invoker
	waiter  *Waiter
	trigger Trigger
}

// NewCoordinator creates a Coordinator. trigger may be nil, which disables
// the self-healing sibling trigger (CLI runs drive all stages themselves).
func NewCoordinator(store artifact.Store, invoker *Invoker, waiter *Waiter, trigger Trigger) *Coordinator {
	return &Coordinator{store: store, invoker: invoker, waiter: waiter, trigger: trigger}
}

// Run executes all missing stages for the session, in parallel where
// independent, and returns whatever artifacts now exist plus the per-stage
// error list. It returns an error only when the session itself is missing or
// the store is unreachable; partial stage failure is reported, not raised.
func (c *Coordinator) Run(ctx context.Context, sessionID string) (*model.RunResult, error) {
	log := zap.L().With(zap.String("session_id", sessionID))

	metaRaw, err := c.store.Read(ctx, sessionID, model.ArtifactMetadata)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, eris.Wrapf(ErrSessionNotFound, "coordinator: session %s", sessionID)
		}
		return nil, eris.Wrap(err, "coordinator: read metadata")
	}

	result := &model.RunResult{
		SessionID: sessionID,
		Artifacts: map[model.ArtifactName]json.RawMessage{
			model.ArtifactMetadata: metaRaw,
		},
	}

	stages := c.invoker.Stages()
	names := make([]model.ArtifactName, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Artifact)
	}

	// One batched existence check decides the missing set.
	existing, err := c.store.ListExisting(ctx, sessionID, names)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: list artifacts")
	}

	var mu sync.Mutex
	record := func(name model.ArtifactName, raw json.RawMessage) {
		mu.Lock()
		result.Artifacts[name] = raw
		mu.Unlock()
	}
	fail := func(stageErr model.StageError) {
		mu.Lock()
		result.Errors = append(result.Errors, stageErr)
		mu.Unlock()
		log.Warn("stage failed", zap.String("stage", stageErr.Stage), zap.Error(stageErr.Err))
	}

	// Stages run concurrently. Goroutines always return nil: every failure
	// is captured into the error list instead, so Wait never short-circuits
	// a sibling.
	g, gCtx := errgroup.WithContext(ctx)
	for _, stage := range stages {
		if existing[stage.Artifact] {
			raw, readErr := c.store.Read(ctx, sessionID, stage.Artifact)
			if readErr != nil {
				fail(model.StageError{Stage: stage.Name, Err: eris.Wrap(readErr, "coordinator: read existing artifact")})
				continue
			}
			record(stage.Artifact, raw)
			continue
		}

		g.Go(func() error {
			if stage.DependsOn != "" && !existing[stage.DependsOn] {
				if waitErr := c.awaitDependency(gCtx, sessionID, stage); waitErr != nil {
					fail(model.StageError{Stage: stage.Name, Err: waitErr})
					return nil
				}
			}
			raw, invErr := c.invoker.Invoke(gCtx, sessionID, stage.Name)
			if invErr != nil {
				var stageErr model.StageError
				if errors.As(invErr, &stageErr) {
					fail(stageErr)
				} else {
					fail(model.StageError{Stage: stage.Name, Err: invErr})
				}
				return nil
			}
			record(stage.Artifact, raw)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("coordinator run complete",
		zap.Int("artifacts", len(result.Artifacts)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// awaitDependency waits for a stage's upstream artifact. The dependency may
// be in flight in this same run or in another process; when the wait times
// out, the producing sibling is triggered once through the service's own
// stage endpoint and the wait repeated. A second timeout becomes the
// dependent stage's failure.
func (c *Coordinator) awaitDependency(ctx context.Context, sessionID string, stage Stage) error {
	_, err := c.waiter.Wait(ctx, sessionID, stage.DependsOn)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrWaitTimeout) || c.trigger == nil {
		return err
	}

	producer := c.producerOf(stage.DependsOn)
	if producer == "" {
		return err
	}
	zap.L().Info("dependency missing after wait, triggering producer stage",
		zap.String("session_id", sessionID),
		zap.String("stage", stage.Name),
		zap.String("producer", producer),
	)
	if trigErr := c.trigger.TriggerStage(ctx, sessionID, producer); trigErr != nil {
		return eris.Wrapf(trigErr, "trigger producer %s", producer)
	}

	_, err = c.waiter.Wait(ctx, sessionID, stage.DependsOn)
	return err
}

func (c *Coordinator) producerOf(name model.ArtifactName) string {
	for _, s := range c.invoker.Stages() {
		if s.Artifact == name {
			return s.Name
		}
	}
	return ""
}
