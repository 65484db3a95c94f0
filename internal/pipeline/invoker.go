package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
)

// Invoker runs one registered stage for a session. Invocation is idempotent:
// once a stage's artifact exists it is returned unchanged and the analysis
// call is never repeated, even if the caller believes the artifact is stale.
type Invoker struct {
	store        artifact.Store
	stages       map[string]Stage
	stageTimeout time.Duration
}

// NewInvoker creates an Invoker over the given store and stage set.
// stageTimeout bounds each underlying analysis call; zero disables it.
func NewInvoker(store artifact.Store, stages []Stage, stageTimeout time.Duration) *Invoker {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}
	return &Invoker{store: store, stages: byName, stageTimeout: stageTimeout}
}

// Stage returns the named stage descriptor.
func (inv *Invoker) Stage(name string) (Stage, bool) {
	s, ok := inv.stages[name]
	return s, ok
}

// Stages returns all registered stage descriptors.
func (inv *Invoker) Stages() []Stage {
	out := make([]Stage, 0, len(inv.stages))
	for _, name := range []string{StageAnalysis, StageOrigin, StageDetailed, StageValue} {
		if s, ok := inv.stages[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Invoke runs the named stage for the session. On cache hit the stored
// artifact is returned with no side effects; otherwise the stage's analysis
// function runs and its output is written before returning. On failure no
// artifact is written: absence stays the externally visible failure signal,
// which is what allows a later retry.
func (inv *Invoker) Invoke(ctx context.Context, sessionID, stageName string) (json.RawMessage, error) {
	stage, ok := inv.stages[stageName]
	if !ok {
		return nil, eris.Errorf("invoker: unknown stage %q", stageName)
	}
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("stage", stageName))

	// Idempotency short-circuit.
	exists, err := inv.store.Exists(ctx, sessionID, stage.Artifact)
	if err != nil {
		return nil, model.StageError{Stage: stageName, Err: eris.Wrap(err, "invoker: existence check")}
	}
	if exists {
		raw, err := inv.store.Read(ctx, sessionID, stage.Artifact)
		if err != nil {
			return nil, model.StageError{Stage: stageName, Err: eris.Wrap(err, "invoker: read cached artifact")}
		}
		log.Debug("stage artifact already present, skipping analysis")
		return raw, nil
	}

	in, err := inv.stageInput(ctx, sessionID, stage)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if inv.stageTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := stage.Analyze(runCtx, in)
	if err != nil {
		log.Error("stage analysis failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, model.StageError{Stage: stageName, Err: err}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, model.StageError{Stage: stageName, Err: eris.Wrap(err, "invoker: serialize result")}
	}
	if err := inv.store.Write(ctx, sessionID, stage.Artifact, raw); err != nil {
		return nil, model.StageError{Stage: stageName, Err: eris.Wrap(err, "invoker: write artifact")}
	}

	log.Info("stage complete", zap.Duration("elapsed", time.Since(start)))
	return raw, nil
}

// stageInput assembles the inputs the stage declares. A missing session root
// is fatal; a missing upstream artifact is the stage's own failure (the
// coordinator waits before invoking, so reaching this without the upstream
// means the wait already timed out or the stage was invoked directly).
func (inv *Invoker) stageInput(ctx context.Context, sessionID string, stage Stage) (StageInput, error) {
	var meta model.Metadata
	if err := artifact.ReadInto(ctx, inv.store, sessionID, model.ArtifactMetadata, &meta); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return StageInput{}, eris.Wrapf(ErrSessionNotFound, "invoker: session %s", sessionID)
		}
		return StageInput{}, model.StageError{Stage: stage.Name, Err: eris.Wrap(err, "invoker: read metadata")}
	}

	in := StageInput{SessionID: sessionID, Metadata: &meta}
	if stage.DependsOn != "" {
		raw, err := inv.store.Read(ctx, sessionID, stage.DependsOn)
		if err != nil {
			return StageInput{}, model.StageError{
				Stage: stage.Name,
				Err:   eris.Wrapf(err, "invoker: dependency %s not available", stage.DependsOn),
			}
		}
		in.Upstream = raw
	}
	return in, nil
}
