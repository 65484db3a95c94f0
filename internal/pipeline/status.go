package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
)

// StatusStageMarketResearch is the derived downstream stage shown to
// clients: it tracks the market value lookup, which cannot start until the
// detailed description exists.
const StatusStageMarketResearch = "market-research"

// Aggregator computes session status purely from artifact existence. It has
// no side effects; completion never un-completes because artifacts are never
// deleted by the pipeline.
type Aggregator struct {
	store artifact.Store
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(store artifact.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Status returns the per-stage and overall status view for the session.
// Percent is 100 when the stage's artifact exists, a fixed 50 while assumed
// in progress, and 0 while gated on an upstream artifact.
func (a *Aggregator) Status(ctx context.Context, sessionID string) (*model.SessionStatus, error) {
	names := append([]model.ArtifactName{model.ArtifactMetadata}, model.StageArtifacts...)
	existing, err := a.store.ListExisting(ctx, sessionID, names)
	if err != nil {
		return nil, eris.Wrap(err, "status: list artifacts")
	}

	stages := make(map[string]model.StageStatus, 4)
	for _, name := range []model.ArtifactName{model.ArtifactAnalysis, model.ArtifactOrigin, model.ArtifactDetailed} {
		stages[string(name)] = existenceStatus(existing[name])
	}

	// Market research is gated on the detailed description.
	switch {
	case existing[model.ArtifactValue]:
		stages[StatusStageMarketResearch] = model.StageStatus{State: model.StageComplete, Percent: 100}
	case existing[model.ArtifactDetailed]:
		stages[StatusStageMarketResearch] = model.StageStatus{State: model.StageProcessing, Percent: 50}
	default:
		stages[StatusStageMarketResearch] = model.StageStatus{State: model.StagePending, Percent: 0}
	}

	return &model.SessionStatus{
		SessionID: sessionID,
		Overall:   overall(existing),
		Stages:    stages,
	}, nil
}

// Results assembles whatever artifacts the session already has. It only
// reads: absent artifacts are skipped, never produced, so it is safe to call
// from the polling surface.
func (a *Aggregator) Results(ctx context.Context, sessionID string) (*model.RunResult, error) {
	names := append([]model.ArtifactName{model.ArtifactMetadata}, model.StageArtifacts...)
	existing, err := a.store.ListExisting(ctx, sessionID, names)
	if err != nil {
		return nil, eris.Wrap(err, "status: list artifacts")
	}

	result := &model.RunResult{
		SessionID: sessionID,
		Artifacts: make(map[model.ArtifactName]json.RawMessage, len(names)),
	}
	for _, name := range names {
		if !existing[name] {
			continue
		}
		raw, readErr := a.store.Read(ctx, sessionID, name)
		if readErr != nil {
			return nil, eris.Wrapf(readErr, "status: read %s", name)
		}
		result.Artifacts[name] = raw
	}
	return result, nil
}

func existenceStatus(exists bool) model.StageStatus {
	if exists {
		return model.StageStatus{State: model.StageComplete, Percent: 100}
	}
	return model.StageStatus{State: model.StageProcessing, Percent: 50}
}

func overall(existing map[model.ArtifactName]bool) model.SessionState {
	anyStage := false
	for _, name := range model.StageArtifacts {
		if existing[name] {
			anyStage = true
			break
		}
	}
	if !anyStage {
		return model.SessionStarting
	}

	for _, name := range model.RequiredArtifacts {
		if !existing[name] {
			return model.SessionProcessing
		}
	}
	return model.SessionComplete
}
