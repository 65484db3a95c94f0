package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/pkg/vision"
)

// StageInput carries the inputs a stage's analysis function declares: the
// session metadata, plus the upstream artifact for dependent stages.
type StageInput struct {
	SessionID string
	Metadata  *model.Metadata
	Upstream  json.RawMessage
}

// Stage describes one unit of analysis work: its owned output artifact, its
// single optional dependency, and the opaque analysis function that produces
// the artifact payload. Descriptors are in-memory only, reconstructed per
// process.
type Stage struct {
	Name      string
	Artifact  model.ArtifactName
	DependsOn model.ArtifactName
	Analyze   func(ctx context.Context, in StageInput) (any, error)
}

const (
	StageAnalysis = "analysis"
	StageOrigin   = "origin"
	StageDetailed = "detailed"
	StageValue    = "value"
)

const analysisPrompt = `You are an expert appraiser. Perform a visual similarity
search over the attached item photograph: identify the item category, list
comparable items, and summarize what the item appears to be. Respond with a
single JSON object with keys: summary, category, similarItems (array of
strings), confidence (0-1).`

const originPrompt = `Given the visual analysis below, assess the item's likely
origin and authenticity. Respond with a single JSON object with keys:
likelyOrigin, period, authenticity, notes.

Visual analysis:
`

const detailedPrompt = `Given the visual analysis below, write a detailed
appraisal description of the item. Respond with a single JSON object with
keys: title, description, materials, condition, maker, era.

Visual analysis:
`

const valuePrompt = `Given the detailed description below, estimate the item's
current market value. Respond with a single JSON object with keys:
estimateLow, estimateHigh, currency, basis.

Detailed description:
`

// Stages builds the registered stage set over the given vision client.
// Ownership is exclusive: each stage is the only writer of its artifact.
func Stages(client vision.Client) []Stage {
	return []Stage{
		{
			Name:     StageAnalysis,
			Artifact: model.ArtifactAnalysis,
			Analyze: func(ctx context.Context, in StageInput) (any, error) {
				resp, err := client.Analyze(ctx, vision.AnalysisRequest{
					Prompt:   analysisPrompt,
					ImageURL: in.Metadata.ImageURL,
				})
				if err != nil {
					return nil, err
				}
				var out model.AnalysisResult
				if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
					return nil, eris.Wrap(err, "analysis: unparseable model output")
				}
				out.Timestamp = time.Now().UTC()
				return &out, nil
			},
		},
		{
			Name:      StageOrigin,
			Artifact:  model.ArtifactOrigin,
			DependsOn: model.ArtifactAnalysis,
			Analyze: func(ctx context.Context, in StageInput) (any, error) {
				resp, err := client.Analyze(ctx, vision.AnalysisRequest{
					Prompt: originPrompt + string(in.Upstream),
				})
				if err != nil {
					return nil, err
				}
				var out model.OriginResult
				if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
					return nil, eris.Wrap(err, "origin: unparseable model output")
				}
				out.Timestamp = time.Now().UTC()
				return &out, nil
			},
		},
		{
			Name:      StageDetailed,
			Artifact:  model.ArtifactDetailed,
			DependsOn: model.ArtifactAnalysis,
			Analyze: func(ctx context.Context, in StageInput) (any, error) {
				resp, err := client.Analyze(ctx, vision.AnalysisRequest{
					Prompt: detailedPrompt + string(in.Upstream),
				})
				if err != nil {
					return nil, err
				}
				var out model.DetailedResult
				if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
					return nil, eris.Wrap(err, "detailed: unparseable model output")
				}
				out.Timestamp = time.Now().UTC()
				return &out, nil
			},
		},
		{
			Name:      StageValue,
			Artifact:  model.ArtifactValue,
			DependsOn: model.ArtifactDetailed,
			Analyze: func(ctx context.Context, in StageInput) (any, error) {
				resp, err := client.Analyze(ctx, vision.AnalysisRequest{
					Prompt: valuePrompt + string(in.Upstream),
				})
				if err != nil {
					return nil, err
				}
				var out model.ValueResult
				if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
					return nil, eris.Wrap(err, "value: unparseable model output")
				}
				out.Timestamp = time.Now().UTC()
				return &out, nil
			},
		},
	}
}
