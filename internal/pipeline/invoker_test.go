package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
)

func newTestInvoker(mv *mockVisionClient, st artifact.Store) *Invoker {
	return NewInvoker(st, Stages(mv), 30*time.Second)
}

func TestInvoker_RunsStageAndWritesArtifact(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")

	mv := &mockVisionClient{}
	mv.On("Analyze", mock.Anything, mock.Anything).
		Return(visionText(`{"summary":"a late Qing vase","category":"ceramics","confidence":0.8}`), nil).Once()

	inv := newTestInvoker(mv, mem)
	raw, err := inv.Invoke(context.Background(), "s1", StageAnalysis)
	require.NoError(t, err)

	var out model.AnalysisResult
	require.NoError(t, artifact.ReadInto(context.Background(), mem, "s1", model.ArtifactAnalysis, &out))
	assert.Equal(t, "a late Qing vase", out.Summary)
	assert.Equal(t, "ceramics", out.Category)
	assert.False(t, out.Timestamp.IsZero())
	assert.NotEmpty(t, raw)
	mv.AssertExpectations(t)
}

func TestInvoker_SecondInvokeSkipsAnalysis(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")

	mv := &mockVisionClient{}
	mv.On("Analyze", mock.Anything, mock.Anything).
		Return(visionText(`{"summary":"first"}`), nil).Once()

	inv := newTestInvoker(mv, mem)
	first, err := inv.Invoke(context.Background(), "s1", StageAnalysis)
	require.NoError(t, err)
	second, err := inv.Invoke(context.Background(), "s1", StageAnalysis)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	mv.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestInvoker_FailureWritesNoArtifact(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")

	mv := &mockVisionClient{}
	mv.On("Analyze", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	inv := newTestInvoker(mv, mem)
	_, err := inv.Invoke(context.Background(), "s1", StageAnalysis)

	var stageErr model.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAnalysis, stageErr.Stage)

	exists, existsErr := mem.Exists(context.Background(), "s1", model.ArtifactAnalysis)
	require.NoError(t, existsErr)
	assert.False(t, exists, "absence stays the failure signal")
}

func TestInvoker_FailedStageCanRetry(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")

	mv := &mockVisionClient{}
	mv.On("Analyze", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()
	mv.On("Analyze", mock.Anything, mock.Anything).Return(visionText(`{"summary":"recovered"}`), nil).Once()

	inv := newTestInvoker(mv, mem)
	_, err := inv.Invoke(context.Background(), "s1", StageAnalysis)
	require.Error(t, err)

	raw, err := inv.Invoke(context.Background(), "s1", StageAnalysis)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "recovered")
}

func TestInvoker_UnparseableModelOutput(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")

	mv := &mockVisionClient{}
	mv.On("Analyze", mock.Anything, mock.Anything).Return(visionText("sorry, I cannot do that"), nil)

	inv := newTestInvoker(mv, mem)
	_, err := inv.Invoke(context.Background(), "s1", StageAnalysis)

	var stageErr model.StageError
	require.ErrorAs(t, err, &stageErr)

	exists, _ := mem.Exists(context.Background(), "s1", model.ArtifactAnalysis)
	assert.False(t, exists)
}

func TestInvoker_UnknownStage(t *testing.T) {
	inv := newTestInvoker(&mockVisionClient{}, artifact.NewMemoryStore())
	_, err := inv.Invoke(context.Background(), "s1", "polish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestInvoker_MissingSession(t *testing.T) {
	inv := newTestInvoker(&mockVisionClient{}, artifact.NewMemoryStore())
	_, err := inv.Invoke(context.Background(), "ghost", StageAnalysis)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInvoker_MissingDependencyFailsStage(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")

	mv := &mockVisionClient{}
	inv := newTestInvoker(mv, mem)

	_, err := inv.Invoke(context.Background(), "s1", StageOrigin)
	var stageErr model.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageOrigin, stageErr.Stage)
	mv.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestInvoker_DependentStageReceivesUpstream(t *testing.T) {
	mem := artifact.NewMemoryStore()
	seedSession(t, mem, "s1")
	seedArtifact(t, mem, "s1", model.ArtifactAnalysis, `{"summary":"a bronze figure"}`)

	mv := &mockVisionClient{}
	mv.On("Analyze", mock.Anything, promptPrefix(originPrompt)).
		Return(visionText(`{"likelyOrigin":"China","period":"Ming"}`), nil).Once()

	inv := newTestInvoker(mv, mem)
	_, err := inv.Invoke(context.Background(), "s1", StageOrigin)
	require.NoError(t, err)

	var out model.OriginResult
	require.NoError(t, artifact.ReadInto(context.Background(), mem, "s1", model.ArtifactOrigin, &out))
	assert.Equal(t, "China", out.LikelyOrigin)
	mv.AssertExpectations(t)
}

func TestInvoker_StagesOrdered(t *testing.T) {
	inv := newTestInvoker(&mockVisionClient{}, artifact.NewMemoryStore())
	var names []string
	for _, s := range inv.Stages() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StageAnalysis, StageOrigin, StageDetailed, StageValue}, names)
}

func TestInvoker_IndependentStagesRunInAnyOrder(t *testing.T) {
	// origin and detailed both hang off analysis and nothing else, so
	// invoking them back to front must come out the same as front to back.
	orders := map[string][]string{
		"origin first":   {StageOrigin, StageDetailed},
		"detailed first": {StageDetailed, StageOrigin},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			mem := artifact.NewMemoryStore()
			seedSession(t, mem, "s1")
			seedArtifact(t, mem, "s1", model.ArtifactAnalysis, `{"summary":"a bronze figure"}`)

			mv := &mockVisionClient{}
			mv.On("Analyze", mock.Anything, promptPrefix(originPrompt)).
				Return(visionText(`{"likelyOrigin":"Japan"}`), nil).Once()
			mv.On("Analyze", mock.Anything, promptPrefix(detailedPrompt)).
				Return(visionText(`{"title":"Bronze okimono"}`), nil).Once()

			inv := newTestInvoker(mv, mem)
			for _, stage := range order {
				_, err := inv.Invoke(context.Background(), "s1", stage)
				require.NoError(t, err)
			}

			var origin model.OriginResult
			require.NoError(t, artifact.ReadInto(context.Background(), mem, "s1", model.ArtifactOrigin, &origin))
			assert.Equal(t, "Japan", origin.LikelyOrigin)

			var detailed model.DetailedResult
			require.NoError(t, artifact.ReadInto(context.Background(), mem, "s1", model.ArtifactDetailed, &detailed))
			assert.Equal(t, "Bronze okimono", detailed.Title)
			mv.AssertExpectations(t)
		})
	}
}
