package pipeline

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/pkg/vision"
)

// --- Vision Mock ---

type mockVisionClient struct {
	mock.Mock
}

func (m *mockVisionClient) Analyze(ctx context.Context, req vision.AnalysisRequest) (*vision.AnalysisResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vision.AnalysisResponse), args.Error(1)
}

// --- Trigger Mock ---

type mockTrigger struct {
	mock.Mock
}

func (m *mockTrigger) TriggerStage(ctx context.Context, sessionID, stageName string) error {
	args := m.Called(ctx, sessionID, stageName)
	return args.Error(0)
}

// --- Store instrumentation ---

// countingStore wraps a Store and counts existence checks, so wait-bound
// tests can assert how many polls actually happened.
type countingStore struct {
	artifact.Store
	existsCalls atomic.Int64
}

func (s *countingStore) Exists(ctx context.Context, sessionID string, name model.ArtifactName) (bool, error) {
	s.existsCalls.Add(1)
	return s.Store.Exists(ctx, sessionID, name)
}

// --- Helpers ---

func promptPrefix(prefix string) any {
	return mock.MatchedBy(func(req vision.AnalysisRequest) bool {
		return len(req.Prompt) >= len(prefix) && req.Prompt[:len(prefix)] == prefix
	})
}

func visionText(text string) *vision.AnalysisResponse {
	return &vision.AnalysisResponse{Text: text}
}

func seedSession(t *testing.T, st artifact.Store, sessionID string) {
	t.Helper()
	meta := model.Metadata{
		SessionID:    sessionID,
		OriginalName: "vase.jpg",
		MimeType:     "image/jpeg",
		Size:         10240,
		ImageURL:     "https://cdn.example.com/" + sessionID + "/vase.jpg",
	}
	require.NoError(t, artifact.WriteJSON(context.Background(), st, sessionID, model.ArtifactMetadata, meta))
}

func seedArtifact(t *testing.T, st artifact.Store, sessionID string, name model.ArtifactName, doc string) {
	t.Helper()
	require.NoError(t, st.Write(context.Background(), sessionID, name, json.RawMessage(doc)))
}

func noSleep(context.Context, time.Duration) error { return nil }
