package delivery

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/internal/pipeline"
	"github.com/verity-group/appraisal-api/internal/store"
	"github.com/verity-group/appraisal-api/pkg/crm"
	"github.com/verity-group/appraisal-api/pkg/mailer"
	"github.com/verity-group/appraisal-api/pkg/sheets"
	"github.com/verity-group/appraisal-api/pkg/vision"
)

// --- Mailer Mock ---

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, msg mailer.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// --- Sheets Mock ---

type mockSheets struct {
	mock.Mock
}

func (m *mockSheets) AppendRow(ctx context.Context, row sheets.Row) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *mockSheets) UpdateRow(ctx context.Context, row sheets.Row) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

// --- CRM Mock ---

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) Notify(ctx context.Context, n crm.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

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

// --- Helpers ---

func visionText(text string) *vision.AnalysisResponse {
	return &vision.AnalysisResponse{Text: text}
}

func messageTagged(tag string) any {
	return mock.MatchedBy(func(msg mailer.Message) bool {
		return msg.Tag == tag
	})
}

func newTestJournal(t *testing.T) store.Journal {
	t.Helper()
	j, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() }) //nolint:errcheck
	require.NoError(t, j.Migrate(context.Background()))
	return j
}

func seedSession(t *testing.T, st artifact.Store, sessionID, email string) {
	t.Helper()
	meta := model.Metadata{
		SessionID: sessionID,
		ImageURL:  "https://cdn.example.com/" + sessionID + ".jpg",
		Email:     email,
	}
	require.NoError(t, artifact.WriteJSON(context.Background(), st, sessionID, model.ArtifactMetadata, meta))
}

func seedArtifact(t *testing.T, st artifact.Store, sessionID string, name model.ArtifactName, doc string) {
	t.Helper()
	require.NoError(t, st.Write(context.Background(), sessionID, name, json.RawMessage(doc)))
}

func noSleep(context.Context, time.Duration) error { return nil }

// shortWaiter polls twice with no delay, so absent artifacts fail fast.
func shortWaiter(st artifact.Store) *pipeline.Waiter {
	return pipeline.NewWaiter(st, 2, time.Second).WithSleep(noSleep)
}
