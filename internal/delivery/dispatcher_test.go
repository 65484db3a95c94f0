package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/internal/pipeline"
	"github.com/verity-group/appraisal-api/internal/resilience"
	"github.com/verity-group/appraisal-api/internal/store"
	"github.com/verity-group/appraisal-api/pkg/crm"
	"github.com/verity-group/appraisal-api/pkg/sheets"
)

type dispatcherEnv struct {
	store   *artifact.MemoryStore
	journal store.Journal
	vision  *mockVisionClient
	mailer  *mockMailer
	sheets  *mockSheets
	crm     *mockCRM
	tracker *Tracker
	d       *Dispatcher
}

func newDispatcherEnv(t *testing.T) *dispatcherEnv {
	t.Helper()
	env := &dispatcherEnv{
		store:   artifact.NewMemoryStore(),
		journal: newTestJournal(t),
		vision:  &mockVisionClient{},
		mailer:  &mockMailer{},
		sheets:  &mockSheets{},
		crm:     &mockCRM{},
		tracker: NewTracker(),
	}
	inv := pipeline.NewInvoker(env.store, pipeline.Stages(env.vision), time.Minute)
	coord := pipeline.NewCoordinator(env.store, inv, shortWaiter(env.store), nil)
	env.d = NewDispatcher(env.store, coord, env.journal, env.mailer, env.sheets, env.crm, env.tracker, time.Hour)
	return env
}

func (env *dispatcherEnv) dispatchAndWait(t *testing.T, sessionID, email string) {
	t.Helper()
	env.d.Dispatch(context.Background(), sessionID, email)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.tracker.Drain(ctx))
}

func seedCompleteSession(t *testing.T, st *artifact.MemoryStore, sessionID string) {
	t.Helper()
	seedSession(t, st, sessionID, "alice@example.com")
	seedArtifact(t, st, sessionID, model.ArtifactAnalysis, `{"summary":"a vase","category":"ceramics"}`)
	seedArtifact(t, st, sessionID, model.ArtifactOrigin, `{"likelyOrigin":"China"}`)
	seedArtifact(t, st, sessionID, model.ArtifactDetailed, `{"title":"Vase"}`)
	seedArtifact(t, st, sessionID, model.ArtifactValue, `{"estimateLow":100,"estimateHigh":200}`)
}

func TestDispatcher_FullDelivery(t *testing.T) {
	env := newDispatcherEnv(t)
	seedCompleteSession(t, env.store, "s1")

	submitted := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	env.d.now = func() time.Time { return submitted }

	env.mailer.On("Send", mock.Anything, messageTagged("free-report")).Return(nil).Once()
	env.sheets.On("UpdateRow", mock.Anything, mock.MatchedBy(func(row sheets.Row) bool {
		return row.SessionID == "s1" && row.Status == string(model.SessionComplete) && row.ReportSent
	})).Return(nil).Once()
	env.crm.On("Notify", mock.Anything, mock.MatchedBy(func(n crm.Notification) bool {
		return n.SessionID == "s1" && n.Category == "ceramics" && n.Status == string(model.SessionComplete)
	})).Return(nil).Once()

	env.dispatchAndWait(t, "s1", "alice@example.com")

	env.mailer.AssertExpectations(t)
	env.sheets.AssertExpectations(t)
	env.crm.AssertExpectations(t)

	// Report artifact persisted.
	var report model.Report
	require.NoError(t, artifact.ReadInto(context.Background(), env.store, "s1", model.ArtifactReport, &report))
	assert.False(t, report.Placeholder)
	require.NotNil(t, report.Value)

	// Submission journaled and the free report marked delivered.
	sub, err := env.journal.RecordSubmission(context.Background(), "s1", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, sub.FreeReportSent)

	// Personal offer scheduled exactly one delay after submission.
	due, err := env.journal.DueOffers(context.Background(), submitted.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.WithinDuration(t, submitted.Add(time.Hour), due[0].DueAt, time.Second)
}

func TestDispatcher_DeliversDespiteStageFailures(t *testing.T) {
	env := newDispatcherEnv(t)
	seedSession(t, env.store, "s1", "alice@example.com")
	seedArtifact(t, env.store, "s1", model.ArtifactAnalysis, `{"summary":"a vase"}`)
	seedArtifact(t, env.store, "s1", model.ArtifactOrigin, `{"likelyOrigin":"China"}`)

	// The detailed stage fails outright, so the market value stage starves
	// too. Delivery still owes the user whatever exists.
	env.vision.On("Analyze", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	env.mailer.On("Send", mock.Anything, messageTagged("free-report")).Return(nil).Once()
	env.sheets.On("UpdateRow", mock.Anything, mock.MatchedBy(func(row sheets.Row) bool {
		return row.Status == string(model.SessionProcessing)
	})).Return(nil).Once()
	env.crm.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	env.dispatchAndWait(t, "s1", "alice@example.com")

	env.mailer.AssertExpectations(t)
	env.sheets.AssertExpectations(t)

	var report model.Report
	require.NoError(t, artifact.ReadInto(context.Background(), env.store, "s1", model.ArtifactReport, &report))
	assert.NotNil(t, report.Analysis)
	assert.NotNil(t, report.Origin)
	assert.Nil(t, report.Detailed)
	assert.Nil(t, report.Value)

	due, err := env.journal.DueOffers(context.Background(), time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1, "offer scheduled even with a partial report")
}

func TestDispatcher_MailerFailureDoesNotStopSiblingBranches(t *testing.T) {
	env := newDispatcherEnv(t)
	seedCompleteSession(t, env.store, "s1")

	env.mailer.On("Send", mock.Anything, mock.Anything).Return(assert.AnError)
	env.sheets.On("UpdateRow", mock.Anything, mock.MatchedBy(func(row sheets.Row) bool {
		return !row.ReportSent
	})).Return(nil).Once()
	env.crm.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	env.dispatchAndWait(t, "s1", "alice@example.com")

	env.sheets.AssertExpectations(t)
	env.crm.AssertExpectations(t)

	sub, err := env.journal.RecordSubmission(context.Background(), "s1", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, sub.FreeReportSent)

	due, err := env.journal.DueOffers(context.Background(), time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDispatcher_MissingSessionStopsEverything(t *testing.T) {
	env := newDispatcherEnv(t)

	env.dispatchAndWait(t, "ghost", "alice@example.com")

	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	env.sheets.AssertNotCalled(t, "UpdateRow", mock.Anything, mock.Anything)
	env.crm.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestDispatcher_OptionalChannelsDisabled(t *testing.T) {
	env := newDispatcherEnv(t)
	seedCompleteSession(t, env.store, "s1")

	inv := pipeline.NewInvoker(env.store, pipeline.Stages(env.vision), time.Minute)
	coord := pipeline.NewCoordinator(env.store, inv, shortWaiter(env.store), nil)
	d := NewDispatcher(env.store, coord, env.journal, env.mailer, nil, nil, env.tracker, time.Hour)

	env.mailer.On("Send", mock.Anything, messageTagged("free-report")).Return(nil).Once()

	d.Dispatch(context.Background(), "s1", "alice@example.com")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.tracker.Drain(ctx))

	env.mailer.AssertExpectations(t)
}

func TestDispatcher_RetriesTransientMailerFailure(t *testing.T) {
	env := newDispatcherEnv(t)
	seedCompleteSession(t, env.store, "s1")

	env.mailer.On("Send", mock.Anything, messageTagged("free-report")).
		Return(resilienceTransient()).Once()
	env.mailer.On("Send", mock.Anything, messageTagged("free-report")).Return(nil).Once()
	env.sheets.On("UpdateRow", mock.Anything, mock.MatchedBy(func(row sheets.Row) bool {
		return row.ReportSent
	})).Return(nil).Once()
	env.crm.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	env.dispatchAndWait(t, "s1", "alice@example.com")
	env.mailer.AssertExpectations(t)
}

// End to end: dispatch schedules the offer, and once the delay elapses the
// sweeper delivers it.
func TestDelivery_OfferFollowsReport(t *testing.T) {
	env := newDispatcherEnv(t)
	seedCompleteSession(t, env.store, "s1")

	// Submit "an hour ago" so the one-hour offer delay has already elapsed.
	env.d.now = func() time.Time { return time.Now().UTC().Add(-61 * time.Minute) }

	env.mailer.On("Send", mock.Anything, messageTagged("free-report")).Return(nil).Once()
	env.mailer.On("Send", mock.Anything, messageTagged("personal-offer")).Return(nil).Once()
	env.sheets.On("UpdateRow", mock.Anything, mock.Anything).Return(nil)
	env.crm.On("Notify", mock.Anything, mock.Anything).Return(nil)
	env.vision.On("Analyze", mock.Anything, mock.Anything).
		Return(visionText("A personal offer for your vase."), nil)

	env.dispatchAndWait(t, "s1", "alice@example.com")

	sender := NewOfferSender(env.store, shortWaiter(env.store), env.vision, env.mailer, env.journal)
	sweeper := NewSweeper(env.journal, sender, time.Minute)
	sent, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	env.mailer.AssertExpectations(t)
}

func resilienceTransient() error {
	return resilience.NewTransientError(assert.AnError, 503)
}
