package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() }) //nolint:errcheck
	require.NoError(t, j.Migrate(context.Background()))
	return j
}

// --- Submissions ---

func TestJournal_RecordSubmission(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	sub, err := j.RecordSubmission(ctx, "s1", "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "s1", sub.SessionID)
	assert.Equal(t, "alice@example.com", sub.Email)
	assert.False(t, sub.FreeReportSent)
}

func TestJournal_RepeatSubmissionUpdatesEmail(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	first, err := j.RecordSubmission(ctx, "s1", "alice@example.com")
	require.NoError(t, err)

	second, err := j.RecordSubmission(ctx, "s1", "alice@new.example.com")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "one row per session")
	assert.Equal(t, "alice@new.example.com", second.Email)
}

func TestJournal_MarkFreeReportSent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.RecordSubmission(ctx, "s1", "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, j.MarkFreeReportSent(ctx, "s1"))

	sub, err := j.RecordSubmission(ctx, "s1", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, sub.FreeReportSent)
}

func TestJournal_MarkFreeReportSent_Missing(t *testing.T) {
	j := newTestJournal(t)
	err := j.MarkFreeReportSent(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

// --- Offers ---

func TestJournal_ScheduleOffer(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(time.Hour)

	offer, err := j.ScheduleOffer(ctx, "s1", "alice@example.com", due)
	require.NoError(t, err)
	assert.NotEmpty(t, offer.ID)
	assert.Equal(t, "s1", offer.SessionID)
	assert.Nil(t, offer.SentAt)
	assert.Zero(t, offer.Attempts)
	assert.WithinDuration(t, due, offer.DueAt, time.Second)
}

func TestJournal_RescheduleKeepsOriginalDueTime(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	firstDue := time.Now().UTC().Add(time.Hour)

	first, err := j.ScheduleOffer(ctx, "s1", "alice@example.com", firstDue)
	require.NoError(t, err)

	// A re-dispatched session must not postpone its offer.
	second, err := j.ScheduleOffer(ctx, "s1", "alice@example.com", firstDue.Add(3*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.WithinDuration(t, firstDue, second.DueAt, time.Second)
}

func TestJournal_DueOffers(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := j.ScheduleOffer(ctx, "past", "a@example.com", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = j.ScheduleOffer(ctx, "future", "b@example.com", now.Add(time.Hour))
	require.NoError(t, err)

	due, err := j.DueOffers(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "past", due[0].SessionID)
}

func TestJournal_SentOffersStayDelivered(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Now().UTC()

	offer, err := j.ScheduleOffer(ctx, "s1", "a@example.com", now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, j.MarkOfferSent(ctx, offer.ID))

	due, err := j.DueOffers(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Marking twice reports the already-sent state instead of resending.
	err = j.MarkOfferSent(ctx, offer.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_RecordOfferAttempt(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	offer, err := j.ScheduleOffer(ctx, "s1", "a@example.com", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, j.RecordOfferAttempt(ctx, offer.ID))
	require.NoError(t, j.RecordOfferAttempt(ctx, offer.ID))

	due, err := j.DueOffers(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)
}

func TestJournal_OffersSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	j, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Migrate(ctx))
	_, err = j.ScheduleOffer(ctx, "s1", "a@example.com", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck
	require.NoError(t, reopened.Migrate(ctx))

	due, err := reopened.DueOffers(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s1", due[0].SessionID)
}
