package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a journal row does not exist.
var ErrNotFound = errors.New("journal row not found")

// Submission is one email submission for a session.
type Submission struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Email          string    `json:"email"`
	FreeReportSent bool      `json:"free_report_sent"`
	CreatedAt      time.Time `json:"created_at"`
}

// Offer is a scheduled personal-offer email. Offers survive restarts: the
// sweeper re-arms pending rows on startup, so a crash delays delivery rather
// than losing it.
type Offer struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Email     string     `json:"email"`
	DueAt     time.Time  `json:"due_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Attempts  int        `json:"attempts"`
}

// Journal is the local persistence for delivery state. The artifact store
// owns all analysis output; the journal owns only what the delivery pipeline
// must not lose to a restart.
type Journal interface {
	RecordSubmission(ctx context.Context, sessionID, email string) (*Submission, error)
	MarkFreeReportSent(ctx context.Context, sessionID string) error

	ScheduleOffer(ctx context.Context, sessionID, email string, dueAt time.Time) (*Offer, error)
	DueOffers(ctx context.Context, now time.Time) ([]Offer, error)
	MarkOfferSent(ctx context.Context, offerID string) error
	RecordOfferAttempt(ctx context.Context, offerID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
