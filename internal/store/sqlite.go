package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteJournal implements Journal using modernc.org/sqlite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteJournal{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL UNIQUE,
	email            TEXT NOT NULL,
	free_report_sent INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS offers (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL,
	due_at     DATETIME NOT NULL,
	sent_at    DATETIME,
	attempts   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_submissions_session_id ON submissions(session_id);
CREATE INDEX IF NOT EXISTS idx_offers_due_at ON offers(due_at) WHERE sent_at IS NULL;
`

func (s *SQLiteJournal) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func (s *SQLiteJournal) RecordSubmission(ctx context.Context, sessionID, email string) (*Submission, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	// A session submits once; a repeat submission updates the address.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, session_id, email, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET email = excluded.email`,
		id, sessionID, email, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert submission")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, email, free_report_sent, created_at FROM submissions WHERE session_id = ?`,
		sessionID,
	)
	return scanSubmission(row)
}

func (s *SQLiteJournal) MarkFreeReportSent(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET free_report_sent = 1 WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark free report sent %s", sessionID)
	}
	return checkRowsAffected(res, "submission", sessionID)
}

func (s *SQLiteJournal) ScheduleOffer(ctx context.Context, sessionID, email string, dueAt time.Time) (*Offer, error) {
	id := uuid.New().String()

	// Scheduling is idempotent per session: a duplicate keeps the original
	// due time so re-dispatching a session cannot postpone its offer.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offers (id, session_id, email, due_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET email = excluded.email`,
		id, sessionID, email, dueAt.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert offer")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, email, due_at, sent_at, attempts FROM offers WHERE session_id = ?`,
		sessionID,
	)
	return scanOffer(row)
}

func (s *SQLiteJournal) DueOffers(ctx context.Context, now time.Time) ([]Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, email, due_at, sent_at, attempts FROM offers
		 WHERE sent_at IS NULL AND due_at <= ? ORDER BY due_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query due offers")
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, eris.Wrap(rows.Err(), "sqlite: iterate due offers")
}

func (s *SQLiteJournal) MarkOfferSent(ctx context.Context, offerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		time.Now().UTC(), offerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark offer sent %s", offerID)
	}
	return checkRowsAffected(res, "offer", offerID)
}

func (s *SQLiteJournal) RecordOfferAttempt(ctx context.Context, offerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET attempts = attempts + 1 WHERE id = ?`,
		offerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record offer attempt %s", offerID)
	}
	return checkRowsAffected(res, "offer", offerID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var sent int
	err := row.Scan(&sub.ID, &sub.SessionID, &sub.Email, &sent, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan submission")
	}
	sub.FreeReportSent = sent != 0
	return &sub, nil
}

func scanOffer(row rowScanner) (*Offer, error) {
	var o Offer
	var sentAt sql.NullTime
	err := row.Scan(&o.ID, &o.SessionID, &o.Email, &o.DueAt, &sentAt, &o.Attempts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan offer")
	}
	if sentAt.Valid {
		t := sentAt.Time
		o.SentAt = &t
	}
	return &o, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}
