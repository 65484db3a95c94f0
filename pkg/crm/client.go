// Package crm publishes structured session notifications to the Notion CRM
// database. Notifications are fire-and-forget from the pipeline's point of
// view: one page per submission, keyed by session ID.
package crm

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Notifier publishes session notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification summarizes one appraisal submission for the CRM.
type Notification struct {
	SessionID   string
	Email       string
	Category    string
	Status      string
	SubmittedAt time.Time
}

// Option configures the notifier.
type Option func(*notionNotifier)

// WithRateLimit overrides the default Notion rate limit (3 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *notionNotifier) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// pageCreator is the slice of the Notion API the notifier uses.
type pageCreator interface {
	Create(ctx context.Context, request *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// notionNotifier implements Notifier on top of the Notion pages API.
type notionNotifier struct {
	pages      pageCreator
	databaseID string
	limiter    *rate.Limiter
}

// NewNotifier creates a CRM notifier with the given integration token and
// target database. API calls are throttled to 3 req/s, Notion's rate limit.
func NewNotifier(token, databaseID string, opts ...Option) Notifier {
	c := &notionNotifier{
		pages:      notionapi.NewClient(notionapi.Token(token)).Page,
		databaseID: databaseID,
		limiter:    rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *notionNotifier) Notify(ctx context.Context, n Notification) error {
	if n.SessionID == "" {
		return eris.New("crm: session id is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "crm: rate limit")
		}
	}

	submittedAt := notionapi.Date(n.SubmittedAt)
	props := notionapi.Properties{
		"Session": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: n.SessionID}}},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: n.Status},
		},
		"Submitted": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &submittedAt},
		},
	}
	if n.Email != "" {
		props["Email"] = notionapi.EmailProperty{Email: n.Email}
	}
	if n.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: n.Category},
		}
	}

	_, err := c.pages.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.databaseID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrap(err, "crm: create page")
	}
	return nil
}
