package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/internal/pipeline"
	"github.com/verity-group/appraisal-api/internal/resilience"
	"github.com/verity-group/appraisal-api/internal/store"
	"github.com/verity-group/appraisal-api/pkg/crm"
	"github.com/verity-group/appraisal-api/pkg/mailer"
	"github.com/verity-group/appraisal-api/pkg/sheets"
)

// Dispatcher runs the background delivery pipeline: after the submitting
// request has already been answered, it re-runs the coordinator, composes a
// report from whatever artifacts exist, and fans out to the delivery and
// logging channels. Its contract is runs-to-completion-or-logs-and-stops;
// nothing it does can surface an error to a caller, because there is none.
type Dispatcher struct {
	store      artifact.Store
	coord      *pipeline.Coordinator
	journal    store.Journal
	mailer     mailer.Client
	sheets     sheets.Client
	crm        crm.Notifier
	tracker    *Tracker
	offerDelay time.Duration
	now        func() time.Time
}

// NewDispatcher creates a Dispatcher. sheets and crm may be nil, disabling
// those side channels.
func NewDispatcher(
	st artifact.Store,
	coord *pipeline.Coordinator,
	journal store.Journal,
	mc mailer.Client,
	sc sheets.Client,
	notifier crm.Notifier,
	tracker *Tracker,
	offerDelay time.Duration,
) *Dispatcher {
	if offerDelay <= 0 {
		offerDelay = time.Hour
	}
	return &Dispatcher{
		store:      st,
		coord:      coord,
		journal:    journal,
		mailer:     mc,
		sheets:     sc,
		crm:        notifier,
		tracker:    tracker,
		offerDelay: offerDelay,
		now:        time.Now,
	}
}

// Dispatch spawns the delivery pipeline as a supervised background task.
// The provided context is only consulted for the spawned work's lifetime,
// not the originating request's: the caller's response has already gone out.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, email string) {
	d.tracker.Go("delivery:"+sessionID, func() {
		d.run(ctx, sessionID, email)
	})
}

func (d *Dispatcher) run(ctx context.Context, sessionID, email string) {
	log := zap.L().With(zap.String("session_id", sessionID))
	log.Info("delivery pipeline starting")

	submittedAt := d.now().UTC()
	branch(ctx, sessionID, "journal-submission", func(ctx context.Context) error {
		_, err := d.journal.RecordSubmission(ctx, sessionID, email)
		return err
	})

	// Step 1: bring the session as far along as it will go. Partial results
	// are accepted; missing artifacts become nil report sections.
	result, err := d.coord.Run(ctx, sessionID)
	if err != nil {
		log.Error("delivery stopped: coordinator run impossible", zap.Error(err))
		return
	}
	for _, stageErr := range result.Errors {
		log.Warn("delivery proceeding past stage failure",
			zap.String("stage", stageErr.Stage),
			zap.Error(stageErr.Err),
		)
	}

	// Step 2: compose and persist the report.
	report := ComposeReport(result, d.now())
	branch(ctx, sessionID, "report-artifact", func(ctx context.Context) error {
		return artifact.WriteJSON(ctx, d.store, sessionID, model.ArtifactReport, report)
	})

	// Step 3: fan out. Branches are independent; one failing never stops
	// the others.
	freeReportSent := branch(ctx, sessionID, "free-report", func(ctx context.Context) error {
		sendErr := resilience.Do(ctx, resilience.RetryConfig{
			MaxAttempts: 3,
			OnRetry:     resilience.RetryLogger("mailer", "free-report"),
		}, func(ctx context.Context) error {
			return d.mailer.Send(ctx, mailer.Message{
				To:       email,
				Subject:  "Your free appraisal report",
				TextBody: RenderFreeReport(report),
				Tag:      "free-report",
			})
		})
		if sendErr != nil {
			return sendErr
		}
		return d.journal.MarkFreeReportSent(ctx, sessionID)
	})

	offerScheduled := branch(ctx, sessionID, "schedule-offer", func(ctx context.Context) error {
		_, schedErr := d.journal.ScheduleOffer(ctx, sessionID, email, submittedAt.Add(d.offerDelay))
		return schedErr
	})

	if d.sheets != nil {
		branch(ctx, sessionID, "sheets-log", func(ctx context.Context) error {
			return d.sheets.UpdateRow(ctx, sheets.Row{
				SessionID:   sessionID,
				Email:       email,
				ImageURL:    report.ImageURL,
				Status:      string(sessionStateOf(result)),
				ReportSent:  freeReportSent,
				OfferSent:   false,
				SubmittedAt: submittedAt,
			})
		})
	}

	if d.crm != nil {
		branch(ctx, sessionID, "crm-notify", func(ctx context.Context) error {
			category := ""
			if report.Analysis != nil {
				category = report.Analysis.Category
			}
			return d.crm.Notify(ctx, crm.Notification{
				SessionID:   sessionID,
				Email:       email,
				Category:    category,
				Status:      string(sessionStateOf(result)),
				SubmittedAt: submittedAt,
			})
		})
	}

	log.Info("delivery pipeline finished",
		zap.Bool("free_report_sent", freeReportSent),
		zap.Bool("offer_scheduled", offerScheduled),
		zap.Int("stage_errors", len(result.Errors)),
	)
}

func sessionStateOf(res *model.RunResult) model.SessionState {
	if res.Complete() {
		return model.SessionComplete
	}
	return model.SessionProcessing
}
