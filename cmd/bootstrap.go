package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/delivery"
	"github.com/verity-group/appraisal-api/internal/pipeline"
	"github.com/verity-group/appraisal-api/internal/store"
	"github.com/verity-group/appraisal-api/pkg/crm"
	"github.com/verity-group/appraisal-api/pkg/mailer"
	"github.com/verity-group/appraisal-api/pkg/sheets"
	"github.com/verity-group/appraisal-api/pkg/vision"
)

// appEnv holds the initialized store, clients, and pipeline components used
// by the serve/appraise/status/offers commands.
type appEnv struct {
	Artifacts  artifact.Store
	Journal    store.Journal
	Invoker    *pipeline.Invoker
	Waiter     *pipeline.Waiter
	Coord      *pipeline.Coordinator
	Status     *pipeline.Aggregator
	Tracker    *delivery.Tracker
	Dispatcher *delivery.Dispatcher
	Sweeper    *delivery.Sweeper
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Journal != nil {
		_ = e.Journal.Close()
	}
}

// initEnv sets up the artifact store, journal, API clients, and all pipeline
// components. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	artifacts, err := initArtifactStore()
	if err != nil {
		return nil, err
	}

	journal, err := store.NewSQLite(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	if err := journal.Migrate(ctx); err != nil {
		_ = journal.Close()
		return nil, eris.Wrap(err, "migrate journal")
	}

	visionClient := vision.NewClient(vision.Config{
		Key:            cfg.Vision.Key,
		Model:          cfg.Vision.Model,
		MaxTokens:      cfg.Vision.MaxTokens,
		RequestsPerMin: cfg.Vision.RequestsPerMin,
	})
	mailerClient := mailer.NewClient(cfg.Mailer.Key, cfg.Mailer.BaseURL, cfg.Mailer.FromName, cfg.Mailer.FromEmail)

	// Spreadsheet log and CRM channel are optional side channels.
	var sheetsClient sheets.Client
	if cfg.Sheets.SpreadsheetID != "" {
		sheetsClient = sheets.NewClient(cfg.Sheets.Key, cfg.Sheets.BaseURL, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName)
	} else {
		zap.L().Debug("APPRAISE_SHEETS_SPREADSHEET_ID not set, spreadsheet log disabled")
	}
	var notifier crm.Notifier
	if cfg.CRM.Token != "" {
		notifier = crm.NewNotifier(cfg.CRM.Token, cfg.CRM.DatabaseID)
	} else {
		zap.L().Debug("APPRAISE_CRM_TOKEN not set, CRM notifications disabled")
	}

	stageTimeout := cfg.Vision.StageTimeout()
	invoker := pipeline.NewInvoker(artifacts, pipeline.Stages(visionClient), stageTimeout)
	waiter := pipeline.NewWaiter(artifacts, cfg.Pipeline.WaitMaxRetries, cfg.Pipeline.WaitDelay())
	trigger := pipeline.NewHTTPTrigger(cfg.Pipeline.SelfBaseURL)
	coord := pipeline.NewCoordinator(artifacts, invoker, waiter, trigger)

	tracker := delivery.NewTracker()
	dispatcher := delivery.NewDispatcher(artifacts, coord, journal, mailerClient, sheetsClient, notifier, tracker, cfg.Delivery.OfferDelay())
	sender := delivery.NewOfferSender(artifacts, waiter, visionClient, mailerClient, journal)
	sweeper := delivery.NewSweeper(journal, sender, cfg.Delivery.SweepInterval())

	return &appEnv{
		Artifacts:  artifacts,
		Journal:    journal,
		Invoker:    invoker,
		Waiter:     waiter,
		Coord:      coord,
		Status:     pipeline.NewAggregator(artifacts),
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
	}, nil
}

func initArtifactStore() (artifact.Store, error) {
	switch cfg.Artifact.Backend {
	case "memory":
		zap.L().Warn("using in-memory artifact store, sessions will not survive restarts")
		return artifact.NewMemoryStore(), nil
	case "s3", "":
		return artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
	default:
		return nil, eris.Errorf("unknown artifact backend %q", cfg.Artifact.Backend)
	}
}
