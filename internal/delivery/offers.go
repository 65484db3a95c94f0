package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verity-group/appraisal-api/internal/artifact"
	"github.com/verity-group/appraisal-api/internal/model"
	"github.com/verity-group/appraisal-api/internal/pipeline"
	"github.com/verity-group/appraisal-api/internal/store"
	"github.com/verity-group/appraisal-api/pkg/mailer"
	"github.com/verity-group/appraisal-api/pkg/vision"
)

// premiumData is the premium-data artifact payload: the generated personal
// offer, persisted so a re-send never re-generates it.
type premiumData struct {
	OfferText   string    `json:"offerText"`
	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generatedAt"`
}

const degradedOfferText = `We are still completing the detailed analysis of your
item. In the meantime, our appraisers would love to take a closer look: reply
to this email to arrange a personal appraisal consultation.`

// OfferSender composes and sends the delayed personal-offer email for one
// scheduled offer. The richer content depends on the detailed-analysis
// artifact; when that never materializes within the wait bound the offer is
// sent with degraded content rather than dropped.
type OfferSender struct {
	store   artifact.Store
	waiter  *pipeline.Waiter
	vision  vision.Client
	mailer  mailer.Client
	journal store.Journal
}

// NewOfferSender creates an OfferSender.
func NewOfferSender(st artifact.Store, waiter *pipeline.Waiter, vc vision.Client, mc mailer.Client, journal store.Journal) *OfferSender {
	return &OfferSender{store: st, waiter: waiter, vision: vc, mailer: mc, journal: journal}
}

// Send delivers one due offer. Only the final mailer send failing leaves the
// offer pending for the next sweep; content degradation does not.
func (s *OfferSender) Send(ctx context.Context, offer store.Offer) error {
	log := zap.L().With(zap.String("session_id", offer.SessionID), zap.String("offer_id", offer.ID))
	if err := s.journal.RecordOfferAttempt(ctx, offer.ID); err != nil {
		log.Warn("failed to record offer attempt", zap.Error(err))
	}

	text, degraded := s.composeOffer(ctx, offer.SessionID)
	if degraded {
		log.Warn("sending personal offer with degraded content")
	}

	if err := s.mailer.Send(ctx, mailer.Message{
		To:       offer.Email,
		Subject:  "A personal offer for your appraised item",
		TextBody: text,
		Tag:      "personal-offer",
	}); err != nil {
		return err
	}
	return s.journal.MarkOfferSent(ctx, offer.ID)
}

// composeOffer builds the offer text: previously generated premium data is
// reused; otherwise the detailed analysis is awaited, a prompt composed from
// whatever fields it has, and the text generated. Every failure path ends in
// the degraded fallback, never in a lost email.
func (s *OfferSender) composeOffer(ctx context.Context, sessionID string) (string, bool) {
	var premium premiumData
	if err := artifact.ReadInto(ctx, s.store, sessionID, model.ArtifactPremiumData, &premium); err == nil && premium.OfferText != "" {
		return premium.OfferText, premium.Degraded
	}

	text, degraded := s.generateOffer(ctx, sessionID)

	write := artifact.WriteJSON(ctx, s.store, sessionID, model.ArtifactPremiumData, premiumData{
		OfferText:   text,
		Degraded:    degraded,
		GeneratedAt: time.Now().UTC(),
	})
	if write != nil {
		zap.L().Warn("failed to persist premium data", zap.String("session_id", sessionID), zap.Error(write))
	}
	return text, degraded
}

func (s *OfferSender) generateOffer(ctx context.Context, sessionID string) (string, bool) {
	raw, err := s.waiter.Wait(ctx, sessionID, model.ArtifactDetailed)
	if err != nil {
		if !errors.Is(err, pipeline.ErrWaitTimeout) {
			zap.L().Warn("offer: detailed analysis unavailable", zap.String("session_id", sessionID), zap.Error(err))
		}
		return degradedOfferText, true
	}

	var detailed model.DetailedResult
	if err := json.Unmarshal(raw, &detailed); err != nil {
		return degradedOfferText, true
	}

	resp, err := s.vision.Analyze(ctx, vision.AnalysisRequest{
		Prompt: offerPrompt(&detailed),
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		zap.L().Warn("offer: generation failed, using fallback", zap.String("session_id", sessionID), zap.Error(err))
		return degradedOfferText, true
	}
	return resp.Text, false
}

// offerPrompt composes the generation prompt from whatever detailed fields
// exist; absent fields are simply omitted.
func offerPrompt(d *model.DetailedResult) string {
	var b strings.Builder
	b.WriteString("Write a short, warm email offering a premium personal appraisal consultation for the item described below. Plain text only, no subject line.\n\n")
	for _, f := range []struct{ label, value string }{
		{"Title", d.Title},
		{"Description", d.Description},
		{"Materials", d.Materials},
		{"Condition", d.Condition},
		{"Maker", d.Maker},
		{"Era", d.Era},
	} {
		if f.value != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
		}
	}
	return b.String()
}

// Sweeper periodically delivers due offers from the journal. Running it at
// startup re-arms offers scheduled before a restart.
type Sweeper struct {
	journal  store.Journal
	sender   *OfferSender
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper over the journal.
func NewSweeper(journal store.Journal, sender *OfferSender, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{journal: journal, sender: sender, interval: interval, now: time.Now}
}

// Run sweeps until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		if n, err := sw.SweepOnce(ctx); err != nil {
			zap.L().Error("offer sweep failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("offer sweep complete", zap.Int("sent", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce sends every due offer and returns how many were delivered. One
// offer failing does not stop the rest.
func (sw *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := sw.journal.DueOffers(ctx, sw.now())
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, offer := range due {
		if ok := branch(ctx, offer.SessionID, "personal-offer", func(ctx context.Context) error {
			return sw.sender.Send(ctx, offer)
		}); ok {
			sent++
		}
	}
	return sent, nil
}
