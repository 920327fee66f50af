// Package scheduler runs the follow-up poller: it wakes on an interval,
// claims due follow-ups and sends generated follow-up emails. A follow-up
// that cannot be sent stays pending and is retried on a later wake; it is
// never dropped.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/registry"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

const followUpSystemPrompt = `You are an expert B2B sales copywriter writing a follow-up email in an existing thread. Start with a subject line in the form "Subject: ..." on its own line, then the body. Keep the body under 100 words. Reference the earlier email naturally without quoting it. No placeholder brackets.`

const defaultFollowUpSubject = "Following up on our previous email"

// Scheduler polls for due follow-ups and dispatches them.
type Scheduler struct {
	cfg       *config.Config
	store     store.Store
	anthropic anthropic.Client
	mailer    mailer.Transport
	templates *registry.Registry
	limiter   *rate.Limiter
	now       func() time.Time
}

// New creates a Scheduler.
func New(
	cfg *config.Config,
	st store.Store,
	aiClient anthropic.Client,
	mailTransport mailer.Transport,
	templates *registry.Registry,
) *Scheduler {
	if templates == nil {
		templates = registry.Defaults()
	}
	rps := cfg.Scheduler.DispatchRatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		anthropic: aiClient,
		mailer:    mailTransport,
		templates: templates,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		now:       time.Now,
	}
}

// Run polls until the context is cancelled. One pass executes immediately;
// subsequent passes follow the configured wake interval.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.Scheduler.WakeInterval()
	if interval <= 0 {
		interval = time.Hour
	}
	zap.L().Info("scheduler: started", zap.Duration("wake_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.ProcessDue(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("scheduler: stopping")
			return ctx.Err()
		case <-ticker.C:
			s.ProcessDue(ctx)
		}
	}
}

// ProcessDue handles every follow-up currently due. Errors are logged per
// follow-up and never escape a wake.
func (s *Scheduler) ProcessDue(ctx context.Context) {
	now := s.now().UTC()
	due, err := s.store.DueFollowUps(ctx, now)
	if err != nil {
		zap.L().Error("scheduler: failed to list due follow-ups", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	zap.L().Info("scheduler: processing due follow-ups", zap.Int("count", len(due)))

	for _, f := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.processOne(ctx, f); err != nil {
			zap.L().Warn("scheduler: follow-up stays pending",
				zap.String("follow_up_id", f.ID),
				zap.String("template", f.Template),
				zap.Error(err),
			)
		}
	}
}

// processOne generates and sends a single follow-up. The send carries the
// follow-up's deterministic dedupe key as its Message-ID, and the pending to
// sent transition is a conditional claim, so a concurrent or repeated wake
// cannot produce a second distinct send.
func (s *Scheduler) processOne(ctx context.Context, f model.FollowUp) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "scheduler: rate limit")
	}

	rec, err := s.store.GetTrackingRecord(ctx, f.TrackingID)
	if err != nil {
		return eris.Wrap(err, "scheduler: load tracking record")
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.Scheduler.DispatchTimeout())
	defer cancel()

	subject, body, err := s.generate(dispatchCtx, f, rec)
	if err != nil {
		return eris.Wrap(err, "scheduler: generate follow-up")
	}

	body += "\n\n" + model.TrackingPixelHTML(s.cfg.Server.PublicBaseURL, rec.ID)
	err = s.mailer.Send(dispatchCtx, mailer.Message{
		From:      s.cfg.SMTP.From,
		To:        f.Recipient,
		Subject:   subject,
		Body:      body,
		DedupeKey: f.DedupeKey(),
	})
	if err != nil {
		return eris.Wrap(err, "scheduler: send follow-up")
	}

	claimed, err := s.store.MarkFollowUpSent(ctx, f.ID, s.now().UTC())
	if err != nil {
		return eris.Wrap(err, "scheduler: mark sent")
	}
	if !claimed {
		zap.L().Warn("scheduler: follow-up already claimed by another wake",
			zap.String("follow_up_id", f.ID))
		return nil
	}

	zap.L().Info("scheduler: follow-up sent",
		zap.String("follow_up_id", f.ID),
		zap.String("template", f.Template),
		zap.String("recipient", f.Recipient),
		zap.String("tracking_id", f.TrackingID),
	)
	return nil
}

// generate produces the follow-up subject and body from the template
// guidance and the original email's tracking record.
func (s *Scheduler) generate(ctx context.Context, f model.FollowUp, rec *model.TrackingRecord) (string, string, error) {
	guidance := "A brief, polite follow-up to the earlier email."
	if tmpl, ok := s.templates.Lookup(f.Template); ok {
		guidance = tmpl.Guidance
	}

	user := fmt.Sprintf(`Original email subject: %s
Original campaign: %s
Recipient: %s
Days since original send: %d
Follow-up intent: %s`,
		rec.Subject, rec.Campaign, f.Recipient,
		int(s.now().UTC().Sub(rec.SentAt).Hours()/24), guidance,
	)

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = s.cfg.Anthropic.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "follow_up")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.cfg.Anthropic.Model,
			MaxTokens: s.cfg.Anthropic.MaxTokens,
			System:    followUpSystemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
	})
	if err != nil {
		return "", "", err
	}

	text := resp.FirstText()
	if text == "" {
		return "", "", eris.New("scheduler: empty follow-up response")
	}

	subject, body := pipeline.ExtractSubject(text)
	if subject == "" {
		subject = defaultFollowUpSubject
	}
	return subject, body, nil
}
