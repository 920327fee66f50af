package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/pkg/bland"
	"github.com/sells-group/outreach-cli/pkg/mailer"

	"github.com/sells-group/outreach-cli/internal/leads"
	"github.com/sells-group/outreach-cli/internal/model"
)

// dispatch delivers the approved draft over the routed channel and records
// the outcome on the run. Dispatch failures mark the run failed; they never
// panic or roll back the approval.
func (p *Pipeline) dispatch(ctx context.Context, run *model.PipelineRun, log *zap.Logger) {
	var result *model.DispatchResult
	switch run.Channel {
	case model.ChannelCall:
		result = p.dispatchCall(ctx, run)
	case model.ChannelLinkedIn:
		result = p.dispatchLinkedIn(ctx, run)
	default:
		result = p.dispatchEmail(ctx, run)
	}

	run.Dispatch = result
	switch result.Status {
	case model.DispatchSent:
		run.Status = model.RunStatusDispatched
		run.Audit.Append("dispatcher", string(run.Channel)+" dispatched: "+result.Detail)
		log.Info("pipeline: dispatched",
			zap.String("channel", string(run.Channel)),
			zap.String("tracking_id", result.TrackingID),
			zap.String("provider_ref", result.ProviderRef),
		)
		p.recordOutreach(ctx, run)
	case model.DispatchSkipped:
		run.Status = model.RunStatusComplete
		run.Audit.Append("dispatcher", "dispatch skipped: "+result.Detail)
		log.Warn("pipeline: dispatch skipped", zap.String("detail", result.Detail))
	default:
		run.Status = model.RunStatusFailed
		run.Audit.Append("dispatcher", "dispatch failed: "+result.Detail)
		log.Error("pipeline: dispatch failed",
			zap.String("channel", string(run.Channel)),
			zap.String("detail", result.Detail),
		)
	}
}

// recordOutreach writes the touch back to the lead source when it supports
// write-back. Best effort: a CRM failure never affects the dispatched run.
func (p *Pipeline) recordOutreach(ctx context.Context, run *model.PipelineRun) {
	rec, ok := p.leads.(leads.Recorder)
	if !ok {
		return
	}
	email := p.targetEmail(run)
	if email == "" {
		return
	}
	if err := rec.RecordOutreach(ctx, email, run.Channel, p.now().UTC()); err != nil {
		zap.L().Warn("pipeline: failed to record outreach on lead source",
			zap.String("recipient", email),
			zap.Error(err),
		)
	}
}

// dispatchEmail sends the draft with a tracking pixel appended and schedules
// the follow-up cadence. The tracking record is written before the send so an
// open can never race an unknown id, and backed out again when the send
// fails so analytics only count delivered mail.
func (p *Pipeline) dispatchEmail(ctx context.Context, run *model.PipelineRun) *model.DispatchResult {
	recipient := p.targetEmail(run)
	if recipient == "" {
		return &model.DispatchResult{Status: model.DispatchSkipped, Detail: "no recipient email"}
	}

	now := p.now().UTC()
	rec := &model.TrackingRecord{
		ID:        model.NewTrackingID(recipient, run.Draft.Subject, now),
		Recipient: recipient,
		Subject:   run.Draft.Subject,
		Campaign:  run.Request.Campaign,
		SentAt:    now,
	}
	if err := p.store.CreateTrackingRecord(ctx, rec); err != nil {
		return &model.DispatchResult{Status: model.DispatchFailed, Detail: err.Error()}
	}

	body := run.Draft.Body + "\n\n" + model.TrackingPixelHTML(p.cfg.Server.PublicBaseURL, rec.ID)
	err := p.mailer.Send(ctx, mailer.Message{
		From:    p.cfg.SMTP.From,
		To:      recipient,
		Subject: run.Draft.Subject,
		Body:    body,
	})
	if err != nil {
		if delErr := p.store.DeleteTrackingRecord(ctx, rec.ID); delErr != nil {
			zap.L().Warn("pipeline: failed to back out tracking record",
				zap.String("tracking_id", rec.ID),
				zap.Error(delErr),
			)
		}
		return &model.DispatchResult{Status: model.DispatchFailed, Detail: err.Error()}
	}

	scheduled := p.scheduleFollowUps(ctx, rec, now)
	return &model.DispatchResult{
		Status:     model.DispatchSent,
		Detail:     "email sent to " + recipient,
		TrackingID: rec.ID,
		FollowUps:  scheduled,
	}
}

// scheduleFollowUps persists one pending follow-up per cadence template. A
// follow-up that fails to persist is logged and skipped; the send already
// happened and must not be reported as failed.
func (p *Pipeline) scheduleFollowUps(ctx context.Context, rec *model.TrackingRecord, sentAt time.Time) int {
	scheduled := 0
	for _, tmpl := range p.templates.Templates() {
		f := &model.FollowUp{
			ID:           uuid.New().String(),
			TrackingID:   rec.ID,
			Recipient:    rec.Recipient,
			ScheduledFor: sentAt.Add(time.Duration(tmpl.OffsetDays) * 24 * time.Hour),
			Template:     tmpl.Name,
			Status:       model.FollowUpPending,
		}
		if err := p.store.CreateFollowUp(ctx, f); err != nil {
			zap.L().Error("pipeline: failed to schedule follow-up",
				zap.String("tracking_id", rec.ID),
				zap.String("template", tmpl.Name),
				zap.Error(err),
			)
			continue
		}
		scheduled++
	}
	return scheduled
}

func (p *Pipeline) dispatchCall(ctx context.Context, run *model.PipelineRun) *model.DispatchResult {
	phone := p.targetPhone(run)
	if phone == "" {
		return &model.DispatchResult{Status: model.DispatchSkipped, Detail: "no recipient phone number"}
	}

	resp, err := p.bland.DispatchCall(ctx, bland.CallRequest{
		PhoneNumber: phone,
		Task:        run.Draft.Body,
		Voice:       p.cfg.Bland.Voice,
		Record:      true,
		MaxDuration: p.cfg.Bland.MaxDurationSecs,
		Language:    p.cfg.Bland.Language,
	})
	if err != nil {
		return &model.DispatchResult{Status: model.DispatchFailed, Detail: err.Error()}
	}
	return &model.DispatchResult{
		Status:      model.DispatchSent,
		Detail:      fmt.Sprintf("call dispatched to %s (%s)", phone, resp.Status),
		ProviderRef: resp.CallID,
	}
}

func (p *Pipeline) dispatchLinkedIn(ctx context.Context, run *model.PipelineRun) *model.DispatchResult {
	if !p.cred.Valid(p.now()) {
		return &model.DispatchResult{Status: model.DispatchSkipped, Detail: "linkedin credential missing or expired"}
	}

	postID, err := p.linkedin.CreatePost(ctx, p.cred, run.Draft.Body)
	if err != nil {
		return &model.DispatchResult{Status: model.DispatchFailed, Detail: err.Error()}
	}
	return &model.DispatchResult{
		Status:      model.DispatchSent,
		Detail:      "linkedin post published",
		ProviderRef: postID,
	}
}
