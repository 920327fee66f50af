// Package pipeline orchestrates one outreach run: classification, ICP
// matching, channel routing, content generation, the approval gate and
// dispatch. Every LLM-backed stage degrades to a deterministic fallback, so a
// run always reaches the gate with something reviewable.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/leads"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/registry"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/bland"
	"github.com/sells-group/outreach-cli/pkg/linkedin"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

// Pipeline orchestrates the outreach stages for a single request.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	anthropic anthropic.Client
	leads     leads.Source
	mailer    mailer.Transport
	bland     bland.Client
	linkedin  linkedin.Client
	cred      linkedin.Credential
	templates *registry.Registry
	now       func() time.Time
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	aiClient anthropic.Client,
	leadSource leads.Source,
	mailTransport mailer.Transport,
	blandClient bland.Client,
	linkedinClient linkedin.Client,
	cred linkedin.Credential,
	templates *registry.Registry,
) *Pipeline {
	if templates == nil {
		templates = registry.Defaults()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		anthropic: aiClient,
		leads:     leadSource,
		mailer:    mailTransport,
		bland:     blandClient,
		linkedin:  linkedinClient,
		cred:      cred,
		templates: templates,
		now:       time.Now,
	}
}

// Run executes the pipeline for one request up to the approval gate. With
// auto-approve enabled the run continues straight through dispatch; otherwise
// it suspends as awaiting_approval and Resume picks it up later.
func (p *Pipeline) Run(ctx context.Context, req model.Request) (*model.PipelineRun, error) {
	req.Urgency = model.ParseUrgency(string(req.Urgency))
	if req.Campaign == "" {
		req.Campaign = p.cfg.Pipeline.DefaultCampaign
	}

	now := p.now().UTC()
	run := &model.PipelineRun{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	run.Audit.Append("pipeline", "run created")

	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("campaign", req.Campaign))
	log.Info("pipeline: starting run", zap.String("objective", req.Objective))

	p.executeStages(ctx, run, log)

	if run.Draft == nil || run.Draft.Status != model.DraftGenerated {
		// Nothing dispatchable; finish the run without suspending at the gate.
		run.Status = model.RunStatusComplete
		run.Dispatch = &model.DispatchResult{Status: model.DispatchSkipped, Detail: "no dispatchable draft"}
		run.Audit.Append("pipeline", "run finished without dispatchable draft")
		p.persist(ctx, run, log)
		return run, nil
	}

	if p.cfg.Pipeline.AutoApprove {
		run.Audit.Append("governance", "auto-approved by configuration")
		p.dispatch(ctx, run, log)
		p.persist(ctx, run, log)
		return run, nil
	}

	run.Status = model.RunStatusAwaitingApproval
	run.Audit.Append("governance", "suspended awaiting human approval")
	log.Info("pipeline: awaiting approval", zap.String("channel", string(run.Channel)))
	p.persist(ctx, run, log)
	return run, nil
}

// Resume applies an approval decision to a suspended run and, when approved,
// dispatches the draft. Only awaiting_approval runs can be resumed.
func (p *Pipeline) Resume(ctx context.Context, runID string, decision model.ApprovalDecision) (*model.PipelineRun, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load run")
	}
	if run.Status != model.RunStatusAwaitingApproval {
		return nil, eris.Errorf("pipeline: run %s is %s, not awaiting approval", runID, run.Status)
	}

	log := zap.L().With(zap.String("run_id", run.ID))
	actor := decision.Actor
	if actor == "" {
		actor = "human"
	}

	if !decision.Approved {
		run.Status = model.RunStatusRejected
		run.Dispatch = &model.DispatchResult{Status: model.DispatchSkipped, Detail: "rejected at approval gate"}
		run.Audit.Append(actor, "rejected: "+decision.Note)
		log.Info("pipeline: run rejected", zap.String("actor", actor))
		p.persist(ctx, run, log)
		return run, nil
	}

	run.Audit.Append(actor, "approved: "+decision.Note)
	p.dispatch(ctx, run, log)
	p.persist(ctx, run, log)
	return run, nil
}

// executeStages runs classification through generation, recording one typed
// StageResult per stage. Stage errors never abort the run; the stage falls
// back and the run carries on.
func (p *Pipeline) executeStages(ctx context.Context, run *model.PipelineRun, log *zap.Logger) {
	trackStage := func(name string, fn func() (model.StageStatus, error)) {
		start := p.now()
		status, err := fn()
		sr := model.StageResult{
			Name:     name,
			Status:   status,
			Duration: time.Since(start).Milliseconds(),
		}
		if err != nil {
			sr.Error = err.Error()
			log.Warn("pipeline: stage degraded",
				zap.String("stage", name),
				zap.String("status", string(status)),
				zap.Error(err),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.String("status", string(status)),
				zap.Int64("duration_ms", sr.Duration),
			)
		}
		run.Stages = append(run.Stages, sr)
	}

	trackStage("classify", func() (model.StageStatus, error) {
		return p.classify(ctx, run)
	})
	trackStage("match_icp", func() (model.StageStatus, error) {
		return p.matchICP(ctx, run)
	})
	trackStage("route", func() (model.StageStatus, error) {
		return p.route(ctx, run)
	})
	trackStage("generate", func() (model.StageStatus, error) {
		return p.generate(ctx, run)
	})

	run.ExecutionStatus = executionStatus(run.Stages)
}

// executionStatus summarizes stage health for the run record.
func executionStatus(stages []model.StageResult) string {
	degraded := false
	for _, s := range stages {
		switch s.Status {
		case model.StageStatusFailed:
			return "degraded"
		case model.StageStatusFallback:
			degraded = true
		}
	}
	if degraded {
		return "completed_with_fallbacks"
	}
	return "completed"
}

// persist writes the run back, logging rather than failing on store errors:
// the caller already holds the authoritative in-memory state.
func (p *Pipeline) persist(ctx context.Context, run *model.PipelineRun, log *zap.Logger) {
	if err := p.store.UpdateRun(ctx, run); err != nil {
		log.Error("pipeline: failed to persist run", zap.Error(err))
	}
}

// ask performs one LLM call with the configured model, timeout and retry
// policy, returning the first text block.
func (p *Pipeline) ask(ctx context.Context, stage, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Anthropic.Timeout())
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = p.cfg.Anthropic.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", stage)

	resp, err := resilience.DoVal(callCtx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     p.cfg.Anthropic.Model,
			MaxTokens: p.cfg.Anthropic.MaxTokens,
			System:    system,
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogUsage(p.cfg.Anthropic.Model, stage)

	text := resp.FirstText()
	if text == "" {
		return "", eris.Errorf("pipeline: %s returned empty response", stage)
	}
	return text, nil
}
