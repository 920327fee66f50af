package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/bland"
	"github.com/sells-group/outreach-cli/pkg/linkedin"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

func emailRequest() model.Request {
	return model.Request{
		Objective: "introduce our analytics platform to engineering leaders",
		Intent:    "book discovery meetings",
		Urgency:   model.UrgencyMedium,
		Campaign:  "q3-analytics",
	}
}

func TestRun_SuspendsAtApprovalGate(t *testing.T) {
	env := newTestEnv(t, nil)
	stubHappyStages(env)

	run, err := env.pipeline.Run(context.Background(), emailRequest())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusAwaitingApproval, run.Status)
	assert.Equal(t, model.ChannelEmail, run.Channel)
	require.NotNil(t, run.Draft)
	assert.Equal(t, model.DraftGenerated, run.Draft.Status)
	assert.Equal(t, "Ship faster with less sprawl", run.Draft.Subject)
	assert.NotContains(t, run.Draft.Body, "Subject:")
	assert.Equal(t, "completed", run.ExecutionStatus)
	assert.True(t, run.Audit.Verify())

	// Nothing is sent until a decision arrives.
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// The suspended state is persisted, ready for Resume.
	stored, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAwaitingApproval, stored.Status)
	require.NotNil(t, stored.Draft)
	assert.Equal(t, run.Draft.Body, stored.Draft.Body)
}

func TestResume_ApproveDispatchesEmailWithTrackingAndFollowUps(t *testing.T) {
	env := newTestEnv(t, nil)
	stubHappyStages(env)

	var sent mailer.Message
	env.mailer.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(mailer.Message) }).
		Return(nil)

	ctx := context.Background()
	run, err := env.pipeline.Run(ctx, emailRequest())
	require.NoError(t, err)

	approvedAt := time.Now().UTC()
	resumed, err := env.pipeline.Resume(ctx, run.ID, model.ApprovalDecision{Approved: true, Actor: "reviewer@sells.example"})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusDispatched, resumed.Status)
	require.NotNil(t, resumed.Dispatch)
	assert.Equal(t, model.DispatchSent, resumed.Dispatch.Status)
	assert.Equal(t, 3, resumed.Dispatch.FollowUps)
	require.NotEmpty(t, resumed.Dispatch.TrackingID)

	// The sent body carries the invisible pixel pointing at this tracking id.
	assert.Equal(t, "dana@northwind.example", sent.To)
	assert.Contains(t, sent.Body, "/track/"+resumed.Dispatch.TrackingID+".png")
	assert.Contains(t, sent.Body, `width="1" height="1"`)

	rec, err := env.store.GetTrackingRecord(ctx, resumed.Dispatch.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, "dana@northwind.example", rec.Recipient)
	assert.Equal(t, 0, rec.OpenCount)

	// Cadence lands at exactly 3, 7 and 14 days after the send.
	due, err := env.store.DueFollowUps(ctx, approvedAt.Add(15*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 3)
	for i, offsetDays := range []int{3, 7, 14} {
		expect := rec.SentAt.Add(time.Duration(offsetDays) * 24 * time.Hour)
		assert.WithinDuration(t, expect, due[i].ScheduledFor, time.Second)
		assert.Equal(t, model.FollowUpPending, due[i].Status)
	}
	assert.Equal(t, "gentle_reminder", due[0].Template)
	assert.Equal(t, "case_study", due[1].Template)
	assert.Equal(t, "final_opportunity", due[2].Template)

	assert.True(t, resumed.Audit.Verify())
}

func TestDispatch_WritesOutreachBackToLeadSource(t *testing.T) {
	env := newTestEnv(t, autoApprove)
	src := &recordingLeads{Static: testLeads()}
	env.pipeline.leads = src
	stubHappyStages(env)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	run, err := env.pipeline.Run(context.Background(), emailRequest())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDispatched, run.Status)

	require.Len(t, src.recorded, 1)
	assert.Equal(t, "dana@northwind.example/email", src.recorded[0])
}

func TestRun_FollowUpCadenceFromConfiguredOffsets(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		autoApprove(cfg)
		cfg.Scheduler.FollowUpOffsetDays = []int{1}
	})
	stubHappyStages(env)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	run, err := env.pipeline.Run(ctx, emailRequest())
	require.NoError(t, err)

	require.NotNil(t, run.Dispatch)
	assert.Equal(t, model.DispatchSent, run.Dispatch.Status)
	assert.Equal(t, 1, run.Dispatch.FollowUps)

	rec, err := env.store.GetTrackingRecord(ctx, run.Dispatch.TrackingID)
	require.NoError(t, err)

	// One follow-up, one day out, not the default three-touch cadence.
	due, err := env.store.DueFollowUps(ctx, time.Now().Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.WithinDuration(t, rec.SentAt.Add(24*time.Hour), due[0].ScheduledFor, time.Second)
	assert.Equal(t, "gentle_reminder", due[0].Template)
}

func TestResume_RejectSkipsDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	stubHappyStages(env)

	ctx := context.Background()
	run, err := env.pipeline.Run(ctx, emailRequest())
	require.NoError(t, err)

	resumed, err := env.pipeline.Resume(ctx, run.ID, model.ApprovalDecision{
		Approved: false,
		Actor:    "reviewer@sells.example",
		Note:     "tone is off for this segment",
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusRejected, resumed.Status)
	require.NotNil(t, resumed.Dispatch)
	assert.Equal(t, model.DispatchSkipped, resumed.Dispatch.Status)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// A rejected run is terminal; a second decision is refused.
	_, err = env.pipeline.Resume(ctx, run.ID, model.ApprovalDecision{Approved: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting approval")
}

func TestResume_UnknownRun(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipeline.Resume(context.Background(), "nonexistent", model.ApprovalDecision{Approved: true})
	require.Error(t, err)
}

func TestRun_AutoApproveDispatchesInline(t *testing.T) {
	env := newTestEnv(t, autoApprove)
	stubHappyStages(env)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	run, err := env.pipeline.Run(context.Background(), emailRequest())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusDispatched, run.Status)
	assert.Equal(t, model.DispatchSent, run.Dispatch.Status)

	joined := strings.Join(run.Audit.Strings(), "\n")
	assert.Contains(t, joined, "auto-approved by configuration")
}

func TestRun_AllModelFailuresStillCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("api unavailable"))

	run, err := env.pipeline.Run(context.Background(), emailRequest())
	require.NoError(t, err)

	// Deterministic fallbacks carry the run to a terminal state.
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "Enterprise SaaS Outreach", run.Classification)
	require.NotNil(t, run.ICP)
	assert.Equal(t, model.ChannelEmail, run.Channel)
	require.NotNil(t, run.Draft)
	assert.Equal(t, model.DraftFailed, run.Draft.Status)
	require.NotNil(t, run.Dispatch)
	assert.Equal(t, model.DispatchSkipped, run.Dispatch.Status)
	assert.Equal(t, "degraded", run.ExecutionStatus)

	require.Len(t, run.Stages, 4)
	assert.Equal(t, model.StageStatusFallback, run.Stages[0].Status)
	assert.Equal(t, model.StageStatusFallback, run.Stages[1].Status)
	assert.Equal(t, model.StageStatusFallback, run.Stages[2].Status)
	assert.Equal(t, model.StageStatusFailed, run.Stages[3].Status)
	assert.True(t, run.Audit.Verify())
}

func TestDispatch_CallChannel(t *testing.T) {
	env := newTestEnv(t, autoApprove)
	onStage(env.ai, classifySystemPrompt).Return(textResponse("Enterprise SaaS Outreach"), nil)
	onStage(env.ai, icpSystemPrompt).Return(textResponse(testICPJSON), nil)
	onStage(env.ai, callSystemPrompt).Return(textResponse("Hi, this is Jordan from Sells Group calling about release velocity."), nil)

	env.bland.On("DispatchCall", mock.Anything, mock.MatchedBy(func(req bland.CallRequest) bool {
		return req.PhoneNumber == "+15550002222" && req.Voice == "maya"
	})).Return(&bland.CallResponse{CallID: "call-123", Status: "queued"}, nil)

	req := emailRequest()
	req.Objective = "call the prospect about the analytics platform"
	req.TargetPhone = "+15550002222"

	run, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.ChannelCall, run.Channel)
	assert.Equal(t, model.RunStatusDispatched, run.Status)
	assert.Equal(t, "call-123", run.Dispatch.ProviderRef)
	env.bland.AssertExpectations(t)
}

func TestDispatch_LinkedInWithoutCredentialSkips(t *testing.T) {
	env := newTestEnv(t, autoApprove)
	onStage(env.ai, classifySystemPrompt).Return(textResponse("Brand Campaign"), nil)
	onStage(env.ai, icpSystemPrompt).Return(textResponse(testICPJSON), nil)
	onStage(env.ai, linkedinSystemPrompt).Return(textResponse("Big news for engineering leaders. #devtools"), nil)

	req := emailRequest()
	req.Objective = "thought leadership post about platform engineering"

	run, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.ChannelLinkedIn, run.Channel)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.DispatchSkipped, run.Dispatch.Status)
	assert.Contains(t, run.Dispatch.Detail, "credential")
	env.linkedin.AssertNotCalled(t, "CreatePost", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_LinkedInWithCredentialPosts(t *testing.T) {
	env := newTestEnv(t, autoApprove)
	env.pipeline.cred = linkedin.Credential{
		AccessToken: "tok",
		PersonURN:   "urn:li:person:abc",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	onStage(env.ai, classifySystemPrompt).Return(textResponse("Brand Campaign"), nil)
	onStage(env.ai, icpSystemPrompt).Return(textResponse(testICPJSON), nil)
	onStage(env.ai, linkedinSystemPrompt).Return(textResponse("Big news for engineering leaders. #devtools"), nil)
	env.linkedin.On("CreatePost", mock.Anything, mock.Anything, mock.Anything).Return("post-789", nil)

	req := emailRequest()
	req.Objective = "thought leadership post about platform engineering"

	run, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusDispatched, run.Status)
	assert.Equal(t, "post-789", run.Dispatch.ProviderRef)
}

func TestDispatch_EmailSendFailureMarksRunFailed(t *testing.T) {
	env := newTestEnv(t, autoApprove)
	stubHappyStages(env)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(eris.New("smtp: connection refused"))

	run, err := env.pipeline.Run(context.Background(), emailRequest())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, model.DispatchFailed, run.Dispatch.Status)
	assert.Contains(t, run.Dispatch.Detail, "connection refused")

	// No follow-ups are scheduled for a failed send.
	due, err := env.store.DueFollowUps(context.Background(), time.Now().Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	// The tracking record is backed out, so the failed send never counts
	// toward the analytics open-rate denominator.
	sent, err := env.store.CountSentSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRun_DefaultsCampaignAndUrgency(t *testing.T) {
	env := newTestEnv(t, nil)
	stubHappyStages(env)

	run, err := env.pipeline.Run(context.Background(), model.Request{
		Objective: "introduce our analytics platform",
		Urgency:   model.Urgency("URGENT-ish"),
	})
	require.NoError(t, err)

	assert.Equal(t, "general", run.Request.Campaign)
	assert.Equal(t, model.UrgencyMedium, run.Request.Urgency)
}

func TestExecutionStatus(t *testing.T) {
	assert.Equal(t, "completed", executionStatus([]model.StageResult{{Status: model.StageStatusOK}}))
	assert.Equal(t, "completed_with_fallbacks", executionStatus([]model.StageResult{
		{Status: model.StageStatusOK}, {Status: model.StageStatusFallback},
	}))
	assert.Equal(t, "degraded", executionStatus([]model.StageResult{
		{Status: model.StageStatusFallback}, {Status: model.StageStatusFailed},
	}))
}

func TestAuditTrail_RecordsGateDecisions(t *testing.T) {
	env := newTestEnv(t, nil)
	stubHappyStages(env)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	ctx := context.Background()
	run, err := env.pipeline.Run(ctx, emailRequest())
	require.NoError(t, err)

	resumed, err := env.pipeline.Resume(ctx, run.ID, model.ApprovalDecision{Approved: true, Actor: "reviewer@sells.example", Note: "looks good"})
	require.NoError(t, err)

	joined := strings.Join(resumed.Audit.Strings(), "\n")
	assert.Contains(t, joined, "suspended awaiting human approval")
	assert.Contains(t, joined, "reviewer@sells.example")
	assert.Contains(t, joined, "approved: looks good")
	assert.True(t, resumed.Audit.Verify())
}
