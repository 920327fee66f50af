package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/registry"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msg mailer.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			Model:       "test-model",
			MaxTokens:   512,
			TimeoutSecs: 5,
			MaxRetries:  1,
		},
		SMTP: config.SMTPConfig{From: "sales@sells.example"},
		Scheduler: config.SchedulerConfig{
			WakeSecs:            1,
			DispatchRatePerSec:  100,
			DispatchTimeoutSecs: 5,
		},
		Server: config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
	}
}

type testEnv struct {
	scheduler *Scheduler
	store     *store.SQLiteStore
	ai        *mockAnthropicClient
	mailer    *mockTransport
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	env := &testEnv{
		store:  st,
		ai:     &mockAnthropicClient{},
		mailer: &mockTransport{},
	}
	env.scheduler = New(testConfig(), st, env.ai, env.mailer, registry.Defaults())
	return env
}

// seedFollowUp creates a tracking record and a follow-up due in the past.
func seedFollowUp(t *testing.T, st *store.SQLiteStore) model.FollowUp {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &model.TrackingRecord{
		ID:        model.NewTrackingID("dana@northwind.example", "Quick question", now),
		Recipient: "dana@northwind.example",
		Subject:   "Quick question",
		Campaign:  "q3-analytics",
		SentAt:    now.Add(-72 * time.Hour),
	}
	require.NoError(t, st.CreateTrackingRecord(ctx, rec))

	f := model.FollowUp{
		ID:           uuid.New().String(),
		TrackingID:   rec.ID,
		Recipient:    rec.Recipient,
		ScheduledFor: now.Add(-time.Minute),
		Template:     "gentle_reminder",
		Status:       model.FollowUpPending,
	}
	require.NoError(t, st.CreateFollowUp(ctx, &f))
	return f
}

func followUpText() *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{
			Type: "text",
			Text: "Subject: Still worth a look?\n\nHi Dana, circling back on my earlier note.",
		}},
	}
}

func TestProcessDue_SendsAndMarksSent(t *testing.T) {
	env := newTestEnv(t)
	f := seedFollowUp(t, env.store)

	env.ai.On("CreateMessage", mock.Anything, mock.Anything).Return(followUpText(), nil)

	var sent mailer.Message
	env.mailer.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(mailer.Message) }).
		Return(nil)

	env.scheduler.ProcessDue(context.Background())

	assert.Equal(t, "dana@northwind.example", sent.To)
	assert.Equal(t, "Still worth a look?", sent.Subject)
	// Re-sends of this logical message must carry the same identity.
	assert.Equal(t, "followup-"+f.ID, sent.DedupeKey)
	// Opens of the follow-up count toward the original thread.
	assert.Contains(t, sent.Body, "/track/"+f.TrackingID+".png")

	due, err := env.store.DueFollowUps(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessDue_GenerationFailureStaysPending(t *testing.T) {
	env := newTestEnv(t)
	seedFollowUp(t, env.store)

	env.ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("api down"))

	env.scheduler.ProcessDue(context.Background())

	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	due, err := env.store.DueFollowUps(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestProcessDue_SendFailureStaysPending(t *testing.T) {
	env := newTestEnv(t)
	seedFollowUp(t, env.store)

	env.ai.On("CreateMessage", mock.Anything, mock.Anything).Return(followUpText(), nil)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(eris.New("smtp: 421 too many concurrent sessions"))

	env.scheduler.ProcessDue(context.Background())

	due, err := env.store.DueFollowUps(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestProcessDue_MissingTrackingRecordStaysPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Follow-up referencing a tracking record that was never written. With
	// foreign keys unenforced in the test db this models a partial failure.
	rec := &model.TrackingRecord{
		ID:        model.NewTrackingID("x@example.com", "s", now),
		Recipient: "x@example.com",
		Subject:   "s",
		SentAt:    now,
	}
	require.NoError(t, env.store.CreateTrackingRecord(ctx, rec))
	f := model.FollowUp{
		ID:           uuid.New().String(),
		TrackingID:   "0000000000000000",
		Recipient:    "x@example.com",
		ScheduledFor: now.Add(-time.Minute),
		Template:     "gentle_reminder",
		Status:       model.FollowUpPending,
	}
	require.NoError(t, env.store.CreateFollowUp(ctx, &f))

	env.scheduler.ProcessDue(ctx)

	env.ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	env.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	due, err := env.store.DueFollowUps(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestProcessDue_NothingDue(t *testing.T) {
	env := newTestEnv(t)

	env.scheduler.ProcessDue(context.Background())

	env.ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestProcessDue_UnknownTemplateUsesGenericGuidance(t *testing.T) {
	env := newTestEnv(t)
	seedFollowUp(t, env.store)

	ctx := context.Background()
	fs, err := env.store.DueFollowUps(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, fs, 1)

	env.ai.On("CreateMessage", mock.Anything, mock.Anything).Return(followUpText(), nil)
	env.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	fu := fs[0]
	fu.Template = "not_in_registry"
	require.NoError(t, env.scheduler.processOne(ctx, fu))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.scheduler.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
