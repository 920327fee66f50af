package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/leads"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/registry"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/bland"
	"github.com/sells-group/outreach-cli/pkg/linkedin"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

// --- Anthropic Mock ---

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

// textResponse wraps plain text in a single-block message response.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// onStage matches a CreateMessage call by its system prompt, so each stage
// can be given a distinct canned answer.
func onStage(m *mockAnthropicClient, system string) *mock.Call {
	return m.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.System == system
	}))
}

// --- Mailer Mock ---

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msg mailer.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// --- Bland Mock ---

type mockBlandClient struct {
	mock.Mock
}

func (m *mockBlandClient) DispatchCall(ctx context.Context, req bland.CallRequest) (*bland.CallResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bland.CallResponse), args.Error(1)
}

// --- LinkedIn Mock ---

type mockLinkedInClient struct {
	mock.Mock
}

func (m *mockLinkedInClient) AuthURL(state string) string {
	return m.Called(state).String(0)
}

func (m *mockLinkedInClient) ExchangeCode(ctx context.Context, code string) (*linkedin.Credential, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*linkedin.Credential), args.Error(1)
}

func (m *mockLinkedInClient) CreatePost(ctx context.Context, cred linkedin.Credential, commentary string) (string, error) {
	args := m.Called(ctx, cred, commentary)
	return args.String(0), args.Error(1)
}

// --- Fixtures ---

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			Model:       "test-model",
			MaxTokens:   1024,
			TimeoutSecs: 5,
			MaxRetries:  1,
		},
		SMTP: config.SMTPConfig{From: "sales@sells.example"},
		Bland: config.BlandConfig{
			Voice:           "maya",
			Language:        "en-US",
			MaxDurationSecs: 120,
		},
		Pipeline: config.PipelineConfig{
			DefaultClassification: "Enterprise SaaS Outreach",
			DefaultCampaign:       "general",
			Sender: config.SenderConfig{
				Name:    "Jordan Avery",
				Title:   "Solutions Architect",
				Company: "Sells Group",
			},
		},
		Server: config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
	}
}

// recordingLeads is a Static source that also captures outreach write-backs,
// standing in for the Salesforce-backed source.
type recordingLeads struct {
	leads.Static
	mu       sync.Mutex
	recorded []string
}

func (r *recordingLeads) RecordOutreach(_ context.Context, email string, channel model.Channel, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, email+"/"+string(channel))
	return nil
}

func testLeads() leads.Static {
	return leads.Static{
		{Name: "Dana Reyes", Role: "VP Engineering", Company: "Northwind", Email: "dana@northwind.example", Phone: "+15550001111", Score: 72},
		{Name: "Sam Okafor", Role: "CTO", Company: "Contoso", Email: "sam@contoso.example", Score: 91},
	}
}

type testEnv struct {
	pipeline *Pipeline
	store    *store.SQLiteStore
	ai       *mockAnthropicClient
	mailer   *mockTransport
	bland    *mockBlandClient
	linkedin *mockLinkedInClient
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		store:    st,
		ai:       &mockAnthropicClient{},
		mailer:   &mockTransport{},
		bland:    &mockBlandClient{},
		linkedin: &mockLinkedInClient{},
	}
	templates, err := registry.FromOffsets(cfg.Scheduler.FollowUpOffsetDays)
	require.NoError(t, err)
	env.pipeline = New(cfg, st, env.ai, testLeads(), env.mailer, env.bland, env.linkedin, linkedin.Credential{}, templates)
	return env
}

const testICPJSON = `{
	"primary_demographic": "Mid-market engineering leaders",
	"pain_points": ["tool sprawl", "slow releases"],
	"business_objectives": ["ship faster"],
	"historical_best_channel": "email",
	"priority_leads": [
		{"name": "Dana Reyes", "role": "VP Engineering", "company": "Northwind", "email": "dana@northwind.example", "phone": "+15550001111", "lead_score": 72, "reason_for_match": "owns the platform budget"}
	]
}`

// autoApprove flips the gate so runs dispatch without a human decision.
func autoApprove(cfg *config.Config) {
	cfg.Pipeline.AutoApprove = true
}

// stubHappyStages wires canned answers for classify, match_icp and email
// generation.
func stubHappyStages(env *testEnv) {
	onStage(env.ai, classifySystemPrompt).Return(textResponse("Enterprise SaaS Outreach"), nil)
	onStage(env.ai, icpSystemPrompt).Return(textResponse(testICPJSON), nil)
	onStage(env.ai, routeSystemPrompt).Return(textResponse("email"), nil)
	onStage(env.ai, emailSystemPrompt).Return(textResponse("Subject: Ship faster with less sprawl\n\nHi Dana,\n\nShort note about release velocity.\n\nBest,\nJordan"), nil)
}
