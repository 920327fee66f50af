package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/leads"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/registry"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/linkedin"
	"github.com/sells-group/outreach-cli/pkg/mailer"
)

// stubAI answers every prompt with the same email-shaped text. Classification
// takes the text verbatim, the ICP parse falls back, routing coerces to
// email, and generation yields a usable draft. Enough to exercise the full
// HTTP surface.
type stubAI struct{}

func (stubAI) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "Subject: Hello\n\nHi Dana, quick note."}},
	}, nil
}

// stubMailer accepts every send.
type stubMailer struct{ sent []mailer.Message }

func (m *stubMailer) Send(_ context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "test-model", MaxTokens: 512, TimeoutSecs: 5, MaxRetries: 1},
		SMTP:      config.SMTPConfig{From: "sales@sells.example"},
		Pipeline: config.PipelineConfig{
			DefaultClassification: "Enterprise SaaS Outreach",
			DefaultCampaign:       "general",
			Sender:                config.SenderConfig{Name: "Jordan", Title: "SA", Company: "Sells Group"},
		},
		Server: config.ServerConfig{PublicBaseURL: "http://localhost:8080"},
	}
}

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *stubMailer) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := testConfig()
	mt := &stubMailer{}
	src := leads.Static{{Name: "Dana Reyes", Role: "VP Engineering", Company: "Northwind", Email: "dana@northwind.example", Score: 72}}
	p := pipeline.New(cfg, st, stubAI{}, src, mt, nil, nil, linkedin.Credential{}, registry.Defaults())

	return New(cfg, st, p, nil), st, mt
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_SuspendsAtGate(t *testing.T) {
	srv, _, mt := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/generate", map[string]string{
		"objective": "introduce the analytics platform",
		"campaign":  "q3-analytics",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var run model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusAwaitingApproval, run.Status)
	require.NotNil(t, run.Draft)
	assert.Equal(t, "Hello", run.Draft.Subject)
	assert.Empty(t, mt.sent)

	// The run is retrievable by id.
	rec = doJSON(t, router, http.MethodGet, "/api/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_RequiresObjective(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/generate", map[string]string{"intent": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprove_DispatchesAndIsTerminal(t *testing.T) {
	srv, _, mt := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/generate", map[string]string{
		"objective":    "introduce the analytics platform",
		"target_email": "dana@northwind.example",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var run model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/approve", map[string]any{
		"approved": true,
		"actor":    "reviewer@sells.example",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var approved model.PipelineRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, model.RunStatusDispatched, approved.Status)
	require.Len(t, mt.sent, 1)
	assert.Contains(t, mt.sent[0].Body, "/track/")

	// A second decision on the same run conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/runs/"+run.ID+"/approve", map[string]any{"approved": false})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns_FiltersByStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/generate", map[string]string{"objective": "intro"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/runs?status=awaiting_approval", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs  []model.PipelineRun `json:"runs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = doJSON(t, router, http.MethodGet, "/api/runs?status=failed", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestTrackingPixel_RecordsOpenAndServesGIF(t *testing.T) {
	srv, st, _ := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	now := time.Now().UTC()
	tr := &model.TrackingRecord{
		ID:        model.NewTrackingID("dana@northwind.example", "Hello", now),
		Recipient: "dana@northwind.example",
		Subject:   "Hello",
		SentAt:    now,
	}
	require.NoError(t, st.CreateTrackingRecord(ctx, tr))

	rec := doJSON(t, router, http.MethodGet, "/track/"+tr.ID+".png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, trackingPixelGIF, rec.Body.Bytes())

	got, err := st.GetTrackingRecord(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OpenCount)
	assert.NotNil(t, got.OpenedAt)
}

func TestTrackingPixel_UnknownIDStillServesGIF(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/track/deadbeefdeadbeef.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, trackingPixelGIF, rec.Body.Bytes())
}

func TestAnalytics_OpenRate(t *testing.T) {
	srv, st, _ := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		tr := &model.TrackingRecord{
			ID:        model.NewTrackingID("r@example.com", "s", now.Add(time.Duration(i))),
			Recipient: "r@example.com",
			Subject:   "s",
			SentAt:    now.Add(-time.Hour),
		}
		require.NoError(t, st.CreateTrackingRecord(ctx, tr))
		if i == 0 {
			require.NoError(t, st.RecordOpen(ctx, tr.ID, now))
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/analytics?timeframe=7d", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Timeframe string  `json:"timeframe"`
		Sent      int     `json:"sent"`
		Opened    int     `json:"opened"`
		OpenRate  float64 `json:"open_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "7d", resp.Timeframe)
	assert.Equal(t, 4, resp.Sent)
	assert.Equal(t, 1, resp.Opened)
	assert.InDelta(t, 0.25, resp.OpenRate, 1e-9)
}

func TestAnalytics_InvalidTimeframe(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/analytics?timeframe=forever", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
