package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// trackingPixelGIF is a 1x1 transparent GIF. Served for every /track request
// regardless of whether the id is known, so scrapers learn nothing from the
// response.
var trackingPixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type generateRequest struct {
	Objective   string `json:"objective"`
	Intent      string `json:"intent"`
	Urgency     string `json:"urgency"`
	Location    string `json:"location"`
	TargetEmail string `json:"target_email"`
	TargetPhone string `json:"target_phone"`
	Campaign    string `json:"campaign"`
}

// handleGenerate runs the pipeline synchronously and returns the resulting
// run, suspended at the gate unless auto-approve is on.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Objective == "" {
		respondError(w, http.StatusBadRequest, "objective is required")
		return
	}

	run, err := s.pipeline.Run(r.Context(), model.Request{
		Objective:   req.Objective,
		Intent:      req.Intent,
		Urgency:     model.ParseUrgency(req.Urgency),
		Location:    req.Location,
		TargetEmail: req.TargetEmail,
		TargetPhone: req.TargetPhone,
		Campaign:    req.Campaign,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:   model.RunStatus(q.Get("status")),
		Campaign: q.Get("campaign"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.PipelineRun{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Actor    string `json:"actor"`
	Note     string `json:"note"`
}

// handleApprove applies the human decision to a suspended run.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run, err := s.pipeline.Resume(r.Context(), chi.URLParam(r, "id"), model.ApprovalDecision{
		Approved: req.Approved,
		Actor:    req.Actor,
		Note:     req.Note,
	})
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// timeframes maps the analytics query values to durations.
var timeframes = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"3m":  90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	tf := r.URL.Query().Get("timeframe")
	if tf == "" {
		tf = "30d"
	}
	window, ok := timeframes[tf]
	if !ok {
		respondError(w, http.StatusBadRequest, "timeframe must be one of 7d, 30d, 3m, 1y")
		return
	}

	since := time.Now().UTC().Add(-window)
	sent, err := s.store.CountSentSince(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	opened, err := s.store.CountOpenedSince(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	openRate := 0.0
	if sent > 0 {
		openRate = float64(opened) / float64(sent)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"timeframe": tf,
		"sent":      sent,
		"opened":    opened,
		"open_rate": openRate,
	})
}

// handleTrackingPixel records the open and always serves the 1x1 GIF. Store
// failures are logged, never surfaced: the beacon must render in the mail
// client no matter what.
func (s *Server) handleTrackingPixel(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.RecordOpen(ctx, trackingID, time.Now().UTC()); err != nil {
		zap.L().Warn("server: failed to record open",
			zap.String("tracking_id", trackingID),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(trackingPixelGIF)
}

// handleLinkedInAuth redirects the operator to LinkedIn's consent page.
func (s *Server) handleLinkedInAuth(w http.ResponseWriter, r *http.Request) {
	state := strconv.FormatInt(time.Now().UnixNano(), 36)
	http.Redirect(w, r, s.linkedin.AuthURL(state), http.StatusFound)
}

// handleLinkedInCallback exchanges the authorization code and returns the
// credential for the operator to place in configuration.
func (s *Server) handleLinkedInCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "missing code parameter")
		return
	}

	cred, err := s.linkedin.ExchangeCode(r.Context(), code)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cred)
}
