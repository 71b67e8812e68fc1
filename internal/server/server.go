// Package server exposes the read API over HTTP: verification record queries
// and feedback submission, aggregate metric snapshots, and the alert
// lifecycle's external actions. Routing uses Go 1.22 method patterns on the
// stdlib mux; every handler is wrapped by the tracing middleware from
// [observe].
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tan-res-space/rag-interface-sub006/internal/aggregate"
	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"github.com/tan-res-space/rag-interface-sub006/internal/health"
	"github.com/tan-res-space/rag-interface-sub006/internal/observe"
	"github.com/tan-res-space/rag-interface-sub006/internal/verification"
)

// Config carries the collaborators the API serves.
type Config struct {
	Workflow   *verification.Workflow
	Evaluator  *alerting.Evaluator
	Aggregator *aggregate.Aggregator

	// Health serves /healthz and /readyz. Optional; nil skips the routes.
	Health *health.Handler

	// Metrics instruments request handling. Optional.
	Metrics *observe.Metrics
}

// Server is the HTTP read API.
type Server struct {
	cfg Config
}

// New validates cfg and returns a [Server].
func New(cfg Config) (*Server, error) {
	if cfg.Workflow == nil {
		return nil, errors.New("server: workflow is required")
	}
	if cfg.Evaluator == nil {
		return nil, errors.New("server: evaluator is required")
	}
	if cfg.Aggregator == nil {
		return nil, errors.New("server: aggregator is required")
	}
	return &Server{cfg: cfg}, nil
}

// Handler builds the routed handler, including health probes and the
// Prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/verifications", s.listVerifications)
	mux.HandleFunc("GET /api/v1/verifications/{id}", s.getVerification)
	mux.HandleFunc("POST /api/v1/verifications/{id}/feedback", s.submitFeedback)
	mux.HandleFunc("GET /api/v1/metrics/snapshot", s.metricsSnapshot)
	mux.HandleFunc("GET /api/v1/alerts", s.listAlerts)
	mux.HandleFunc("POST /api/v1/alerts/{id}/ack", s.acknowledgeAlert)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.cfg.Metrics)(mux)
}

// ── Verifications ─────────────────────────────────────────────────────────────

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := verification.Filter{
		Status:   verification.Status(q.Get("status")),
		Category: q.Get("category"),
	}
	if f.Status != "" && !f.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(f.Status)))
		return
	}

	var err error
	if f.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	recs, err := s.cfg.Workflow.List(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verifications": recs,
		"count":         len(recs),
	})
}

func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Workflow.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// feedbackRequest is the body of POST /api/v1/verifications/{id}/feedback.
type feedbackRequest struct {
	Status       string `json:"status"`
	QualityScore int    `json:"quality_score"`
	Notes        string `json:"notes"`
	VerifierID   string `json:"verifier_id"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feedback body: "+err.Error())
		return
	}

	rec, err := s.cfg.Workflow.SubmitFeedback(r.Context(), r.PathValue("id"), verification.Feedback{
		Target:       verification.Status(req.Status),
		QualityScore: req.QualityScore,
		Notes:        req.Notes,
		VerifierID:   req.VerifierID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ── Metric snapshots ──────────────────────────────────────────────────────────

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowKey := q.Get("window")
	if windowKey == "" {
		writeError(w, http.StatusBadRequest, "window query parameter is required; configured windows: "+
			strings.Join(s.cfg.Aggregator.Windows(), ", "))
		return
	}

	before := s.cfg.Aggregator.Recomputes()
	snap, err := s.cfg.Aggregator.Snapshot(r.Context(), windowKey, aggregate.Filters{
		Category: q.Get("category"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.cfg.Metrics != nil {
		result := "hit"
		switch {
		case snap.Stale:
			result = "stale"
		case s.cfg.Aggregator.Recomputes() != before:
			result = "recompute"
		}
		s.cfg.Metrics.RecordSnapshot(r.Context(), result)
	}
	writeJSON(w, http.StatusOK, snap)
}

// ── Alerts ────────────────────────────────────────────────────────────────────

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := alerting.Filter{
		Severity:   alerting.Severity(q.Get("severity")),
		Unresolved: q.Get("unresolved") == "true",
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown severity "+strconv.Quote(string(f.Severity)))
		return
	}
	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "acknowledged must be a boolean")
			return
		}
		f.Acknowledged = &ack
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	alerts, err := s.cfg.Evaluator.List(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Evaluator.Acknowledge(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "acknowledged": true})
}

// ── Response helpers ──────────────────────────────────────────────────────────

// writeDomainError maps domain errors onto HTTP statuses. Anything
// unrecognised is a 500 with the detail kept server-side.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, verification.ErrNotFound),
		errors.Is(err, alerting.ErrAlertNotFound),
		errors.Is(err, aggregate.ErrUnknownWindow):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, verification.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, verification.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		observe.Logger(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// intParam parses a non-negative integer query parameter, returning def for
// the empty string.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}
