package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tan-res-space/rag-interface-sub006/internal/aggregate"
	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"github.com/tan-res-space/rag-interface-sub006/internal/events"
	"github.com/tan-res-space/rag-interface-sub006/internal/health"
	"github.com/tan-res-space/rag-interface-sub006/internal/quality"
	"github.com/tan-res-space/rag-interface-sub006/internal/verification"
)

type fixture struct {
	ts         *httptest.Server
	workflow   *verification.Workflow
	evaluator  *alerting.Evaluator
	aggregator *aggregate.Aggregator
	alerts     *alerting.MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	recs := verification.NewMemStore()
	alerts := alerting.NewMemStore()
	workflow := verification.NewWorkflow(recs, events.LogPublisher{})

	evaluator, err := alerting.NewEvaluator([]alerting.Rule{
		{ID: "wer-high", MetricName: "word_error_rate", Condition: alerting.CondGTE, Threshold: 0.5, Severity: alerting.SeverityWarning, Active: true},
	}, alerts, events.LogPublisher{})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	aggregator, err := aggregate.New([]aggregate.WindowConfig{
		{Key: "24h", Span: 24 * time.Hour, TTL: time.Minute},
	})
	if err != nil {
		t.Fatalf("aggregate.New: %v", err)
	}

	srv, err := New(Config{
		Workflow:   workflow,
		Evaluator:  evaluator,
		Aggregator: aggregator,
		Health:     health.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		ts:         ts,
		workflow:   workflow,
		evaluator:  evaluator,
		aggregator: aggregator,
		alerts:     alerts,
	}
}

// seedRecord creates one verification record through the workflow, returning
// its assigned ID.
func (f *fixture) seedRecord(t *testing.T, correctionID string, confidence float64, categories []string) string {
	t.Helper()
	rec, err := f.workflow.Create(context.Background(), events.CorrectionApplied{
		CorrectionID:    correctionID,
		OriginalText:    "the cat are here",
		CorrectedText:   "the cat is here",
		ConfidenceScore: confidence,
		ErrorCategories: categories,
		Timestamp:       time.Now(),
	}, quality.Metrics{WordErrorRate: 0.25, Accuracy: 0.95, Similarity: 0.9, Confidence: confidence})
	if err != nil {
		t.Fatalf("seed record %s: %v", correctionID, err)
	}
	return rec.ID
}

func (f *fixture) getJSON(t *testing.T, path string, wantStatus int, into any) {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("GET %s: decode body: %v", path, err)
		}
	}
}

func (f *fixture) postJSON(t *testing.T, path string, body any, wantStatus int, into any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("POST %s: decode body: %v", path, err)
		}
	}
}

func TestListVerifications(t *testing.T) {
	f := newFixture(t)
	f.seedRecord(t, "corr-1", 0.95, []string{"grammar"})
	f.seedRecord(t, "corr-2", 0.4, []string{"critical"})

	var got struct {
		Verifications []verification.Record `json:"verifications"`
		Count         int                   `json:"count"`
	}
	f.getJSON(t, "/api/v1/verifications", http.StatusOK, &got)
	if got.Count != 2 {
		t.Fatalf("count = %d, want 2", got.Count)
	}

	// Low confidence routes corr-2 to needs_review; the status filter should
	// surface only that record.
	f.getJSON(t, "/api/v1/verifications?status=needs_review", http.StatusOK, &got)
	if got.Count != 1 || got.Verifications[0].CorrectionID != "corr-2" {
		t.Fatalf("needs_review filter returned %+v", got.Verifications)
	}

	f.getJSON(t, "/api/v1/verifications?category=grammar", http.StatusOK, &got)
	if got.Count != 1 || got.Verifications[0].CorrectionID != "corr-1" {
		t.Fatalf("category filter returned %+v", got.Verifications)
	}
}

func TestListVerifications_BadParams(t *testing.T) {
	f := newFixture(t)

	f.getJSON(t, "/api/v1/verifications?status=bogus", http.StatusBadRequest, nil)
	f.getJSON(t, "/api/v1/verifications?limit=-1", http.StatusBadRequest, nil)
	f.getJSON(t, "/api/v1/verifications?offset=abc", http.StatusBadRequest, nil)
}

func TestGetVerification(t *testing.T) {
	f := newFixture(t)
	id := f.seedRecord(t, "corr-1", 0.95, nil)

	var rec verification.Record
	f.getJSON(t, "/api/v1/verifications/"+id, http.StatusOK, &rec)
	if rec.CorrectionID != "corr-1" {
		t.Fatalf("correction_id = %q, want corr-1", rec.CorrectionID)
	}

	f.getJSON(t, "/api/v1/verifications/no-such-id", http.StatusNotFound, nil)
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	id := f.seedRecord(t, "corr-1", 0.95, nil)

	var rec verification.Record
	f.postJSON(t, "/api/v1/verifications/"+id+"/feedback", map[string]any{
		"status":        "approved",
		"quality_score": 4,
		"verifier_id":   "qa-7",
	}, http.StatusOK, &rec)
	if rec.Status != verification.StatusApproved || rec.QualityScore != 4 {
		t.Fatalf("record after feedback = %+v", rec)
	}

	// Approved is terminal; a second judgment conflicts.
	f.postJSON(t, "/api/v1/verifications/"+id+"/feedback", map[string]any{
		"status": "rejected",
	}, http.StatusConflict, nil)
}

func TestSubmitFeedback_BadBody(t *testing.T) {
	f := newFixture(t)
	id := f.seedRecord(t, "corr-1", 0.95, nil)

	resp, err := http.Post(f.ts.URL+"/api/v1/verifications/"+id+"/feedback",
		"application/json", bytes.NewReader([]byte(`{"status": "approved", "bogus": 1}`)))
	if err != nil {
		t.Fatalf("POST feedback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	// Unknown target status is a transition error, not a decode error.
	f.postJSON(t, "/api/v1/verifications/"+id+"/feedback", map[string]any{
		"status": "archived",
	}, http.StatusConflict, nil)
}

func TestMetricsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedRecord(t, "corr-1", 0.95, []string{"grammar"})

	f.aggregator.Fold(aggregate.Sample{
		Timestamp:  time.Now(),
		Metrics:    quality.Metrics{WordErrorRate: 0.25, Accuracy: 0.95, Similarity: 0.9, Confidence: 0.95},
		Status:     "pending",
		Categories: []string{"grammar"},
	})

	var snap aggregate.Snapshot
	f.getJSON(t, "/api/v1/metrics/snapshot?window=24h", http.StatusOK, &snap)
	if snap.Count != 1 {
		t.Fatalf("snapshot count = %d, want 1", snap.Count)
	}
	if snap.WindowKey != "24h" {
		t.Fatalf("window_key = %q, want 24h", snap.WindowKey)
	}
	if snap.ComputedAt.IsZero() || snap.ExpiresAt.IsZero() {
		t.Fatal("snapshot is missing cache metadata")
	}

	f.getJSON(t, "/api/v1/metrics/snapshot?window=24h&category=grammar", http.StatusOK, &snap)
	if snap.Count != 1 || snap.Category != "grammar" {
		t.Fatalf("category snapshot = %+v", snap)
	}

	f.getJSON(t, "/api/v1/metrics/snapshot", http.StatusBadRequest, nil)
	f.getJSON(t, "/api/v1/metrics/snapshot?window=90d", http.StatusNotFound, nil)
}

func TestListAndAcknowledgeAlerts(t *testing.T) {
	f := newFixture(t)

	// Trip the word_error_rate rule.
	if _, err := f.evaluator.Evaluate(context.Background(), "word_error_rate", 0.75); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	var got struct {
		Alerts []alerting.Alert `json:"alerts"`
		Count  int              `json:"count"`
	}
	f.getJSON(t, "/api/v1/alerts?unresolved=true", http.StatusOK, &got)
	if got.Count != 1 {
		t.Fatalf("unresolved alerts = %d, want 1", got.Count)
	}
	alert := got.Alerts[0]
	if alert.Acknowledged {
		t.Fatal("new alert should not be acknowledged")
	}

	f.postJSON(t, fmt.Sprintf("/api/v1/alerts/%s/ack", alert.ID), nil, http.StatusOK, nil)

	f.getJSON(t, "/api/v1/alerts?acknowledged=true", http.StatusOK, &got)
	if got.Count != 1 || !got.Alerts[0].Acknowledged {
		t.Fatalf("acknowledged filter returned %+v", got.Alerts)
	}

	f.postJSON(t, "/api/v1/alerts/no-such-alert/ack", nil, http.StatusNotFound, nil)
	f.getJSON(t, "/api/v1/alerts?severity=bogus", http.StatusBadRequest, nil)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	f := newFixture(t)

	f.getJSON(t, "/healthz", http.StatusOK, nil)
	f.getJSON(t, "/readyz", http.StatusOK, nil)

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/v1/verifications")
	if err != nil {
		t.Fatalf("GET verifications: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Skip("no tracer provider installed; correlation header not set")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
}
