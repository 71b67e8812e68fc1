package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"github.com/tan-res-space/rag-interface-sub006/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

storage:
  postgres_dsn: "postgres://localhost:5432/verifycore?sslmode=disable"
  connect_timeout: 10s

workers:
  count: 8
  queue_size: 128

align:
  max_quadratic_tokens: 256

verification:
  confidence_threshold: 0.75
  accuracy_threshold: 0.85
  critical_categories:
    - critical
    - terminology

alerting:
  recovery_passes: 5
  rules:
    - id: wer-high
      metric: word_error_rate
      condition: gt
      threshold: 0.3
      severity: warning
    - id: accuracy-low
      metric: accuracy
      condition: lt
      threshold: 0.7
      severity: critical
      active: false

aggregation:
  windows:
    - key: 24h
      span: 24h
      ttl: 30s
    - key: 7d
      span: 168h
      ttl: 5m

retry:
  attempts: 4
  base_delay: 50ms
  max_delay: 2s

dead_letter:
  path: /var/lib/verifycore/deadletter.jsonl
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Storage.ConnectTimeout.Std() != 10*time.Second {
		t.Errorf("connect_timeout: got %v, want 10s", cfg.Storage.ConnectTimeout.Std())
	}
	if cfg.Workers.Count != 8 {
		t.Errorf("workers.count: got %d, want 8", cfg.Workers.Count)
	}
	if cfg.Align.MaxQuadraticTokens != 256 {
		t.Errorf("max_quadratic_tokens: got %d, want 256", cfg.Align.MaxQuadraticTokens)
	}
	if cfg.Verification.ConfidenceThreshold != 0.75 {
		t.Errorf("confidence_threshold: got %v, want 0.75", cfg.Verification.ConfidenceThreshold)
	}
	if len(cfg.Verification.CriticalCategories) != 2 {
		t.Errorf("critical_categories: got %d entries, want 2", len(cfg.Verification.CriticalCategories))
	}
	if cfg.Alerting.RecoveryPasses != 5 {
		t.Errorf("recovery_passes: got %d, want 5", cfg.Alerting.RecoveryPasses)
	}
	if len(cfg.Alerting.Rules) != 2 {
		t.Fatalf("rules: got %d entries, want 2", len(cfg.Alerting.Rules))
	}
	if len(cfg.Aggregation.Windows) != 2 {
		t.Fatalf("windows: got %d entries, want 2", len(cfg.Aggregation.Windows))
	}
	if cfg.Aggregation.Windows[1].Span.Std() != 7*24*time.Hour {
		t.Errorf("windows[1].span: got %v, want 168h", cfg.Aggregation.Windows[1].Span.Std())
	}
	if cfg.Retry.BaseDelay.Std() != 50*time.Millisecond {
		t.Errorf("retry.base_delay: got %v, want 50ms", cfg.Retry.BaseDelay.Std())
	}
	if cfg.DeadLetter.Path != "/var/lib/verifycore/deadletter.jsonl" {
		t.Errorf("dead_letter.path: got %q", cfg.DeadLetter.Path)
	}
}

func TestRuleConfig_Rule(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r0 := cfg.Alerting.Rules[0].Rule()
	want := alerting.Rule{
		ID:         "wer-high",
		MetricName: "word_error_rate",
		Condition:  alerting.CondGT,
		Threshold:  0.3,
		Severity:   alerting.SeverityWarning,
		Active:     true,
	}
	if r0 != want {
		t.Errorf("Rule() = %+v, want %+v", r0, want)
	}

	// Explicit active: false is honored.
	if r1 := cfg.Alerting.Rules[1].Rule(); r1.Active {
		t.Error("rules[1] should be inactive")
	}
}

func TestWindowEntry_Window(t *testing.T) {
	t.Parallel()
	entry := config.WindowEntry{
		Key:  "24h",
		Span: config.Duration(24 * time.Hour),
		TTL:  config.Duration(30 * time.Second),
	}
	w := entry.Window()
	if w.Key != "24h" || w.Span != 24*time.Hour || w.TTL != 30*time.Second {
		t.Errorf("Window() = %+v", w)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \":8081\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Workers.Count != 4 {
		t.Errorf("default workers.count: got %d, want 4", cfg.Workers.Count)
	}
	if cfg.Workers.QueueSize != 64 {
		t.Errorf("default workers.queue_size: got %d, want 64", cfg.Workers.QueueSize)
	}
	if cfg.Align.MaxQuadraticTokens != 512 {
		t.Errorf("default max_quadratic_tokens: got %d, want 512", cfg.Align.MaxQuadraticTokens)
	}
	if cfg.Verification.ConfidenceThreshold != 0.8 {
		t.Errorf("default confidence_threshold: got %v, want 0.8", cfg.Verification.ConfidenceThreshold)
	}
	if cfg.Verification.AccuracyThreshold != 0.9 {
		t.Errorf("default accuracy_threshold: got %v, want 0.9", cfg.Verification.AccuracyThreshold)
	}
	if cfg.Alerting.RecoveryPasses != 3 {
		t.Errorf("default recovery_passes: got %d, want 3", cfg.Alerting.RecoveryPasses)
	}
	if len(cfg.Aggregation.Windows) != 2 {
		t.Fatalf("default windows: got %d entries, want 2", len(cfg.Aggregation.Windows))
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("default retry.attempts: got %d, want 3", cfg.Retry.Attempts)
	}
	if cfg.Retry.BaseDelay.Std() != 100*time.Millisecond {
		t.Errorf("default retry.base_delay: got %v, want 100ms", cfg.Retry.BaseDelay.Std())
	}
	if cfg.DeadLetter.Path != "deadletter.jsonl" {
		t.Errorf("default dead_letter.path: got %q", cfg.DeadLetter.Path)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  lsiten_addr: ":8081"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestDuration_InvalidString(t *testing.T) {
	t.Parallel()
	yaml := `
storage:
  connect_timeout: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "soon") {
		t.Errorf("error should name the bad value, got: %v", err)
	}
}
