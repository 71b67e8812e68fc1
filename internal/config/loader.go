package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"gopkg.in/yaml.v3"
)

// KnownMetricNames lists the quality metric names rules can reference.
// [Validate] warns about names outside this list so rule typos surface at
// startup instead of silently never firing.
var KnownMetricNames = []string{
	"word_error_rate",
	"accuracy",
	"similarity",
	"sentence_error_score",
	"confidence",
	"improvement_ratio",

	// Synthetic operational metric emitted when record persistence exhausts
	// its retries.
	"persistence_failures",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.ConnectTimeout <= 0 {
		cfg.Storage.ConnectTimeout = Duration(5 * time.Second)
	}
	if cfg.Workers.Count <= 0 {
		cfg.Workers.Count = 4
	}
	if cfg.Workers.QueueSize <= 0 {
		cfg.Workers.QueueSize = 64
	}
	if cfg.Align.MaxQuadraticTokens <= 0 {
		cfg.Align.MaxQuadraticTokens = 512
	}
	if cfg.Verification.ConfidenceThreshold == 0 {
		cfg.Verification.ConfidenceThreshold = 0.8
	}
	if cfg.Verification.AccuracyThreshold == 0 {
		cfg.Verification.AccuracyThreshold = 0.9
	}
	if len(cfg.Verification.CriticalCategories) == 0 {
		cfg.Verification.CriticalCategories = []string{"critical"}
	}
	if cfg.Alerting.RecoveryPasses <= 0 {
		cfg.Alerting.RecoveryPasses = 3
	}
	if len(cfg.Aggregation.Windows) == 0 {
		cfg.Aggregation.Windows = []WindowEntry{
			{Key: "24h", Span: Duration(24 * time.Hour), TTL: Duration(30 * time.Second)},
			{Key: "7d", Span: Duration(7 * 24 * time.Hour), TTL: Duration(5 * time.Minute)},
		}
	}
	for i := range cfg.Aggregation.Windows {
		if cfg.Aggregation.Windows[i].TTL <= 0 {
			cfg.Aggregation.Windows[i].TTL = Duration(30 * time.Second)
		}
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = Duration(100 * time.Millisecond)
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = Duration(5 * time.Second)
	}
	if cfg.DeadLetter.Path == "" {
		cfg.DeadLetter.Path = "deadletter.jsonl"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Verification thresholds
	if cfg.Verification.ConfidenceThreshold < 0 || cfg.Verification.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("verification.confidence_threshold %.2f is out of range [0, 1]", cfg.Verification.ConfidenceThreshold))
	}
	if cfg.Verification.AccuracyThreshold < 0 || cfg.Verification.AccuracyThreshold > 1 {
		errs = append(errs, fmt.Errorf("verification.accuracy_threshold %.2f is out of range [0, 1]", cfg.Verification.AccuracyThreshold))
	}

	// Alert rules
	ruleIDsSeen := make(map[string]int, len(cfg.Alerting.Rules))
	for i, rc := range cfg.Alerting.Rules {
		prefix := fmt.Sprintf("alerting.rules[%d]", i)
		rule := rc.Rule()
		if err := alerting.ValidateRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if rule.ID != "" {
			if prev, ok := ruleIDsSeen[rule.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of alerting.rules[%d]", prefix, rule.ID, prev))
			}
			ruleIDsSeen[rule.ID] = i
		}
		validateMetricName(prefix, rc.Metric)
	}

	// Aggregation windows
	windowKeysSeen := make(map[string]int, len(cfg.Aggregation.Windows))
	for i, w := range cfg.Aggregation.Windows {
		prefix := fmt.Sprintf("aggregation.windows[%d]", i)
		if w.Key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		} else {
			if prev, ok := windowKeysSeen[w.Key]; ok {
				errs = append(errs, fmt.Errorf("%s.key %q is a duplicate of aggregation.windows[%d]", prefix, w.Key, prev))
			}
			windowKeysSeen[w.Key] = i
		}
		if w.Span <= 0 {
			errs = append(errs, fmt.Errorf("%s.span is required and must be positive", prefix))
		}
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; verification records and alerts will be kept in memory only")
	}

	return errors.Join(errs...)
}

// validateMetricName logs a warning if name is non-empty and not found in
// [KnownMetricNames].
func validateMetricName(prefix, name string) {
	if name == "" || slices.Contains(KnownMetricNames, name) {
		return
	}
	slog.Warn("unknown metric name in alert rule — may be a typo; rule will never fire",
		"rule", prefix,
		"metric", name,
		"known", KnownMetricNames,
	)
}
