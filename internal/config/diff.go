package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RulesChanged bool       // true if any alert rule was added, removed, or modified
	RuleChanges  []RuleDiff // per-rule diffs
}

// RuleDiff describes what changed for a single alert rule between two configs.
type RuleDiff struct {
	ID       string
	Modified bool
	Added    bool
	Removed  bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build rule lookup maps keyed by rule ID.
	oldRules := make(map[string]RuleConfig, len(old.Alerting.Rules))
	for _, r := range old.Alerting.Rules {
		oldRules[r.ID] = r
	}
	newRules := make(map[string]RuleConfig, len(new.Alerting.Rules))
	for _, r := range new.Alerting.Rules {
		newRules[r.ID] = r
	}

	// Detect modified and removed rules.
	for id, oldRule := range oldRules {
		newRule, exists := newRules[id]
		if !exists {
			d.RuleChanges = append(d.RuleChanges, RuleDiff{ID: id, Removed: true})
			d.RulesChanged = true
			continue
		}
		if oldRule.Rule() != newRule.Rule() {
			d.RuleChanges = append(d.RuleChanges, RuleDiff{ID: id, Modified: true})
			d.RulesChanged = true
		}
	}

	// Detect added rules.
	for id := range newRules {
		if _, exists := oldRules[id]; !exists {
			d.RuleChanges = append(d.RuleChanges, RuleDiff{ID: id, Added: true})
			d.RulesChanged = true
		}
	}

	return d
}
