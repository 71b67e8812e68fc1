// Package alerting evaluates threshold rules over the quality metric stream.
//
// Rules are configuration entities created and edited externally; this core
// reads them, compares incoming metric values against their thresholds, and
// maintains the resulting [Alert] lifecycle: at most one unresolved alert per
// rule at any time, with recovery hysteresis so that a metric flapping around
// its threshold does not storm downstream notification channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Condition compares a metric value against a rule threshold.
type Condition string

const (
	CondGT  Condition = "gt"
	CondGTE Condition = "gte"
	CondLT  Condition = "lt"
	CondLTE Condition = "lte"
	CondEQ  Condition = "eq"
)

// IsValid reports whether c is a recognised condition.
func (c Condition) IsValid() bool {
	switch c {
	case CondGT, CondGTE, CondLT, CondLTE, CondEQ:
		return true
	}
	return false
}

// Holds reports whether value satisfies the condition against threshold.
func (c Condition) Holds(value, threshold float64) bool {
	switch c {
	case CondGT:
		return value > threshold
	case CondGTE:
		return value >= threshold
	case CondLT:
		return value < threshold
	case CondLTE:
		return value <= threshold
	case CondEQ:
		return value == threshold
	}
	return false
}

// Severity labels the urgency of a rule and the alerts it produces.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a recognised severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Rule is one configured threshold condition over a named metric. Read-only
// to this core.
type Rule struct {
	ID         string    `json:"id"`
	MetricName string    `json:"metric_name"`
	Condition  Condition `json:"condition"`
	Threshold  float64   `json:"threshold"`
	Severity   Severity  `json:"severity"`
	Active     bool      `json:"active"`
}

// Alert is one activation of a rule. At most one unresolved alert exists per
// rule at any time.
type Alert struct {
	ID           string     `json:"id"`
	RuleID       string     `json:"rule_id"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	TriggeredAt  time.Time  `json:"triggered_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
}

// ErrAlertNotFound reports a lookup for an unknown alert.
var ErrAlertNotFound = errors.New("alert not found")

// Filter narrows [Store.List] results. Nil pointer fields mean "no
// constraint".
type Filter struct {
	Severity     Severity
	Acknowledged *bool
	Unresolved   bool
	Limit        int
}

// Store persists alerts. Implementations must be safe for concurrent use;
// the evaluator provides the per-rule mutual exclusion around its
// check-then-create sequence, so stores only need plain atomic operations.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Unresolved(ctx context.Context, ruleID string) (*Alert, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	Acknowledge(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]Alert, error)
}

// ValidateRule checks a rule definition, returning a descriptive error for
// the first problem found.
func ValidateRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("alert rule: id is required")
	}
	if r.MetricName == "" {
		return fmt.Errorf("alert rule %s: metric_name is required", r.ID)
	}
	if !r.Condition.IsValid() {
		return fmt.Errorf("alert rule %s: condition %q is invalid; valid values: gt, gte, lt, lte, eq", r.ID, r.Condition)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("alert rule %s: severity %q is invalid; valid values: info, warning, critical", r.ID, r.Severity)
	}
	return nil
}
