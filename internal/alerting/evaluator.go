package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tan-res-space/rag-interface-sub006/internal/events"
)

// defaultRecoveryPasses is how many consecutive in-bound evaluations resolve
// an active alert. Configurable policy, not a fixed contract.
const defaultRecoveryPasses = 3

// TransitionKind labels what [Evaluator.Evaluate] did to a rule's alert.
type TransitionKind string

const (
	TransitionActivated TransitionKind = "activated"
	TransitionResolved  TransitionKind = "resolved"
)

// Transition is one alert state change produced by an evaluation pass.
type Transition struct {
	Kind  TransitionKind
	Alert Alert
}

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithRecoveryPasses sets the number of consecutive passing evaluations
// required to resolve an active alert. Default: 3.
func WithRecoveryPasses(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.recoveryPasses = n
		}
	}
}

// ruleState carries the per-rule lock and recovery counter. The lock
// serialises the check-then-create sequence so two concurrent evaluations
// cannot both pass the "no unresolved alert" check.
type ruleState struct {
	mu         sync.Mutex
	recoveries int
}

// Evaluator checks metric values against alert rules and drives the alert
// lifecycle. Safe for concurrent use.
type Evaluator struct {
	rules     []Rule
	store     Store
	publisher events.Publisher

	recoveryPasses int
	now            func() time.Time

	mu     sync.Mutex
	states map[string]*ruleState
}

// NewEvaluator creates an [Evaluator] over the given rule set. Invalid rules
// are rejected.
func NewEvaluator(rules []Rule, store Store, publisher events.Publisher, opts ...Option) (*Evaluator, error) {
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return nil, err
		}
	}
	e := &Evaluator{
		rules:          rules,
		store:          store,
		publisher:      publisher,
		recoveryPasses: defaultRecoveryPasses,
		now:            time.Now,
		states:         make(map[string]*ruleState),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// state returns the [ruleState] for ruleID, creating it on first use.
func (e *Evaluator) state(ruleID string) *ruleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ruleID]
	if !ok {
		st = &ruleState{}
		e.states[ruleID] = st
	}
	return st
}

// Evaluate checks value against every active rule for metricName and returns
// the alert transitions that occurred.
//
// A rule whose condition holds activates a new alert only when no unresolved
// alert exists for it; an existing unresolved alert is left untouched
// (triggeredAt is not updated). A rule whose condition no longer holds
// increments the rule's recovery counter; reaching the configured pass count
// resolves the alert. Any failing-to-passing flap resets the counter.
func (e *Evaluator) Evaluate(ctx context.Context, metricName string, value float64) ([]Transition, error) {
	var transitions []Transition

	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	for _, rule := range rules {
		if !rule.Active || rule.MetricName != metricName {
			continue
		}
		tr, err := e.evaluateRule(ctx, rule, value)
		if err != nil {
			return transitions, err
		}
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}
	return transitions, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule Rule, value float64) (*Transition, error) {
	st := e.state(rule.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	active, err := e.store.Unresolved(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("alerting: load unresolved alert for rule %s: %w", rule.ID, err)
	}

	if rule.Condition.Holds(value, rule.Threshold) {
		st.recoveries = 0
		if active != nil {
			// Dedup invariant: the existing alert stays active untouched.
			return nil, nil
		}

		alert := Alert{
			ID:       uuid.NewString(),
			RuleID:   rule.ID,
			Severity: rule.Severity,
			Message: fmt.Sprintf("metric %s value %.4f %s threshold %.4f",
				rule.MetricName, value, rule.Condition, rule.Threshold),
			TriggeredAt: e.now().UTC(),
		}
		if err := e.store.Create(ctx, &alert); err != nil {
			return nil, fmt.Errorf("alerting: create alert for rule %s: %w", rule.ID, err)
		}
		e.publish(ctx, events.AlertActivated{
			AlertID:     alert.ID,
			RuleID:      alert.RuleID,
			Severity:    string(alert.Severity),
			Message:     alert.Message,
			TriggeredAt: alert.TriggeredAt,
		})
		return &Transition{Kind: TransitionActivated, Alert: alert}, nil
	}

	// In bound. Nothing to do without an active alert.
	if active == nil {
		st.recoveries = 0
		return nil, nil
	}

	st.recoveries++
	if st.recoveries < e.recoveryPasses {
		return nil, nil
	}

	at := e.now().UTC()
	if err := e.store.Resolve(ctx, active.ID, at); err != nil {
		return nil, fmt.Errorf("alerting: resolve alert %s: %w", active.ID, err)
	}
	st.recoveries = 0
	resolved := *active
	resolved.ResolvedAt = &at

	e.publish(ctx, events.AlertResolved{AlertID: resolved.ID, ResolvedAt: at})
	return &Transition{Kind: TransitionResolved, Alert: resolved}, nil
}

func (e *Evaluator) publish(ctx context.Context, ev events.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		// The alert state is durable; delivery is at-least-once.
		slog.WarnContext(ctx, "alert event not delivered", "type", ev.EventType(), "err", err)
	}
}

// UpdateRules replaces the rule set after validating it, allowing rule
// changes to take effect without a restart. Recovery counters for rules no
// longer present are dropped; counters for surviving rules are kept so an
// in-flight recovery is not restarted by an unrelated edit.
func (e *Evaluator) UpdateRules(rules []Rule) error {
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return err
		}
	}
	keep := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		keep[r.ID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	for id := range e.states {
		if _, ok := keep[id]; !ok {
			delete(e.states, id)
		}
	}
	return nil
}

// Acknowledge marks an alert acknowledged. Acknowledgement is an external
// action and has no effect on resolution.
func (e *Evaluator) Acknowledge(ctx context.Context, alertID string) error {
	if err := e.store.Acknowledge(ctx, alertID); err != nil {
		return fmt.Errorf("alerting: acknowledge alert %s: %w", alertID, err)
	}
	return nil
}

// List exposes alert queries to the read API.
func (e *Evaluator) List(ctx context.Context, f Filter) ([]Alert, error) {
	alerts, err := e.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("alerting: list alerts: %w", err)
	}
	return alerts, nil
}
