package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] used by tests and DSN-less runs.
// Safe for concurrent use.
type MemStore struct {
	mu     sync.RWMutex
	alerts map[string]Alert
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{alerts: make(map[string]Alert)}
}

// Create implements [Store].
func (s *MemStore) Create(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[a.ID]; exists {
		return fmt.Errorf("alert memstore: alert %s already exists", a.ID)
	}
	s.alerts[a.ID] = *a
	return nil
}

// Unresolved implements [Store]. Returns nil, nil when the rule has no
// unresolved alert.
func (s *MemStore) Unresolved(ctx context.Context, ruleID string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.RuleID == ruleID && a.ResolvedAt == nil {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

// Resolve implements [Store].
func (s *MemStore) Resolve(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert memstore: %w: %s", ErrAlertNotFound, id)
	}
	a.ResolvedAt = &at
	s.alerts[id] = a
	return nil
}

// Acknowledge implements [Store].
func (s *MemStore) Acknowledge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert memstore: %w: %s", ErrAlertNotFound, id)
	}
	a.Acknowledged = true
	s.alerts[id] = a
	return nil
}

// List implements [Store]. Results are ordered by trigger time, newest first.
func (s *MemStore) List(ctx context.Context, f Filter) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Alert{}
	for _, a := range s.alerts {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
			continue
		}
		if f.Unresolved && a.ResolvedAt != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}
