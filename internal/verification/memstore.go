package verification

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] used by tests and DSN-less runs. It
// honours the same conditional-update contract as the PostgreSQL store.
// Safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

// Create implements [Store].
func (s *MemStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("memstore: record %s already exists", rec.ID)
	}
	rec.Version = 1
	s.records[rec.ID] = *rec
	s.order = append(s.order, rec.ID)
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", ErrNotFound, id)
	}
	out := rec
	return &out, nil
}

// Update implements [Store]. The write succeeds only when rec.Version matches
// the stored version; the stored version is then incremented.
func (s *MemStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("memstore: %w: %s", ErrNotFound, rec.ID)
	}
	if stored.Version != rec.Version {
		return fmt.Errorf("memstore: %w: %s", ErrVersionConflict, rec.ID)
	}
	rec.Version++
	s.records[rec.ID] = *rec
	return nil
}

// List implements [Store]. Results are ordered by creation time, newest
// first.
func (s *MemStore) List(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, id := range s.order {
		rec := s.records[id]
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Category != "" && !containsCategory(rec.Categories, f.Category) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Record{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func containsCategory(categories []string, want string) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}
