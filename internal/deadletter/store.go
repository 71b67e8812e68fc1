// Package deadletter stores correction events that could not be processed:
// malformed payloads and events whose persistence retries were exhausted.
// Entries are written append-only as JSON lines so an operator can inspect
// and replay them; nothing in this core re-reads the file automatically.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one dead-lettered event.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Store receives events that processing has given up on. Implementations
// must be safe for concurrent use.
type Store interface {
	Add(ctx context.Context, reason string, cause error, payload []byte) error
}

// Compile-time interface checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemStore)(nil)
)

// FileStore persists dead letters as JSON lines in a local file, one entry
// per line. The file is created on first write.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a [FileStore] writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Add implements [Store].
func (s *FileStore) Add(ctx context.Context, reason string, cause error, payload []byte) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Payload:   json.RawMessage(payload),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if !json.Valid(payload) {
		// Preserve unparsable payloads as a JSON string instead of dropping them.
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("deadletter: quote payload: %w", err)
		}
		entry.Payload = quoted
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("deadletter: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("deadletter: write: %w", err)
	}
	return nil
}

// MemStore collects dead letters in memory for tests.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Add implements [Store].
func (s *MemStore) Add(ctx context.Context, reason string, cause error, payload []byte) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Payload:   json.RawMessage(payload),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// Entries returns a copy of the collected entries.
func (s *MemStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
