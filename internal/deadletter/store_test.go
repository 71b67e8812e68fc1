package deadletter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead.jsonl")
	s := NewFileStore(path)
	ctx := context.Background()

	if err := s.Add(ctx, "malformed_event", errors.New("missing correctionId"), []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, "persistence_failure", nil, []byte(`not json at all`)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Reason != "malformed_event" || entries[0].Error == "" {
		t.Errorf("first entry = %+v", entries[0])
	}

	// The unparsable payload must survive as a JSON string.
	var raw string
	if err := json.Unmarshal(entries[1].Payload, &raw); err != nil {
		t.Fatalf("second payload not a JSON string: %v", err)
	}
	if raw != "not json at all" {
		t.Errorf("payload = %q, want original text preserved", raw)
	}
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	if err := s.Add(context.Background(), "malformed_event", nil, []byte(`{}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Reason != "malformed_event" {
		t.Errorf("reason = %q", entries[0].Reason)
	}
}
