// Package verification implements the per-correction verification state
// machine. Every correction-applied event produces a [Record] that is either
// auto-routed to manual review or left pending for lightweight approval;
// verifier feedback transitions records towards the terminal approved and
// rejected states.
package verification

import (
	"context"
	"errors"
	"time"

	"github.com/tan-res-space/rag-interface-sub006/internal/quality"
)

// Status is the state of a [Record] in the verification state machine.
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusNeedsReview Status = "needs_review"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusNeedsReview:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Well-known error categories attached to correction events. The category
// set is open: unknown strings are carried through unchanged for
// forward-compatibility, these constants only name the ones this core
// inspects or aggregates.
const (
	CategoryCritical      = "critical"
	CategoryGrammar       = "grammar"
	CategorySpelling      = "spelling"
	CategoryPronunciation = "pronunciation"
	CategoryTerminology   = "terminology"
)

// Record is one correction's verification state. Records are never deleted,
// only transitioned; Version supports optimistic conditional updates at the
// storage boundary.
type Record struct {
	ID           string          `json:"id"`
	CorrectionID string          `json:"correction_id"`
	Status       Status          `json:"status"`
	Metrics      quality.Metrics `json:"metrics"`
	Categories   []string        `json:"categories,omitempty"`

	// QualityScore is the verifier's 1–5 rating; 0 means not yet rated.
	QualityScore int    `json:"quality_score,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
	VerifiedBy   string `json:"verified_by,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	Version int64 `json:"-"`
}

// Errors returned by the workflow and its stores.
var (
	// ErrInvalidTransition reports a feedback submission against a terminal
	// record or with an unknown target status. Surfaced to callers as a
	// client error; never retried.
	ErrInvalidTransition = errors.New("invalid verification transition")

	// ErrNotFound reports a lookup for an unknown record.
	ErrNotFound = errors.New("verification record not found")

	// ErrVersionConflict reports a conditional update that lost a race with a
	// concurrent transition on the same record.
	ErrVersionConflict = errors.New("verification record version conflict")
)

// Filter narrows [Store.List] results. Zero values mean "no constraint".
type Filter struct {
	Status   Status
	Category string
	Limit    int
	Offset   int
}

// Store persists verification records.
//
// Update is a conditional write: it must only succeed when the stored
// record's version equals the version carried by the passed record, and must
// return [ErrVersionConflict] otherwise. This serialises concurrent
// transitions on the same record without holding locks across the
// persistence boundary.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
}
