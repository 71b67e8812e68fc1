package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tan-res-space/rag-interface-sub006/internal/events"
	"github.com/tan-res-space/rag-interface-sub006/internal/quality"
)

const (
	defaultConfidenceThreshold = 0.8
	defaultAccuracyThreshold   = 0.9

	// transitionAttempts bounds the re-read loop when a conditional update
	// loses a race with a concurrent transition.
	transitionAttempts = 3
)

// Option configures a [Workflow].
type Option func(*Workflow)

// WithConfidenceThreshold sets the confidence below which a new record is
// routed to needs_review. Default: 0.8.
func WithConfidenceThreshold(v float64) Option {
	return func(w *Workflow) { w.confidenceThreshold = v }
}

// WithAccuracyThreshold sets the computed accuracy below which a new record
// is routed to needs_review. Default: 0.9.
func WithAccuracyThreshold(v float64) Option {
	return func(w *Workflow) { w.accuracyThreshold = v }
}

// WithCriticalCategories overrides the category tags that force manual
// review. Default: only [CategoryCritical].
func WithCriticalCategories(categories []string) Option {
	return func(w *Workflow) { w.critical = slices.Clone(categories) }
}

// Workflow drives the verification state machine. It is safe for concurrent
// use; per-record serialisation relies on the store's conditional updates.
type Workflow struct {
	store     Store
	publisher events.Publisher

	confidenceThreshold float64
	accuracyThreshold   float64
	critical            []string
	now                 func() time.Time
}

// NewWorkflow creates a [Workflow] backed by store, emitting completion
// events through publisher.
func NewWorkflow(store Store, publisher events.Publisher, opts ...Option) *Workflow {
	w := &Workflow{
		store:               store,
		publisher:           publisher,
		confidenceThreshold: defaultConfidenceThreshold,
		accuracyThreshold:   defaultAccuracyThreshold,
		critical:            []string{CategoryCritical},
		now:                 time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Create builds a verification record for a correction-applied event,
// applies the auto-routing rule, and persists it.
//
// The record starts pending and is routed to needs_review when the event's
// confidence is below the confidence threshold, when its categories include a
// critical tag, or when the computed accuracy is below the accuracy
// threshold. Otherwise it stays pending and is eligible for batch approval.
func (w *Workflow) Create(ctx context.Context, ev events.CorrectionApplied, m quality.Metrics) (*Record, error) {
	rec := &Record{
		ID:           uuid.NewString(),
		CorrectionID: ev.CorrectionID,
		Status:       StatusPending,
		Metrics:      m,
		Categories:   slices.Clone(ev.ErrorCategories),
		CreatedAt:    w.now().UTC(),
	}

	if reason := w.reviewReason(ev, m); reason != "" {
		rec.Status = StatusNeedsReview
		slog.InfoContext(ctx, "correction routed to manual review",
			"correction_id", ev.CorrectionID,
			"reason", reason,
		)
	}

	if err := w.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("verification: create record: %w", err)
	}
	return rec, nil
}

// reviewReason returns a non-empty routing reason when the auto-routing rule
// sends the correction to manual review.
func (w *Workflow) reviewReason(ev events.CorrectionApplied, m quality.Metrics) string {
	if ev.ConfidenceScore < w.confidenceThreshold {
		return "low confidence"
	}
	for _, c := range ev.ErrorCategories {
		if slices.Contains(w.critical, c) {
			return "critical category"
		}
	}
	if m.Accuracy < w.accuracyThreshold {
		return "low accuracy"
	}
	return ""
}

// Feedback is a verifier's judgment of one record.
type Feedback struct {
	// Target is the requested status: approved, rejected, or needs_review
	// (re-queue).
	Target Status

	// QualityScore is a 1–5 rating. 0 leaves the record unrated.
	QualityScore int

	Notes      string
	VerifierID string
}

// SubmitFeedback applies fb to the record identified by id.
//
// Transitions out of approved or rejected fail with [ErrInvalidTransition],
// as do unknown targets and out-of-range quality scores. On a successful
// terminal transition a [events.VerificationCompleted] event is emitted after
// the write is durable; re-queueing to needs_review emits nothing.
func (w *Workflow) SubmitFeedback(ctx context.Context, id string, fb Feedback) (*Record, error) {
	switch fb.Target {
	case StatusApproved, StatusRejected, StatusNeedsReview:
	default:
		return nil, fmt.Errorf("%w: target status %q", ErrInvalidTransition, fb.Target)
	}
	if fb.QualityScore != 0 && (fb.QualityScore < 1 || fb.QualityScore > 5) {
		return nil, fmt.Errorf("%w: quality score %d is out of range [1,5]", ErrInvalidTransition, fb.QualityScore)
	}

	var rec *Record
	for attempt := 0; ; attempt++ {
		var err error
		rec, err = w.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("verification: load record %s: %w", id, err)
		}
		if rec.Status.Terminal() {
			return nil, fmt.Errorf("%w: record %s is already %s", ErrInvalidTransition, id, rec.Status)
		}

		at := w.now().UTC()
		rec.Status = fb.Target
		rec.QualityScore = fb.QualityScore
		rec.Feedback = fb.Notes
		rec.VerifiedBy = fb.VerifierID
		rec.VerifiedAt = &at

		err = w.store.Update(ctx, rec)
		if err == nil {
			break
		}
		if attempt+1 >= transitionAttempts || !isVersionConflict(err) {
			return nil, fmt.Errorf("verification: transition record %s: %w", id, err)
		}
		// Lost the race; re-read and re-validate against the new state.
	}

	if rec.Status.Terminal() && w.publisher != nil {
		ev := events.VerificationCompleted{
			VerificationID: rec.ID,
			CorrectionID:   rec.CorrectionID,
			Status:         string(rec.Status),
			QualityScore:   rec.QualityScore,
			VerifiedAt:     *rec.VerifiedAt,
		}
		if err := w.publisher.Publish(ctx, ev); err != nil {
			// The transition is durable; delivery is at-least-once with
			// idempotent consumers, so log and move on.
			slog.WarnContext(ctx, "verification completed event not delivered",
				"record_id", rec.ID, "err", err)
		}
	}

	return rec, nil
}

// List exposes record queries to the read API.
func (w *Workflow) List(ctx context.Context, f Filter) ([]Record, error) {
	recs, err := w.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("verification: list records: %w", err)
	}
	return recs, nil
}

// Get exposes single-record lookup to the read API.
func (w *Workflow) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("verification: get record %s: %w", id, err)
	}
	return rec, nil
}

func isVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
