// Package events defines the event contracts of the verification core: the
// inbound CorrectionApplied event consumed from the correction engine and the
// outbound events produced for dashboards and the notification service.
//
// Inbound payloads are decoded with [DecodeCorrectionApplied], which enforces
// the required fields and timestamp format. Malformed payloads are rejected
// with [ErrMalformedEvent] and must be routed to the dead-letter store by the
// caller — they are never retried.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEvent reports an inbound event missing required fields or
// carrying an unparsable timestamp.
var ErrMalformedEvent = errors.New("malformed event")

// CorrectionApplied is the inbound event emitted by the correction engine
// whenever a corrected transcript has been produced.
type CorrectionApplied struct {
	CorrectionID    string    `json:"correctionId"`
	OriginalText    string    `json:"originalText"`
	CorrectedText   string    `json:"correctedText"`
	ReferenceText   string    `json:"referenceText,omitempty"`
	ConfidenceScore float64   `json:"confidenceScore"`
	ErrorCategories []string  `json:"errorCategories"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventType implements [Event].
func (CorrectionApplied) EventType() string { return "correction.applied" }

// correctionAppliedWire is the raw JSON shape of a CorrectionApplied payload,
// kept separate so the timestamp can be validated explicitly.
type correctionAppliedWire struct {
	CorrectionID    string   `json:"correctionId"`
	OriginalText    string   `json:"originalText"`
	CorrectedText   string   `json:"correctedText"`
	ReferenceText   string   `json:"referenceText"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	ErrorCategories []string `json:"errorCategories"`
	Timestamp       string   `json:"timestamp"`
}

// DecodeCorrectionApplied parses and validates a raw CorrectionApplied
// payload. All validation failures wrap [ErrMalformedEvent].
func DecodeCorrectionApplied(payload []byte) (CorrectionApplied, error) {
	var w correctionAppliedWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return CorrectionApplied{}, fmt.Errorf("%w: decode json: %v", ErrMalformedEvent, err)
	}

	if w.CorrectionID == "" {
		return CorrectionApplied{}, fmt.Errorf("%w: correctionId is required", ErrMalformedEvent)
	}
	if w.CorrectedText == "" {
		return CorrectionApplied{}, fmt.Errorf("%w: correctedText is required", ErrMalformedEvent)
	}
	if w.ConfidenceScore == nil {
		return CorrectionApplied{}, fmt.Errorf("%w: confidenceScore is required", ErrMalformedEvent)
	}
	if *w.ConfidenceScore < 0 || *w.ConfidenceScore > 1 {
		return CorrectionApplied{}, fmt.Errorf("%w: confidenceScore %v is out of range [0,1]", ErrMalformedEvent, *w.ConfidenceScore)
	}
	if w.Timestamp == "" {
		return CorrectionApplied{}, fmt.Errorf("%w: timestamp is required", ErrMalformedEvent)
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return CorrectionApplied{}, fmt.Errorf("%w: timestamp %q is not RFC 3339: %v", ErrMalformedEvent, w.Timestamp, err)
	}

	return CorrectionApplied{
		CorrectionID:    w.CorrectionID,
		OriginalText:    w.OriginalText,
		CorrectedText:   w.CorrectedText,
		ReferenceText:   w.ReferenceText,
		ConfidenceScore: *w.ConfidenceScore,
		ErrorCategories: w.ErrorCategories,
		Timestamp:       ts,
	}, nil
}

// VerificationCompleted is emitted when a verification record reaches a
// terminal state through a verifier action.
type VerificationCompleted struct {
	VerificationID string    `json:"verificationId"`
	CorrectionID   string    `json:"correctionId"`
	Status         string    `json:"status"`
	QualityScore   int       `json:"qualityScore,omitempty"`
	VerifiedAt     time.Time `json:"verifiedAt"`
}

// EventType implements [Event].
func (VerificationCompleted) EventType() string { return "verification.completed" }

// AlertActivated is emitted exactly once per alert activation.
type AlertActivated struct {
	AlertID     string    `json:"alertId"`
	RuleID      string    `json:"ruleId"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

// EventType implements [Event].
func (AlertActivated) EventType() string { return "alert.activated" }

// AlertResolved is emitted when an active alert's metric has stayed in bound
// long enough to resolve it.
type AlertResolved struct {
	AlertID    string    `json:"alertId"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// EventType implements [Event].
func (AlertResolved) EventType() string { return "alert.resolved" }

// Event is implemented by every outbound event type.
type Event interface {
	EventType() string
}
