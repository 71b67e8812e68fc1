// Package processor runs the per-event pipeline of the verification core:
// decode, align, compute quality metrics, create the verification record,
// evaluate alert rules, and fold the trailing-window aggregates.
//
// Malformed events are routed to the dead-letter store and never retried.
// Persistence failures are retried with bounded exponential backoff behind a
// circuit breaker; an event whose record cannot be persisted after all
// attempts is dead-lettered as well, so no correction is silently dropped.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tan-res-space/rag-interface-sub006/internal/aggregate"
	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"github.com/tan-res-space/rag-interface-sub006/internal/align"
	"github.com/tan-res-space/rag-interface-sub006/internal/deadletter"
	"github.com/tan-res-space/rag-interface-sub006/internal/events"
	"github.com/tan-res-space/rag-interface-sub006/internal/observe"
	"github.com/tan-res-space/rag-interface-sub006/internal/quality"
	"github.com/tan-res-space/rag-interface-sub006/internal/resilience"
	"github.com/tan-res-space/rag-interface-sub006/internal/verification"
)

// Dead-letter reasons.
const (
	ReasonMalformed            = "malformed_event"
	ReasonPersistenceExhausted = "persistence_exhausted"
)

// Config bundles the processor's collaborators. Aligner, Calculator,
// Workflow, and Aggregator are required; the rest may be nil (Evaluator,
// DeadLetters, Metrics, Breaker) and the matching pipeline step is skipped.
type Config struct {
	Aligner     *align.Aligner
	Calculator  *quality.Calculator
	Workflow    *verification.Workflow
	Evaluator   *alerting.Evaluator
	Aggregator  *aggregate.Aggregator
	DeadLetters deadletter.Store
	Metrics     *observe.Metrics

	Retry   resilience.RetryConfig
	Breaker *resilience.Breaker
}

// Processor executes the correction-event pipeline. Safe for concurrent use;
// all mutable state lives in the collaborators.
type Processor struct {
	cfg Config
}

// New returns a [Processor] over cfg.
func New(cfg Config) (*Processor, error) {
	if cfg.Aligner == nil || cfg.Calculator == nil || cfg.Workflow == nil || cfg.Aggregator == nil {
		return nil, errors.New("processor: aligner, calculator, workflow, and aggregator are required")
	}
	return &Processor{cfg: cfg}, nil
}

// HandleRaw decodes a raw event payload and runs the pipeline. Malformed
// payloads are dead-lettered and reported as handled (nil error): retrying
// them cannot succeed.
func (p *Processor) HandleRaw(ctx context.Context, payload []byte) error {
	ev, err := events.DecodeCorrectionApplied(payload)
	if err != nil {
		if errors.Is(err, events.ErrMalformedEvent) {
			p.deadLetter(ctx, ReasonMalformed, err, payload)
			p.recordEvent(ctx, "dead_letter")
			return nil
		}
		return fmt.Errorf("processor: decode event: %w", err)
	}
	return p.Process(ctx, ev)
}

// Process runs the pipeline for one decoded correction event. It is the
// worker pool's handler.
func (p *Processor) Process(ctx context.Context, ev events.CorrectionApplied) error {
	ctx, span := observe.StartSpan(ctx, "processor.Process")
	defer span.End()
	start := time.Now()

	m := p.computeMetrics(ctx, ev)

	rec, err := p.persistRecord(ctx, ev, m)
	if err != nil {
		// The event is preserved for operator replay; an operational rule
		// over persistence_failures surfaces the outage.
		payload, merr := json.Marshal(ev)
		if merr != nil {
			payload = []byte(fmt.Sprintf("%+v", ev))
		}
		p.deadLetter(ctx, ReasonPersistenceExhausted, err, payload)
		p.evaluateAlert(ctx, "persistence_failures", 1)
		p.recordEvent(ctx, "error")
		return fmt.Errorf("processor: persist record for correction %s: %w", ev.CorrectionID, err)
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordRouting(ctx, string(rec.Status))
	}

	p.evaluateMetrics(ctx, m)

	p.cfg.Aggregator.Fold(aggregate.Sample{
		Timestamp:  ev.Timestamp,
		Metrics:    m,
		Status:     string(rec.Status),
		Categories: ev.ErrorCategories,
	})
	p.cfg.Aggregator.Invalidate(ev.Timestamp)

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ProcessDuration.Record(ctx, time.Since(start).Seconds())
	}
	p.recordEvent(ctx, "ok")

	observe.Logger(ctx).Debug("correction processed",
		"correction_id", ev.CorrectionID,
		"record_id", rec.ID,
		"status", rec.Status,
		"wer", m.WordErrorRate,
	)
	return nil
}

// computeMetrics aligns the transcripts and derives quality metrics. When the
// event carries a reference transcript, both it and the corrected text are
// aligned against it so the improvement ratio can be reported.
func (p *Processor) computeMetrics(ctx context.Context, ev events.CorrectionApplied) quality.Metrics {
	alignStart := time.Now()
	res := p.cfg.Aligner.Align(align.Words(ev.OriginalText), align.Words(ev.CorrectedText))

	in := quality.Input{
		Alignment:     res,
		OriginalText:  ev.OriginalText,
		CorrectedText: ev.CorrectedText,
		Confidence:    ev.ConfidenceScore,
	}
	if ev.ReferenceText != "" {
		ref := align.Words(ev.ReferenceText)
		origVsRef := p.cfg.Aligner.Align(align.Words(ev.OriginalText), ref)
		corrVsRef := p.cfg.Aligner.Align(align.Words(ev.CorrectedText), ref)
		in.OriginalVsReference = &origVsRef
		in.CorrectedVsReference = &corrVsRef
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.AlignDuration.Record(ctx, time.Since(alignStart).Seconds())
	}

	return p.cfg.Calculator.Compute(in)
}

// persistRecord creates the verification record, retrying transient storage
// failures behind the circuit breaker.
func (p *Processor) persistRecord(ctx context.Context, ev events.CorrectionApplied, m quality.Metrics) (*verification.Record, error) {
	var rec *verification.Record
	attempt := func(ctx context.Context) error {
		create := func() error {
			var err error
			rec, err = p.cfg.Workflow.Create(ctx, ev, m)
			return err
		}
		if p.cfg.Breaker != nil {
			return p.cfg.Breaker.Do(create)
		}
		return create()
	}
	if err := resilience.Retry(ctx, p.cfg.Retry, attempt); err != nil {
		return nil, err
	}
	return rec, nil
}

// evaluateMetrics runs every alert rule against the metric values of this
// correction.
func (p *Processor) evaluateMetrics(ctx context.Context, m quality.Metrics) {
	values := map[string]float64{
		"word_error_rate":      m.WordErrorRate,
		"accuracy":             m.Accuracy,
		"similarity":           m.Similarity,
		"sentence_error_score": m.SentenceErrorScore,
		"confidence":           m.Confidence,
	}
	if m.ImprovementRatio != nil {
		values["improvement_ratio"] = *m.ImprovementRatio
	}
	for name, value := range values {
		p.evaluateAlert(ctx, name, value)
	}
}

func (p *Processor) evaluateAlert(ctx context.Context, metricName string, value float64) {
	if p.cfg.Evaluator == nil {
		return
	}
	transitions, err := p.cfg.Evaluator.Evaluate(ctx, metricName, value)
	if err != nil {
		observe.Logger(ctx).Warn("alert evaluation failed", "metric", metricName, "err", err)
		return
	}
	if p.cfg.Metrics == nil {
		return
	}
	for _, tr := range transitions {
		p.cfg.Metrics.RecordAlertTransition(ctx, string(tr.Kind), string(tr.Alert.Severity))
		switch tr.Kind {
		case alerting.TransitionActivated:
			p.cfg.Metrics.ActiveAlerts.Add(ctx, 1)
		case alerting.TransitionResolved:
			p.cfg.Metrics.ActiveAlerts.Add(ctx, -1)
		}
	}
}

func (p *Processor) deadLetter(ctx context.Context, reason string, cause error, payload []byte) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordDeadLetter(ctx, reason)
	}
	if p.cfg.DeadLetters == nil {
		observe.Logger(ctx).Error("event dropped, no dead-letter store configured",
			"reason", reason, "err", cause)
		return
	}
	if err := p.cfg.DeadLetters.Add(ctx, reason, cause, payload); err != nil {
		observe.Logger(ctx).Error("dead-letter append failed",
			"reason", reason, "cause", cause, "err", err)
		return
	}
	observe.Logger(ctx).Warn("event dead-lettered", "reason", reason, "err", cause)
}

func (p *Processor) recordEvent(ctx context.Context, status string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordEvent(ctx, status)
	}
}
