// Package quality derives error-rate and improvement metrics from token
// alignments. All metric values are in [0, 1] except the improvement ratio,
// which is negative when a correction made the transcript worse.
//
// The calculator is pure: it performs no I/O and is safe for concurrent use.
package quality

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/tan-res-space/rag-interface-sub006/internal/align"
)

// defaultEpsilon guards the improvement-ratio denominator against an
// error-free original transcript.
const defaultEpsilon = 1e-9

// Metrics is the set of quality metrics computed for one correction. It is
// computed once per correction and immutable afterwards.
type Metrics struct {
	// WordErrorRate is (substitutions + deletions + insertions) divided by
	// the original token count.
	WordErrorRate float64 `json:"word_error_rate"`

	// Accuracy is 1 - WordErrorRate, clamped to [0, 1].
	Accuracy float64 `json:"accuracy"`

	// SentenceErrorScore is the fraction of sentence segments containing at
	// least one non-match operation.
	SentenceErrorScore float64 `json:"sentence_error_score"`

	// Similarity is the Jaro-Winkler similarity of the original and corrected
	// text, a span-independent companion to WordErrorRate for dashboards.
	Similarity float64 `json:"similarity"`

	// ImprovementRatio compares the original's and the correction's error
	// rates against a reference transcript. Nil when no reference text was
	// supplied with the correction event.
	ImprovementRatio *float64 `json:"improvement_ratio,omitempty"`

	// Confidence is passed through from the upstream correction event; this
	// core only threshold-tests it.
	Confidence float64 `json:"confidence"`
}

// Input bundles everything the calculator needs for one correction.
type Input struct {
	// Alignment is the word-level alignment of the original transcript
	// against the corrected transcript.
	Alignment align.Result

	// OriginalText and CorrectedText are the raw transcript strings the
	// alignment was computed from.
	OriginalText  string
	CorrectedText string

	// Confidence is the upstream correction engine's confidence score.
	Confidence float64

	// OriginalVsReference and CorrectedVsReference are the alignments of the
	// original and corrected transcripts against a reference transcript.
	// Both must be set (or both nil); when nil the improvement ratio is
	// omitted from the result.
	OriginalVsReference  *align.Result
	CorrectedVsReference *align.Result
}

// Option configures a [Calculator].
type Option func(*Calculator)

// WithEpsilon overrides the improvement-ratio denominator floor.
func WithEpsilon(eps float64) Option {
	return func(c *Calculator) {
		if eps > 0 {
			c.epsilon = eps
		}
	}
}

// Calculator turns alignments into [Metrics].
type Calculator struct {
	epsilon float64
}

// NewCalculator returns a [Calculator] with the supplied options applied.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{epsilon: defaultEpsilon}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compute derives [Metrics] from in.
func (c *Calculator) Compute(in Input) Metrics {
	m := Metrics{
		WordErrorRate:      ErrorRate(in.Alignment),
		SentenceErrorScore: sentenceErrorScore(in.Alignment),
		Similarity:         matchr.JaroWinkler(in.OriginalText, in.CorrectedText, false),
		Confidence:         in.Confidence,
	}
	m.Accuracy = clamp01(1 - m.WordErrorRate)

	if in.OriginalVsReference != nil && in.CorrectedVsReference != nil {
		origErr := ErrorRate(*in.OriginalVsReference)
		corrErr := ErrorRate(*in.CorrectedVsReference)
		denom := origErr
		if denom < c.epsilon {
			denom = c.epsilon
		}
		ratio := (origErr - corrErr) / denom
		m.ImprovementRatio = &ratio
	}

	return m
}

// ErrorRate returns the word error rate of an alignment: edits divided by the
// original token count. An empty original yields 0 when the corrected side is
// also empty and 1 otherwise.
func ErrorRate(res align.Result) float64 {
	if res.OriginalLength == 0 {
		if res.CorrectedLength == 0 {
			return 0
		}
		return 1
	}
	rate := float64(res.Errors()) / float64(res.OriginalLength)
	return clamp01(rate)
}

// sentenceErrorScore returns the fraction of sentence-delimited segments of
// the original token range that contain at least one non-match operation.
// Segments are split after tokens ending in '.', '!', or '?'; segments with
// zero tokens are excluded. No segments yields 0.
func sentenceErrorScore(res align.Result) float64 {
	segments := sentenceSegments(res)
	if len(segments) == 0 {
		return 0
	}

	errored := 0
	for _, seg := range segments {
		if segmentHasError(res.Ops, seg) {
			errored++
		}
	}
	return clamp01(float64(errored) / float64(len(segments)))
}

// sentenceSegments splits [0, originalLength) into sentence spans using the
// original-side text of the alignment's operations.
func sentenceSegments(res align.Result) []align.Span {
	tokens := make([]string, res.OriginalLength)
	for _, op := range res.Ops {
		if op.Original.Len() == 0 {
			continue
		}
		fields := strings.Fields(op.OriginalText)
		for i := op.Original.Start; i < op.Original.End && i-op.Original.Start < len(fields); i++ {
			tokens[i] = fields[i-op.Original.Start]
		}
	}

	var segments []align.Span
	start := 0
	for i, tok := range tokens {
		if strings.HasSuffix(tok, ".") || strings.HasSuffix(tok, "!") || strings.HasSuffix(tok, "?") {
			if i+1 > start {
				segments = append(segments, align.Span{Start: start, End: i + 1})
			}
			start = i + 1
		}
	}
	if start < len(tokens) {
		segments = append(segments, align.Span{Start: start, End: len(tokens)})
	}
	return segments
}

// segmentHasError reports whether any non-match operation touches the
// original-side span seg. Insertions (empty original span) count against the
// segment containing their anchor position.
func segmentHasError(ops []align.Op, seg align.Span) bool {
	for _, op := range ops {
		if op.Kind == align.OpMatch {
			continue
		}
		if op.Original.Len() == 0 {
			// Insertion anchored at op.Original.Start.
			p := op.Original.Start
			if p >= seg.Start && p <= seg.End {
				return true
			}
			continue
		}
		if op.Original.Start < seg.End && op.Original.End > seg.Start {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
