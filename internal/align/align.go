// Package align computes minimum-cost edit alignments between token
// sequences. It is the foundation of the quality assessment pipeline: an
// original ASR transcript is aligned against its corrected form and the
// resulting edit operations drive error-rate metrics and UI highlighting.
//
// The aligner is a classic dynamic-programming edit-distance implementation
// (unit cost for insertion, deletion, and substitution; zero cost for exact
// match) with a deterministic tie-break: diagonal moves are preferred over
// insertions and deletions, and deletions are preferred over insertions.
// Adjacent operations of the same kind are coalesced into span operations, so
// a run of misrecognised words surfaces as one contiguous substitution rather
// than interleaved delete/insert pairs.
//
// Above a configurable token count the full cost matrix is replaced by a
// Hirschberg divide-and-conquer pass that keeps memory linear in the shorter
// sequence while still recovering the operation sequence. Transcripts can be
// paragraph-length, so the quadratic matrix is not always acceptable.
//
// [Aligner.Align] is pure and total: it never fails, including for empty
// inputs, and repeated calls with the same inputs return identical results.
// An Aligner is read-only after construction and safe for concurrent use.
package align

// OpKind identifies the kind of a single [Op].
type OpKind string

const (
	OpMatch        OpKind = "match"
	OpInsertion    OpKind = "insertion"
	OpDeletion     OpKind = "deletion"
	OpSubstitution OpKind = "substitution"
)

// Span is a half-open token index range [Start, End).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of tokens covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Op is a single edit operation. The ordered operation list of a [Result]
// exactly partitions both the original and corrected index ranges: no gaps,
// no overlaps, every index covered exactly once. Insertions have an empty
// Original span; deletions have an empty Corrected span.
type Op struct {
	Kind          OpKind `json:"kind"`
	Original      Span   `json:"original_span"`
	Corrected     Span   `json:"corrected_span"`
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`

	// Chars holds the character-level sub-alignment of a substitution's
	// original and corrected text, populated when the aligner was built with
	// [WithCharacterDetail]. Nil for non-substitution operations.
	Chars []Op `json:"chars,omitempty"`
}

// Result is the outcome of one alignment. It is produced fresh per comparison
// and never mutated afterwards.
type Result struct {
	Ops             []Op `json:"operations"`
	OriginalLength  int  `json:"original_length"`
	CorrectedLength int  `json:"corrected_length"`

	// Distance is the minimum edit cost: the total number of inserted,
	// deleted, and substituted tokens.
	Distance int `json:"distance"`
}

// Errors returns the number of non-match token edits (substitutions +
// deletions + insertions). It equals Distance and exists for readability at
// metric call sites.
func (r Result) Errors() int { return r.Distance }

const defaultMaxQuadraticTokens = 512

// Option configures an [Aligner].
type Option func(*Aligner)

// WithMaxQuadraticTokens sets the token count above which the aligner
// switches from the full cost matrix to the linear-space Hirschberg pass.
// Default: 512.
func WithMaxQuadraticTokens(n int) Option {
	return func(a *Aligner) {
		if n > 0 {
			a.maxQuadratic = n
		}
	}
}

// WithCharacterDetail enables the nested character-level sub-alignment of
// substitution operations, used for fine-grained difference highlighting.
func WithCharacterDetail() Option {
	return func(a *Aligner) { a.charDetail = true }
}

// Aligner computes edit alignments between token sequences.
type Aligner struct {
	maxQuadratic int
	charDetail   bool
}

// New returns an [Aligner] configured with the supplied options.
func New(opts ...Option) *Aligner {
	a := &Aligner{maxQuadratic: defaultMaxQuadraticTokens}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Align computes the minimum-cost edit alignment transforming original into
// corrected. Both sequences may be empty; two empty sequences yield an empty
// operation list with zero cost.
func (a *Aligner) Align(original, corrected TokenSequence) Result {
	steps := a.steps(original.tokens, corrected.tokens)
	ops := opsFromSteps(steps, original, corrected)

	distance := 0
	for _, op := range ops {
		switch op.Kind {
		case OpSubstitution:
			distance += op.Original.Len()
		case OpDeletion:
			distance += op.Original.Len()
		case OpInsertion:
			distance += op.Corrected.Len()
		}
	}

	if a.charDetail {
		for i := range ops {
			if ops[i].Kind != OpSubstitution {
				continue
			}
			// One level of nesting only: highlight characters inside a
			// word-level substitution.
			inner := Aligner{maxQuadratic: a.maxQuadratic}
			sub := inner.Align(Characters(ops[i].OriginalText), Characters(ops[i].CorrectedText))
			ops[i].Chars = sub.Ops
		}
	}

	return Result{
		Ops:             ops,
		OriginalLength:  original.Len(),
		CorrectedLength: corrected.Len(),
		Distance:        distance,
	}
}

// step is a single-token move in the alignment path.
type step uint8

const (
	stepMatch step = iota
	stepSub
	stepDel
	stepIns
)

// steps returns the per-token move sequence aligning a onto b. Small inputs
// use the full matrix with backtrace; larger inputs use Hirschberg
// divide-and-conquer over linear-space score rows.
func (a *Aligner) steps(x, y []string) []step {
	switch {
	case len(x) == 0:
		return repeatStep(stepIns, len(y))
	case len(y) == 0:
		return repeatStep(stepDel, len(x))
	case len(x) <= a.maxQuadratic && len(y) <= a.maxQuadratic:
		return matrixSteps(x, y)
	case len(x) == 1:
		return matrixSteps(x, y)
	}

	// Hirschberg split: find the column where an optimal path crosses the
	// middle row, then recurse on the two halves.
	mid := len(x) / 2
	left := scoreRow(x[:mid], y)
	right := scoreRow(reversed(x[mid:]), reversed(y))

	split, best := 0, int(^uint(0)>>1)
	for j := 0; j <= len(y); j++ {
		if s := left[j] + right[len(y)-j]; s < best {
			best, split = s, j
		}
	}

	out := a.steps(x[:mid], y[:split])
	return append(out, a.steps(x[mid:], y[split:])...)
}

// matrixSteps computes the full (len(x)+1) x (len(y)+1) cost matrix and
// backtraces from the bottom-right cell. The backtrace prefers a diagonal
// move over insertion or deletion, and deletion over insertion, making the
// recovered path deterministic.
func matrixSteps(x, y []string) []step {
	n, m := len(x), len(y)

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := d[i-1][j-1]
			if x[i-1] != y[j-1] {
				sub++
			}
			best := sub
			if del := d[i-1][j] + 1; del < best {
				best = del
			}
			if ins := d[i][j-1] + 1; ins < best {
				best = ins
			}
			d[i][j] = best
		}
	}

	steps := make([]step, 0, n+m)
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && x[i-1] == y[j-1] && d[i][j] == d[i-1][j-1]:
			steps = append(steps, stepMatch)
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			steps = append(steps, stepSub)
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			steps = append(steps, stepDel)
			i--
		default:
			steps = append(steps, stepIns)
			j--
		}
	}

	// The backtrace produced the path in reverse.
	for l, r := 0, len(steps)-1; l < r; l, r = l+1, r-1 {
		steps[l], steps[r] = steps[r], steps[l]
	}
	return steps
}

// scoreRow computes the final row of the edit-distance matrix for x against y
// using two rolling rows, O(len(y)) space.
func scoreRow(x, y []string) []int {
	prev := make([]int, len(y)+1)
	cur := make([]int, len(y)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(x); i++ {
		cur[0] = i
		for j := 1; j <= len(y); j++ {
			sub := prev[j-1]
			if x[i-1] != y[j-1] {
				sub++
			}
			best := sub
			if del := prev[j] + 1; del < best {
				best = del
			}
			if ins := cur[j-1] + 1; ins < best {
				best = ins
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	return prev
}

// opsFromSteps converts a move sequence into coalesced span operations:
// consecutive moves of the same kind merge into a single [Op].
func opsFromSteps(steps []step, original, corrected TokenSequence) []Op {
	ops := []Op{}
	i, j := 0, 0

	for k := 0; k < len(steps); {
		kind := steps[k]
		run := k
		for run < len(steps) && steps[run] == kind {
			run++
		}
		count := run - k

		op := Op{Original: Span{Start: i, End: i}, Corrected: Span{Start: j, End: j}}
		switch kind {
		case stepMatch:
			op.Kind = OpMatch
			op.Original.End += count
			op.Corrected.End += count
		case stepSub:
			op.Kind = OpSubstitution
			op.Original.End += count
			op.Corrected.End += count
		case stepDel:
			op.Kind = OpDeletion
			op.Original.End += count
		case stepIns:
			op.Kind = OpInsertion
			op.Corrected.End += count
		}
		op.OriginalText = original.Text(op.Original.Start, op.Original.End)
		op.CorrectedText = corrected.Text(op.Corrected.Start, op.Corrected.End)

		ops = append(ops, op)
		i = op.Original.End
		j = op.Corrected.End
		k = run
	}
	return ops
}

func repeatStep(s step, n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
