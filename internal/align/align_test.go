package align

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestWords(t *testing.T) {
	seq := Words("  This is   a test ")
	if seq.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", seq.Len())
	}
	if got := seq.Text(1, 3); got != "is a" {
		t.Errorf("Text(1,3) = %q, want %q", got, "is a")
	}
}

func TestCharacters(t *testing.T) {
	seq := Characters("héllo")
	if seq.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", seq.Len())
	}
	if got := seq.At(1); got != "é" {
		t.Errorf("At(1) = %q, want %q", got, "é")
	}
	if got := seq.Text(0, 3); got != "hél" {
		t.Errorf("Text(0,3) = %q, want %q", got, "hél")
	}
}

func TestAlign_SingleSubstitution(t *testing.T) {
	a := New()
	res := a.Align(Words("This are a test"), Words("This is a test"))

	if res.Distance != 1 {
		t.Fatalf("Distance = %d, want 1", res.Distance)
	}

	var subs []Op
	for _, op := range res.Ops {
		if op.Kind == OpSubstitution {
			subs = append(subs, op)
		}
	}
	if len(subs) != 1 {
		t.Fatalf("got %d substitutions, want 1: %+v", len(subs), res.Ops)
	}
	if subs[0].OriginalText != "are" || subs[0].CorrectedText != "is" {
		t.Errorf("substitution = %q → %q, want are → is", subs[0].OriginalText, subs[0].CorrectedText)
	}
}

func TestAlign_EmptyOriginal(t *testing.T) {
	a := New()
	res := a.Align(Words(""), Words("hello world"))

	if len(res.Ops) != 1 {
		t.Fatalf("got %d ops, want 1 insertion: %+v", len(res.Ops), res.Ops)
	}
	op := res.Ops[0]
	if op.Kind != OpInsertion {
		t.Fatalf("kind = %q, want insertion", op.Kind)
	}
	if op.Corrected != (Span{Start: 0, End: 2}) {
		t.Errorf("corrected span = %+v, want [0,2)", op.Corrected)
	}
	if op.CorrectedText != "hello world" {
		t.Errorf("corrected text = %q, want %q", op.CorrectedText, "hello world")
	}
	if res.Distance != 2 {
		t.Errorf("Distance = %d, want 2", res.Distance)
	}
}

func TestAlign_BothEmpty(t *testing.T) {
	a := New()
	res := a.Align(Words(""), Words(""))
	if len(res.Ops) != 0 {
		t.Errorf("got %d ops, want 0", len(res.Ops))
	}
	if res.Distance != 0 {
		t.Errorf("Distance = %d, want 0", res.Distance)
	}
}

func TestAlign_CoalescesAdjacentEdits(t *testing.T) {
	a := New()
	res := a.Align(Words("one too tree four"), Words("one two three four"))

	// "too tree" → "two three" should surface as a single contiguous
	// substitution span, not two separate ops.
	want := []Op{
		{Kind: OpMatch, Original: Span{0, 1}, Corrected: Span{0, 1}, OriginalText: "one", CorrectedText: "one"},
		{Kind: OpSubstitution, Original: Span{1, 3}, Corrected: Span{1, 3}, OriginalText: "too tree", CorrectedText: "two three"},
		{Kind: OpMatch, Original: Span{3, 4}, Corrected: Span{3, 4}, OriginalText: "four", CorrectedText: "four"},
	}
	if !reflect.DeepEqual(res.Ops, want) {
		t.Errorf("ops = %+v, want %+v", res.Ops, want)
	}
	if res.Distance != 2 {
		t.Errorf("Distance = %d, want 2", res.Distance)
	}
}

// checkPartition verifies the coverage invariant: the operation list exactly
// partitions [0, originalLength) and [0, correctedLength).
func checkPartition(t *testing.T, res Result) {
	t.Helper()
	i, j := 0, 0
	for _, op := range res.Ops {
		if op.Original.Start != i {
			t.Fatalf("original gap/overlap at %d: op %+v", i, op)
		}
		if op.Corrected.Start != j {
			t.Fatalf("corrected gap/overlap at %d: op %+v", j, op)
		}
		if op.Original.End < op.Original.Start || op.Corrected.End < op.Corrected.Start {
			t.Fatalf("negative span: %+v", op)
		}
		i = op.Original.End
		j = op.Corrected.End
	}
	if i != res.OriginalLength || j != res.CorrectedLength {
		t.Fatalf("partition ends at (%d,%d), want (%d,%d)", i, j, res.OriginalLength, res.CorrectedLength)
	}
}

func TestAlign_PartitionInvariant(t *testing.T) {
	cases := []struct {
		original, corrected string
	}{
		{"", ""},
		{"", "hello"},
		{"hello", ""},
		{"a b c", "a b c"},
		{"the quick brown fox", "a quick red fox jumps"},
		{"patient has a histry of diabetis", "patient has a history of diabetes"},
		{"x", "a b c d e f g"},
		{"a b c d e f g", "x"},
	}
	a := New()
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q vs %q", tc.original, tc.corrected), func(t *testing.T) {
			res := a.Align(Words(tc.original), Words(tc.corrected))
			checkPartition(t, res)
		})
	}
}

func TestAlign_Deterministic(t *testing.T) {
	a := New()
	orig := Words("a ambiguous alignment with with repeated repeated tokens")
	corr := Words("an ambiguous alignment with repeated tokens again")

	first := a.Align(orig, corr)
	for i := 0; i < 10; i++ {
		again := a.Align(orig, corr)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n got %+v\nwant %+v", i, again, first)
		}
	}
}

func TestAlign_HirschbergMatchesMatrix(t *testing.T) {
	// Force the linear-space path with a tiny threshold and check that the
	// recovered alignment has the same cost and still partitions correctly.
	full := New()
	linear := New(WithMaxQuadraticTokens(4))

	var origWords, corrWords []string
	for i := 0; i < 60; i++ {
		origWords = append(origWords, fmt.Sprintf("w%d", i))
		if i%7 == 3 {
			corrWords = append(corrWords, fmt.Sprintf("x%d", i))
		} else if i%11 != 5 {
			corrWords = append(corrWords, fmt.Sprintf("w%d", i))
		}
	}
	orig := Words(strings.Join(origWords, " "))
	corr := Words(strings.Join(corrWords, " "))

	fr := full.Align(orig, corr)
	lr := linear.Align(orig, corr)

	if fr.Distance != lr.Distance {
		t.Errorf("Distance: linear = %d, matrix = %d", lr.Distance, fr.Distance)
	}
	checkPartition(t, lr)
}

func TestAlign_CharacterDetail(t *testing.T) {
	a := New(WithCharacterDetail())
	res := a.Align(Words("the histry"), Words("the history"))

	var sub *Op
	for i := range res.Ops {
		if res.Ops[i].Kind == OpSubstitution {
			sub = &res.Ops[i]
		}
	}
	if sub == nil {
		t.Fatalf("no substitution in %+v", res.Ops)
	}
	if len(sub.Chars) == 0 {
		t.Fatal("substitution has no character sub-alignment")
	}

	// The character ops must themselves partition the substituted texts.
	i, j := 0, 0
	for _, op := range sub.Chars {
		if op.Original.Start != i || op.Corrected.Start != j {
			t.Fatalf("char partition broken at %+v", op)
		}
		i, j = op.Original.End, op.Corrected.End
	}
	if i != len([]rune(sub.OriginalText)) || j != len([]rune(sub.CorrectedText)) {
		t.Errorf("char partition ends at (%d,%d), want (%d,%d)",
			i, j, len([]rune(sub.OriginalText)), len([]rune(sub.CorrectedText)))
	}

	// Only one level of nesting.
	for _, op := range sub.Chars {
		if op.Chars != nil {
			t.Errorf("nested char op has its own sub-alignment: %+v", op)
		}
	}
}

func TestAlign_DeletionOnly(t *testing.T) {
	a := New()
	res := a.Align(Words("keep this extra word"), Words("keep this"))
	if res.Distance != 2 {
		t.Fatalf("Distance = %d, want 2", res.Distance)
	}
	last := res.Ops[len(res.Ops)-1]
	if last.Kind != OpDeletion {
		t.Errorf("last op kind = %q, want deletion", last.Kind)
	}
	if last.Corrected.Len() != 0 {
		t.Errorf("deletion corrected span = %+v, want empty", last.Corrected)
	}
}
