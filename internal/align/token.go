package align

import "strings"

// TokenSequence is an immutable ordered sequence of tokens derived from a
// text string. Construct one with [Words] or [Characters]; the zero value is
// an empty sequence.
type TokenSequence struct {
	tokens []string
	sep    string
}

// Words tokenises text into whitespace-separated word tokens.
func Words(text string) TokenSequence {
	return TokenSequence{tokens: strings.Fields(text), sep: " "}
}

// Characters tokenises text into Unicode code points. Used for the nested
// character-level sub-alignment inside word substitutions.
func Characters(text string) TokenSequence {
	runes := []rune(text)
	tokens := make([]string, len(runes))
	for i, r := range runes {
		tokens[i] = string(r)
	}
	return TokenSequence{tokens: tokens, sep: ""}
}

// Len returns the number of tokens in the sequence.
func (t TokenSequence) Len() int { return len(t.tokens) }

// At returns the token at index i.
func (t TokenSequence) At(i int) string { return t.tokens[i] }

// Text reconstructs the text of the half-open token range [start, end) using
// the separator the sequence was tokenised with.
func (t TokenSequence) Text(start, end int) string {
	return strings.Join(t.tokens[start:end], t.sep)
}
