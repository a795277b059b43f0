package textproc

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenizerVersion identifies the tokenization rules below. Any change to
// Tokenize must bump it so stored corpora are rebuilt.
const TokenizerVersion = "alnum-lower-v1"

// Token is a lowercased term with byte offsets into the input.
type Token struct {
	Term  string
	Start int
	End   int
}

// Tokenize splits text into runs of letters and digits, lowercased.
// Hyphens and apostrophes inside a word split it.
func Tokenize(text string) []Token {
	if text == "" {
		return nil
	}

	tokens := make([]Token, 0, len(text)/6+1)
	var b strings.Builder
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Term: b.String(), Start: start, End: i})
			b.Reset()
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Term: b.String(), Start: start, End: len(text)})
	}
	return tokens
}

// Terms returns only the terms of Tokenize.
func Terms(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

// TermSet returns the distinct terms of text.
func TermSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t.Term] = struct{}{}
	}
	return out
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
