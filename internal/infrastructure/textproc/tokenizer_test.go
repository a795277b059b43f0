package textproc

import "testing"

func TestTokenizeLowercasesAndKeepsOffsets(t *testing.T) {
	text := "Bovine Viral-Diarrhea (BVD) type 1"
	tokens := Tokenize(text)

	want := []string{"bovine", "viral", "diarrhea", "bvd", "type", "1"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(want), len(tokens), tokens)
	}
	for i, tok := range tokens {
		if tok.Term != want[i] {
			t.Fatalf("token %d: expected %q, got %q", i, want[i], tok.Term)
		}
	}
	if got := text[tokens[3].Start:tokens[3].End]; got != "BVD" {
		t.Fatalf("expected offsets to point at BVD, got %q", got)
	}
}

func TestTokenizeUnicodeLetters(t *testing.T) {
	terms := Terms("Fièvre aphteuse, ящур")
	want := []string{"fièvre", "aphteuse", "ящур"}
	if len(terms) != len(want) {
		t.Fatalf("expected %v, got %v", want, terms)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, terms)
		}
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if tokens := Tokenize("  --  "); len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %+v", tokens)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := Truncate("ab", 3); got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
}
