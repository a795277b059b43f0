package chunking

import (
	"strings"
	"testing"
)

func TestSplitKeepsByteOffsets(t *testing.T) {
	text := "  Лихорадка и кашель. Fever with nasal discharge is common in calves.  "
	s := NewSplitter(20, 5)

	spans := s.Split(text)
	if len(spans) < 2 {
		t.Fatalf("expected several spans, got %d", len(spans))
	}
	for _, span := range spans {
		if span.Start < 0 || span.End <= span.Start || span.End > len(text) {
			t.Fatalf("invalid offsets: %+v", span)
		}
		if text[span.Start:span.End] != span.Text {
			t.Fatalf("offsets do not match text: %q vs %q", text[span.Start:span.End], span.Text)
		}
		if strings.TrimSpace(span.Text) != span.Text {
			t.Fatalf("expected trimmed span, got %q", span.Text)
		}
	}
}

func TestSplitShortTextSingleSpan(t *testing.T) {
	spans := NewSplitter(900, 100).Split("Mastitis is inflammation of the udder.")
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Start != 0 || spans[0].End != len("Mastitis is inflammation of the udder.") {
		t.Fatalf("unexpected offsets %+v", spans[0])
	}
}

func TestSplitEmpty(t *testing.T) {
	if spans := NewSplitter(10, 2).Split("   \n"); len(spans) != 0 {
		t.Fatalf("expected no spans, got %d", len(spans))
	}
}

func TestSplitAvoidsCuttingWords(t *testing.T) {
	spans := NewSplitter(12, 0).Split("alpha beta gamma delta epsilon")
	for _, span := range spans {
		for _, word := range strings.Fields(span.Text) {
			switch word {
			case "alpha", "beta", "gamma", "delta", "epsilon":
			default:
				t.Fatalf("word cut in span %q", span.Text)
			}
		}
	}
}
