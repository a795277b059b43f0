package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
)

// Splitter cuts text into overlapping windows of ChunkSize runes. Window ends
// are pulled back to the last whitespace when one exists in the second half
// of the window, so words are not cut.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split returns spans with byte offsets into text.
func (s *Splitter) Split(text string) []domain.TextSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// byteAt[i] is the byte offset of rune i; byteAt[len] == len(text).
	byteAt := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		byteAt = append(byteAt, i)
	}
	byteAt = append(byteAt, len(text))
	runeCount := len(byteAt) - 1

	out := make([]domain.TextSpan, 0, runeCount/s.ChunkSize+1)
	for start := 0; start < runeCount; {
		end := start + s.ChunkSize
		if end >= runeCount {
			end = runeCount
		} else if cut := s.wordBoundary(text, byteAt, start, end); cut > start {
			end = cut
		}

		if span, ok := trimSpan(text, byteAt[start], byteAt[end]); ok {
			out = append(out, span)
		}
		if end == runeCount {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func (s *Splitter) wordBoundary(text string, byteAt []int, start, end int) int {
	floor := start + s.ChunkSize/2
	for i := end; i > floor; i-- {
		r, _ := utf8.DecodeRuneInString(text[byteAt[i-1]:])
		if unicode.IsSpace(r) {
			return i
		}
	}
	return end
}

func trimSpan(text string, start, end int) (domain.TextSpan, bool) {
	raw := text[start:end]
	trimmedLeft := strings.TrimLeftFunc(raw, unicode.IsSpace)
	start += len(raw) - len(trimmedLeft)
	trimmed := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
	if trimmed == "" {
		return domain.TextSpan{}, false
	}
	return domain.TextSpan{Text: trimmed, Start: start, End: start + len(trimmed)}, true
}
