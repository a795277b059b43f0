package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTopK           = fmt.Errorf("%w: top_k out of range", ErrInvalidInput)
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrDimensionMismatch     = errors.New("dimension mismatch")
	ErrRerankingUnavailable  = errors.New("reranking unavailable")
	ErrTokenizerMismatch     = errors.New("tokenizer version mismatch")
	ErrCorpusEmpty           = errors.New("corpus is empty")
	ErrTemporary             = errors.New("temporary failure")
	ErrGenerationUnavailable = errors.New("answer generation unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// DimensionError reports a vector whose length differs from the index dimension.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}

// CheckDimension returns a *DimensionError when len(vector) != expected.
func CheckDimension(vector []float32, expected int) error {
	if expected > 0 && len(vector) != expected {
		return &DimensionError{Expected: expected, Got: len(vector)}
	}
	return nil
}
