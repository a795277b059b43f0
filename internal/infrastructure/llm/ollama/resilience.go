package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// failureKind is how an Ollama call failed, independent of which model
// operation made it.
type failureKind int

const (
	failureUnknown failureKind = iota
	failureCanceled
	failureCircuitOpen
	// failureOverloaded covers model loading, queue full and upstream timeouts.
	failureOverloaded
	failureUnreachable
	// failureModelMissing means the configured model is not pulled.
	failureModelMissing
	failureRejectedInput
)

func classifyFailure(err error) failureKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failureCanceled
	case resilience.IsCircuitOpen(err):
		return failureCircuitOpen
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return failureOverloaded
		case http.StatusNotFound:
			return failureModelMissing
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return failureRejectedInput
		}
		return failureUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return failureUnreachable
	}
	return failureUnknown
}

// classifyOllamaError retries transient failures only. A missing model counts
// as a breaker failure without retry; rejected input is neither retried nor
// recorded.
func classifyOllamaError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	switch classifyFailure(err) {
	case failureCanceled:
		return resilience.ErrorClassification{}
	case failureCircuitOpen, failureOverloaded, failureUnreachable:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case failureRejectedInput:
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func isTransient(kind failureKind) bool {
	return kind == failureCircuitOpen || kind == failureOverloaded || kind == failureUnreachable
}

// generationError marks transient generate failures as ErrTemporary so the
// HTTP layer answers 503.
func generationError(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if isTransient(classifyFailure(err)) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

// embeddingError maps a failed embed call onto the domain taxonomy. Caller
// cancellation is returned untouched.
func embeddingError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if classifyFailure(err) == failureRejectedInput {
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	}
	return domain.WrapError(domain.ErrEmbeddingUnavailable, operation, err)
}
