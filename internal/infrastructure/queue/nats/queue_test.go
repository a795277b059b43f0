package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/nats-io/nats.go"
)

func TestCorpusEventRoundTrip(t *testing.T) {
	payload, err := encodeCorpusUpdated("20261017T120000Z", time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	version, err := decodeCorpusUpdated(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if version != "20261017T120000Z" {
		t.Fatalf("expected version to survive, got %q", version)
	}
}

func TestDecodeCorpusEventAcceptsBareVersion(t *testing.T) {
	version, err := decodeCorpusUpdated([]byte(" v42 \n"))
	if err != nil || version != "v42" {
		t.Fatalf("expected bare version v42, got %q, %v", version, err)
	}
}

func TestDecodeCorpusEventRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "{", `{"version":""}`} {
		if _, err := decodeCorpusUpdated([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if _, err := encodeCorpusUpdated(" ", time.Now()); err == nil {
		t.Fatalf("expected error for empty version")
	}
}

func TestNotifyErrorMarksReconnectableFailuresTemporary(t *testing.T) {
	for _, cause := range []error{nats.ErrNoServers, nats.ErrConnectionReconnecting, fmt.Errorf("nats flush: %w", nats.ErrTimeout)} {
		err := notifyError("v3", cause)
		if !domain.IsKind(err, domain.ErrTemporary) || !strings.Contains(err.Error(), "v3") {
			t.Fatalf("expected temporary error naming the version for %v, got %v", cause, err)
		}
	}

	rejected := notifyError("v3", fmt.Errorf("nats publish: %w", nats.ErrMaxPayload))
	if !errors.Is(rejected, nats.ErrMaxPayload) || domain.IsKind(rejected, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", rejected)
	}
	if class := classifyNATSError(nats.ErrAuthorization); class.Retryable || class.RecordFailure {
		t.Fatalf("expected rejected notification not to retry or trip the breaker, got %+v", class)
	}
	if class := classifyNATSError(context.Canceled); class.Retryable || class.RecordFailure {
		t.Fatalf("expected cancellation to be ignored, got %+v", class)
	}
}
