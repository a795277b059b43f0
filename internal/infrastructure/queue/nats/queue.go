package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const DefaultCorpusSubject = "corpus.updated"

// Queue broadcasts corpus update notifications. Every subscriber gets
// every message: each API replica owns its own in-memory indexes.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ClientName           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

type corpusUpdatedEvent struct {
	Version     string    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultCorpusSubject
	}
	clientName := options.ClientName
	if clientName == "" {
		clientName = "bovicare-rag"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name(clientName),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishCorpusUpdated(ctx context.Context, version string) error {
	payload, err := encodeCorpusUpdated(version, time.Now().UTC())
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		if err := q.conn.FlushTimeout(2 * time.Second); err != nil {
			return fmt.Errorf("nats flush: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return notifyError(version, err)
	}
	return nil
}

// SubscribeCorpusUpdated blocks until ctx is cancelled. Handler errors are
// logged; the next notification triggers another attempt.
func (q *Queue) SubscribeCorpusUpdated(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.Subscribe(q.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		version, err := decodeCorpusUpdated(msg.Data)
		if err != nil {
			slog.Warn("corpus_event_invalid", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, version); err != nil {
			slog.Error("corpus_event_handler_failed", slog.String("version", version), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeCorpusUpdated(version string, at time.Time) ([]byte, error) {
	if strings.TrimSpace(version) == "" {
		return nil, errors.New("corpus version is required")
	}
	body, err := json.Marshal(corpusUpdatedEvent{Version: version, PublishedAt: at})
	if err != nil {
		return nil, fmt.Errorf("marshal corpus event: %w", err)
	}
	return body, nil
}

// decodeCorpusUpdated also accepts a bare version string.
func decodeCorpusUpdated(data []byte) (string, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", errors.New("empty corpus event")
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var event corpusUpdatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", fmt.Errorf("decode corpus event: %w", err)
	}
	if strings.TrimSpace(event.Version) == "" {
		return "", errors.New("corpus event has no version")
	}
	return event.Version, nil
}
