package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/resilience"
)

const defaultQueueGroup = "indexers"

const (
	opPublish   = "paper event publish"
	opSubscribe = "paper event subscribe"
)

// paperEvent is the payload of an indexing request.
type paperEvent struct {
	ArxivID     string    `json:"arxiv_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type Queue struct {
	conn       *nats.Conn
	subject    string
	queueGroup string
	executor   *resilience.Executor
	onLag      func(time.Duration)
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor

	// LagObserver receives the delay between publishing and delivery of each event.
	LagObserver func(time.Duration)
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
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
	queueGroup := strings.TrimSpace(options.QueueGroup)
	if queueGroup == "" {
		queueGroup = defaultQueueGroup
	}

	conn, err := nats.Connect(
		url,
		nats.Name("arxiv-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:       conn,
		subject:    subject,
		queueGroup: queueGroup,
		executor:   options.ResilienceExecutor,
		onLag:      options.LagObserver,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishPaperIngested(ctx context.Context, arxivID string) error {
	payload, err := encodePaperEvent(arxivID, time.Now().UTC())
	if err != nil {
		return err
	}

	err = q.executor.Execute(ctx, "paper_event.publish", func(_ context.Context) error {
		return q.conn.Publish(q.subject, payload)
	}, classifyPaperEventError)
	return paperEventError(opPublish, err)
}

// SubscribePaperIngested delivers each event to handler until ctx is done, then drains.
// Handler errors are logged; the message is not redelivered.
func (q *Queue) SubscribePaperIngested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		event, err := decodePaperEvent(msg.Data)
		if err != nil {
			slog.Warn("paper_event_rejected", "subject", msg.Subject, "error", err)
			return
		}
		if q.onLag != nil && !event.RequestedAt.IsZero() {
			q.onLag(time.Since(event.RequestedAt))
		}
		arxivID := event.ArxivID

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, arxivID); err != nil {
			slog.Error("paper_event_handler_failed", "arxiv_id", arxivID, "error", err)
		}
	})
	if err != nil {
		return paperEventError(opSubscribe, err)
	}

	if err := q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return paperEventError(opSubscribe, fmt.Errorf("flush: %w", err))
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return paperEventError(opSubscribe, fmt.Errorf("drain: %w", err))
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return paperEventError(opSubscribe, fmt.Errorf("flush after drain: %w", err))
	}
	return nil
}

// classifyPaperEventError retries connection-level failures and never records cancellations.
func classifyPaperEventError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// paperEventError names the failed operation and marks retryable failures as ErrTemporary.
func paperEventError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if classifyPaperEventError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func encodePaperEvent(arxivID string, at time.Time) ([]byte, error) {
	arxivID = strings.TrimSpace(arxivID)
	if arxivID == "" {
		return nil, errors.New("encode paper event: empty arxiv id")
	}
	payload, err := json.Marshal(paperEvent{ArxivID: arxivID, RequestedAt: at})
	if err != nil {
		return nil, fmt.Errorf("encode paper event: %w", err)
	}
	return payload, nil
}

// decodePaperEvent also accepts a bare id, as published by older producers.
// Such events carry no RequestedAt.
func decodePaperEvent(data []byte) (paperEvent, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return paperEvent{}, errors.New("empty paper event")
	}
	if !strings.HasPrefix(raw, "{") {
		return paperEvent{ArxivID: raw}, nil
	}

	var event paperEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return paperEvent{}, fmt.Errorf("decode paper event: %w", err)
	}
	event.ArxivID = strings.TrimSpace(event.ArxivID)
	if event.ArxivID == "" {
		return paperEvent{}, errors.New("paper event without arxiv_id")
	}
	return event, nil
}
