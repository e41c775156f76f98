package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

// Observer is notified around every handled event.
type Observer interface {
	StartEvent()
	FinishEvent(op string, duration time.Duration, err error)
}

// Bus carries index maintenance events. Every subscriber receives every
// event: each API replica keeps its own in-process indexes.
type Bus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	observer Observer
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Observer             Observer
	Logger               *slog.Logger
}

func New(url, subject string, options Options) (*Bus, error) {
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("knowledge-qa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		observer: options.Observer,
		logger:   logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) Publish(ctx context.Context, event domain.IndexEvent) error {
	if err := event.Validate(); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", fmt.Errorf("op=%q doc_id=%q", event.Op, event.DocID))
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode index event: %w", err)
	}
	call := func(_ context.Context) error {
		if err := b.conn.Publish(b.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if err := b.executor.Execute(ctx, "nats.publish", call, classifyNATSError); err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe dispatches events to handler until ctx is cancelled, then drains
// the subscription.
func (b *Bus) Subscribe(ctx context.Context, handler ports.IndexEventHandler) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		b.dispatch(ctx, handler, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	b.logger.Info("index_events_subscribed", "subject", b.subject)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, handler ports.IndexEventHandler, data []byte) {
	event, err := decodeEvent(data)
	if err != nil {
		b.logger.Warn("index_event_invalid", "error", err, "payload", truncatePayload(data))
		return
	}

	started := time.Now()
	if b.observer != nil {
		b.observer.StartEvent()
	}
	err = handler.HandleIndexEvent(ctx, event)
	if b.observer != nil {
		b.observer.FinishEvent(string(event.Op), time.Since(started), err)
	}
	if err != nil {
		b.logger.Error("index_event_failed", "op", event.Op, "doc_id", event.DocID, "error", err)
		return
	}
	b.logger.Debug("index_event_handled", "op", event.Op, "doc_id", event.DocID, "duration_ms", time.Since(started).Milliseconds())
}

// decodeEvent accepts the JSON envelope or, for producers that only send an
// id, a bare document id meaning upsert.
func decodeEvent(data []byte) (domain.IndexEvent, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return domain.IndexEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode index event", fmt.Errorf("empty payload"))
	}

	var event domain.IndexEvent
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
			return domain.IndexEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode index event", err)
		}
		event.Op = domain.IndexOp(strings.ToLower(strings.TrimSpace(string(event.Op))))
		event.DocID = strings.TrimSpace(event.DocID)
	} else {
		event = domain.IndexEvent{Op: domain.IndexOpUpsert, DocID: trimmed}
	}
	if err := event.Validate(); err != nil {
		return domain.IndexEvent{}, domain.WrapError(err, "decode index event", fmt.Errorf("op=%q doc_id=%q", event.Op, event.DocID))
	}
	return event, nil
}

func truncatePayload(data []byte) string {
	const limit = 200
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
