package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type handlerFake struct {
	events []domain.IndexEvent
	err    error
}

func (h *handlerFake) HandleIndexEvent(_ context.Context, event domain.IndexEvent) error {
	h.events = append(h.events, event)
	return h.err
}

type observerFake struct {
	started  int
	finished []string
}

func (o *observerFake) StartEvent() { o.started++ }

func (o *observerFake) FinishEvent(op string, _ time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.finished = append(o.finished, op+":"+status)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    domain.IndexEvent
		wantErr bool
	}{
		{name: "upsert envelope", payload: `{"op":"upsert","doc_id":"c-1"}`, want: domain.IndexEvent{Op: domain.IndexOpUpsert, DocID: "c-1"}},
		{name: "normalizes op case", payload: `{"op":" DELETE ","doc_id":" c-2 "}`, want: domain.IndexEvent{Op: domain.IndexOpDelete, DocID: "c-2"}},
		{name: "reload without id", payload: `{"op":"reload"}`, want: domain.IndexEvent{Op: domain.IndexOpReload}},
		{name: "bare id means upsert", payload: " c-3\n", want: domain.IndexEvent{Op: domain.IndexOpUpsert, DocID: "c-3"}},
		{name: "empty", payload: "  ", wantErr: true},
		{name: "broken json", payload: `{"op":`, wantErr: true},
		{name: "unknown op", payload: `{"op":"rename","doc_id":"x"}`, wantErr: true},
		{name: "upsert without id", payload: `{"op":"upsert"}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeEvent([]byte(tc.payload))
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("decodeEvent() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDispatchInvokesHandlerAndObserver(t *testing.T) {
	observer := &observerFake{}
	bus := &Bus{observer: observer, logger: quietLogger()}
	handler := &handlerFake{}

	bus.dispatch(context.Background(), handler, []byte(`{"op":"delete","doc_id":"c-9"}`))
	handler.err = errors.New("index closed")
	bus.dispatch(context.Background(), handler, []byte(`{"op":"reload"}`))

	if len(handler.events) != 2 || handler.events[0].DocID != "c-9" {
		t.Fatalf("unexpected handled events %+v", handler.events)
	}
	if observer.started != 2 || observer.finished[0] != "delete:ok" || observer.finished[1] != "reload:error" {
		t.Fatalf("unexpected observations %+v", observer.finished)
	}
}

func TestDispatchSkipsInvalidPayload(t *testing.T) {
	observer := &observerFake{}
	bus := &Bus{observer: observer, logger: quietLogger()}
	handler := &handlerFake{}

	bus.dispatch(context.Background(), handler, []byte(`{"op":"nope"}`))
	if len(handler.events) != 0 || observer.started != 0 {
		t.Fatal("invalid payloads must not reach the handler")
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	for _, err := range []error{nats.ErrNoServers, nats.ErrConnectionClosed, gobreaker.ErrOpenState} {
		if got := wrapTemporaryIfNeeded(err); !errors.Is(got, domain.ErrTemporary) {
			t.Fatalf("expected %v to be temporary, got %v", err, got)
		}
	}
	plain := errors.New("bad subject")
	if got := wrapTemporaryIfNeeded(plain); got != plain {
		t.Fatalf("expected non-transient error unchanged, got %v", got)
	}
	if classifyNATSError(context.Canceled) {
		t.Fatal("cancellation must not count against the breaker")
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	bus := &Bus{logger: quietLogger()}
	if err := bus.Publish(context.Background(), domain.IndexEvent{Op: domain.IndexOpDelete}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
