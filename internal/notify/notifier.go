package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/car-relay/internal/observability"
)

// Publisher is the outbound edge of the async task boundary.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notifier is what the engine calls. Emit is fire-and-forget: it never blocks
// the triggering transition and never surfaces a failure to the caller.
type Notifier interface {
	Emit(ev Event)
	// PushToDriver targets one driver's live session, best-effort.
	PushToDriver(driverID string, ev Event)
}

// AsyncNotifier fans events out to the event bus and the WS registry from a
// goroutine with its own timeout. Failures are logged and counted only.
type AsyncNotifier struct {
	publisher Publisher // optional
	ws        *WSRegistry
	logger    *slog.Logger
}

func NewAsyncNotifier(publisher Publisher, ws *WSRegistry, logger *slog.Logger) *AsyncNotifier {
	return &AsyncNotifier{publisher: publisher, ws: ws, logger: logger}
}

func (n *AsyncNotifier) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if n.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.publisher.Publish(ctx, ev); err != nil {
			observability.NotifyFailures.Inc()
			n.logger.Warn("event publish failed", "type", ev.Type, "request_id", ev.RequestID, "error", err)
		}
	}()
}

func (n *AsyncNotifier) PushToDriver(driverID string, ev Event) {
	if n.ws == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	go func() {
		if err := n.ws.Push(driverID, ev); err != nil && err != ErrNoSession {
			n.logger.Warn("ws push failed", "driver_id", driverID, "type", ev.Type, "error", err)
		}
	}()
}

// NopNotifier drops everything; used in tests and when no bus is configured.
type NopNotifier struct{}

func (NopNotifier) Emit(Event)                 {}
func (NopNotifier) PushToDriver(string, Event) {}
