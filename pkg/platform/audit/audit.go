// Package audit captures immutable action records from domain logic.
// Emission is fire-and-forget: the orchestrator never blocks on, or fails
// because of, the audit pipeline.
package audit

import (
	"context"
	"log/slog"

	"attesta/pkg/requestcontext"
)

// Store persists audit events. Implementations: memory (tests), postgres
// outbox (production), kafka sink (direct publish).
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher is what services emit through.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// ChannelPublisher hands events to a buffered inbox consumed by a Worker.
// When the inbox is full the event is dropped and counted in the log; audit
// must never apply backpressure to request handling.
type ChannelPublisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewChannelPublisher builds a publisher with the given buffer size.
func NewChannelPublisher(buffer int, logger *slog.Logger) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelPublisher{inbox: make(chan Event, buffer), logger: logger}
}

// Inbox exposes the consumption side for the worker.
func (p *ChannelPublisher) Inbox() <-chan Event { return p.inbox }

// Emit enqueues the event without blocking.
func (p *ChannelPublisher) Emit(ctx context.Context, event Event) {
	stamp(ctx, &event)
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, dropping event",
			"action", event.Action,
			"certificate_id", event.CertificateID)
	}
}

// StorePublisher writes synchronously to a store, used where the caller is
// already inside a storage transaction and wants the audit row to commit or
// roll back with it. Errors are logged, not returned.
// stamp fills in the request-scoped fields emitters leave blank: the pinned
// request time and the correlation id, when middleware set them.
func stamp(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
}

type StorePublisher struct {
	store  Store
	logger *slog.Logger
}

func NewStorePublisher(store Store, logger *slog.Logger) *StorePublisher {
	return &StorePublisher{store: store, logger: logger}
}

func (p *StorePublisher) Emit(ctx context.Context, event Event) {
	stamp(ctx, &event)
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("append audit event",
			"action", event.Action,
			"certificate_id", event.CertificateID,
			"error", err)
	}
}
