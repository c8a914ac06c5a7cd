package audit

import (
	"context"
	"log/slog"

	"brickvault/pkg/requestcontext"
)

// Emitter is the narrow interface domain services depend on. Audit is
// observability, not state: emits never fail a business operation.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Publisher buffers events onto an in-process queue drained by the Worker.
// When the queue is full the event is dropped and logged; a slow audit sink
// must not serialize the accounting paths behind it.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Emit stamps the event with the request time and id, then enqueues it.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit queue full, dropping event",
			"action", event.Action,
			"subject", event.Subject,
		)
	}
}

// Inbox exposes the queue to the Worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }
