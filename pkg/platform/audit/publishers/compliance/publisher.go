// Package compliance provides a synchronous audit publisher. Emit blocks
// until the backing store accepts the event and reports failures to the
// caller, which decides whether the failure is fatal for its operation.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "kycflow/pkg/platform/audit"
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit validates and synchronously writes an event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.UserID.IsNil() {
		return fmt.Errorf("audit event requires UserID")
	}
	if event.Action == "" {
		return fmt.Errorf("audit event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"user_id", event.UserID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}
