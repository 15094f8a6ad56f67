package worker

import (
	"context"
	"log/slog"

	audit "attesta/pkg/platform/audit"
)

// Worker consumes audit events from a publisher inbox and persists them. A
// failing store does not stop the worker; the event is logged and dropped so
// the pipeline stays fire-and-forget end to end.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("persist audit event",
					"action", event.Action,
					"certificate_id", event.CertificateID,
					"error", err)
			}
		}
	}
}
