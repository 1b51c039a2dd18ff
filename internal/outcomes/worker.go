package outcomes

import (
	"context"
	"log/slog"

	"groupsync/internal/reconcile/models"
)

// Worker drains the publisher inbox into the store. A failed append is
// logged and the outcome dropped; the store is an operator convenience,
// not the system of record, so persistence trouble must not stall the
// reconciliation path behind it.
type Worker struct {
	store  Store
	inbox  <-chan *models.Outcome
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan *models.Outcome, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outcome := <-w.inbox:
			records := FromOutcome(outcome)
			if len(records) == 0 {
				continue
			}
			if err := w.store.Append(ctx, records...); err != nil {
				w.logger.ErrorContext(ctx, "append outcome records failed",
					"event_id", outcome.EventID.String(), "error", err)
			}
		}
	}
}
