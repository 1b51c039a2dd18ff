package outcomes

import (
	"context"
	"fmt"
	"log/slog"

	"groupsync/internal/reconcile/models"
)

// Publisher accepts outcomes from the engine and hands them to the worker
// through a buffered inbox. Emit never blocks reconciliation: when the
// inbox is full the outcome is dropped with a warning; the log line still
// carries the result, only the queryable record is lost.
type Publisher struct {
	inbox  chan *models.Outcome
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		inbox:  make(chan *models.Outcome, buffer),
		logger: logger,
	}
}

// Emit implements the engine's outcome sink.
func (p *Publisher) Emit(ctx context.Context, outcome *models.Outcome) error {
	select {
	case p.inbox <- outcome:
		return nil
	default:
		p.logger.WarnContext(ctx, "outcome inbox full, dropping record",
			"event_id", outcome.EventID.String())
		return fmt.Errorf("outcome inbox full")
	}
}

// Inbox is consumed by the worker.
func (p *Publisher) Inbox() <-chan *models.Outcome {
	return p.inbox
}
