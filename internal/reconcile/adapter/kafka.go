package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"groupsync/internal/membership"
	"groupsync/internal/platform/kafka/consumer"
	"groupsync/internal/reconcile/models"
)

// KafkaRunner feeds the adapter from the host's lifecycle topic. The topic
// is the at-least-once delivery channel; duplicates are harmless because
// every downstream operation is idempotent.
type KafkaRunner struct {
	consumer *consumer.Consumer
	adapter  *Adapter
	logger   *slog.Logger

	// retryInterval seeds the backoff used when dispatch hits a transient
	// failure and the record is held for retry.
	retryInterval time.Duration
}

func NewKafkaRunner(c *consumer.Consumer, a *Adapter, logger *slog.Logger) *KafkaRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaRunner{
		consumer:      c,
		adapter:       a,
		logger:        logger,
		retryInterval: 500 * time.Millisecond,
	}
}

// Run consumes until ctx is canceled.
func (r *KafkaRunner) Run(ctx context.Context) error {
	return r.consumer.Run(ctx, r.handle)
}

// handle decodes and dispatches one record. Only errors that cannot improve
// on redelivery return to the consumer, which logs and skips the record:
// malformed payloads and dispatch rejections such as an unknown kind or a
// project the directory does not know. A transient dispatch failure (the
// directory replica briefly unreachable, a timed-out lookup) instead holds
// the record and retries in place, so a valid event is never committed past
// on the strength of an infrastructure blip.
func (r *KafkaRunner) handle(ctx context.Context, msg *consumer.Message) error {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("decode notification at %s/%d@%d: %w",
			msg.Topic, msg.Partition, msg.Offset, err)
	}

	var outcomes []*models.Outcome
	op := func() error {
		var err error
		outcomes, err = r.adapter.Dispatch(ctx, n)
		if err == nil {
			return nil
		}
		if !membership.Retryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.WarnContext(ctx, "dispatch failed, holding record for retry",
			"kind", string(n.Kind), "project", n.ProjectID,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInterval
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("dispatch %s for project %s: %w", n.Kind, n.ProjectID, err)
	}

	for _, o := range outcomes {
		if o.Failed() {
			r.logger.WarnContext(ctx, "reconciliation completed with failures",
				"kind", string(o.Kind), "key", o.Key.String(),
				"partial", o.PartialFailure())
		}
	}
	return nil
}
