// Package engine drives idempotent membership changes from lifecycle
// events. Work is serialized per (project, allocation, user) key with
// at-most-one operation in flight; across keys, events run concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"groupsync/internal/membership"
	"groupsync/internal/platform/metrics"
	"groupsync/internal/reconcile/models"
	"groupsync/internal/reconcile/resolver"
	"groupsync/pkg/platform/sentinel"
)

// OutcomeSink receives every completed outcome, e.g. for persistence.
type OutcomeSink interface {
	Emit(ctx context.Context, outcome *models.Outcome) error
}

// RetryConfig bounds the retry loop for transient backend failures.
type RetryConfig struct {
	// MaxAttempts counts the first try plus retries. Minimum 1.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetry retries twice after the initial attempt.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

type Engine struct {
	client       membership.Client
	policy       models.ScopingPolicy
	keys         *keyTable
	retry        RetryConfig
	callTimeout  time.Duration
	batchWorkers int
	logger       *slog.Logger
	metrics      *metrics.Metrics
	sink         OutcomeSink
	tracer       trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithOutcomeSink(sink OutcomeSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithRetry(cfg RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithCallTimeout bounds each individual backend call. Exceeding it
// classifies as a transient failure.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithBatchWorkers caps concurrency inside HandleBatch.
func WithBatchWorkers(n int) Option {
	return func(e *Engine) { e.batchWorkers = n }
}

func New(client membership.Client, policy models.ScopingPolicy, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("membership client is required")
	}
	if policy != models.PolicyProjectLevel && policy != models.PolicyAllocationLevel {
		return nil, fmt.Errorf("unknown scoping policy %q", policy)
	}

	e := &Engine{
		client:       client,
		policy:       policy,
		keys:         newKeyTable(),
		retry:        DefaultRetry(),
		callTimeout:  10 * time.Second,
		batchWorkers: 8,
		logger:       slog.Default(),
		tracer:       otel.Tracer("groupsync/reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.MaxAttempts < 1 {
		e.retry.MaxAttempts = 1
	}
	return e, nil
}

// Handle processes one event to completion and returns its outcome. It
// never returns an unhandled failure: intent-level errors are classified
// and aggregated. The caller observes retries only as latency.
func (e *Engine) Handle(ctx context.Context, event *models.LifecycleEvent) *models.Outcome {
	ctx, span := e.tracer.Start(ctx, "reconcile.handle", trace.WithAttributes(
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("event.project", event.ProjectID),
		attribute.String("event.user", event.UserID),
		attribute.Int64("event.seq", int64(event.Seq)),
	))
	defer span.End()

	if e.metrics != nil {
		e.metrics.EventsTotal.WithLabelValues(string(event.Kind)).Inc()
	}

	key := event.Key()
	entry := e.keys.acquire(key)
	defer e.keys.release(key, entry)

	outcome := &models.Outcome{
		EventID: event.ID,
		Kind:    event.Kind,
		Key:     key,
		Seq:     event.Seq,
	}
	direction := event.Kind.Direction()

	if last := e.keys.lastSeq(key); event.Seq < last {
		// A newer event for this key already ran; the external state it
		// established must not be clobbered by this stale one.
		e.logger.InfoContext(ctx, "event superseded",
			"key", key.String(), "seq", event.Seq, "last_seq", last)
		if e.metrics != nil {
			e.metrics.SupersededTotal.Inc()
		}
		outcome.Results = append(outcome.Results, models.IntentResult{
			Intent: models.MembershipIntent{User: event.UserID, Direction: direction, EventID: event.ID},
			Status: models.StatusAlreadySatisfied,
			Reason: models.ReasonSuperseded,
		})
		return e.finish(ctx, outcome)
	}

	groups := resolver.Resolve(event, e.policy)
	if len(groups) == 0 {
		e.logger.InfoContext(ctx, "no groups resolved, nothing to do",
			"kind", string(event.Kind), "key", key.String())
		outcome.Results = append(outcome.Results, models.IntentResult{
			Intent: models.MembershipIntent{User: event.UserID, Direction: direction, EventID: event.ID},
			Status: models.StatusAlreadySatisfied,
			Reason: models.ReasonNoGroups,
		})
		e.keys.recordSeq(key, event.Seq)
		return e.finish(ctx, outcome)
	}

	for _, group := range groups {
		intent := models.MembershipIntent{
			Group:     group,
			User:      event.UserID,
			Direction: direction,
			EventID:   event.ID,
		}
		outcome.Results = append(outcome.Results, e.apply(ctx, intent))
	}

	e.keys.recordSeq(key, event.Seq)
	return e.finish(ctx, outcome)
}

// HandleBatch processes expanded compound events concurrently. One event's
// failure never aborts the others; partial failure is normal and reported
// per intent in the corresponding outcome.
func (e *Engine) HandleBatch(ctx context.Context, events []*models.LifecycleEvent) []*models.Outcome {
	outcomes := make([]*models.Outcome, len(events))
	g := new(errgroup.Group)
	g.SetLimit(e.batchWorkers)
	for i, event := range events {
		g.Go(func() error {
			outcomes[i] = e.Handle(ctx, event)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// apply issues one intent through the client, retrying transient failures
// with bounded exponential backoff. Backoff waits delay only this key.
func (e *Engine) apply(ctx context.Context, intent models.MembershipIntent) models.IntentResult {
	result := models.IntentResult{Intent: intent}

	var changed bool
	op := func() error {
		result.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		start := time.Now()
		var err error
		if intent.Direction == models.DirectionAdd {
			changed, err = e.client.AddMember(callCtx, string(intent.Group), intent.User)
		} else {
			changed, err = e.client.RemoveMember(callCtx, string(intent.Group), intent.User)
		}
		if e.metrics != nil {
			e.metrics.ObserveClientOp(string(intent.Direction), time.Since(start))
		}

		if err == nil {
			return nil
		}
		if !membership.Retryable(err) {
			return backoff.Permanent(err)
		}
		e.logger.WarnContext(ctx, "transient backend failure, will retry",
			"group", string(intent.Group), "user", intent.User,
			"direction", string(intent.Direction), "attempt", result.Attempts, "error", err)
		if e.metrics != nil {
			e.metrics.RetriesTotal.Inc()
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retry.InitialInterval
	bo.MaxInterval = e.retry.MaxInterval
	bo.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.retry.MaxAttempts-1)), ctx))

	switch {
	case err == nil && changed:
		result.Status = models.StatusApplied
	case err == nil:
		result.Status = models.StatusAlreadySatisfied
	default:
		result.Status = models.StatusFailed
		result.Reason = classify(err)
		e.logger.ErrorContext(ctx, "membership intent failed",
			"group", string(intent.Group), "user", intent.User,
			"direction", string(intent.Direction), "attempts", result.Attempts, "error", err)
	}

	if e.metrics != nil {
		e.metrics.IntentsTotal.WithLabelValues(string(intent.Direction), string(result.Status)).Inc()
	}
	return result
}

func (e *Engine) finish(ctx context.Context, outcome *models.Outcome) *models.Outcome {
	outcome.CompletedAt = time.Now()
	if e.sink != nil {
		if err := e.sink.Emit(ctx, outcome); err != nil {
			e.logger.WarnContext(ctx, "outcome sink rejected outcome",
				"event_id", outcome.EventID.String(), "error", err)
		}
	}
	return outcome
}

func classify(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return "not found upstream"
	case errors.Is(err, sentinel.ErrPermissionDenied):
		return "permission denied"
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "backend unavailable, retries exhausted"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return err.Error()
	}
}
