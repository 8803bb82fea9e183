package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/telemetry"
)

// ErrPermanent marks a handler error that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Relay polls the outbox and hands due events to a Handler. Failed
// deliveries are retried with backoff until MaxAttempts, then marked failed.
type Relay struct {
	repo    Repository
	handler Handler
	logger  zerolog.Logger
	wake    chan struct{}
	now     func() time.Time

	// PollInterval controls how often pending events are polled when no
	// Notify arrives.
	PollInterval time.Duration
	// BatchSize is the max number of events claimed per poll.
	BatchSize int
	// MaxAttempts is how many deliveries an event gets before it is failed.
	MaxAttempts int
	// Lease hides a claimed event from other relays while it is handled.
	Lease time.Duration
	// CleanupInterval controls how often delivered events are purged.
	CleanupInterval time.Duration
	// Retention is how long delivered events are kept.
	Retention time.Duration
}

func NewRelay(repo Repository, handler Handler, logger zerolog.Logger) *Relay {
	return &Relay{
		repo:            repo,
		handler:         handler,
		logger:          logger.With().Str("component", "outbox_relay").Logger(),
		wake:            make(chan struct{}, 1),
		now:             func() time.Time { return time.Now().UTC() },
		PollInterval:    2 * time.Second,
		BatchSize:       50,
		MaxAttempts:     8,
		Lease:           time.Minute,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

// Notify wakes the relay without waiting for the next poll. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs the delivery and cleanup loops until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	pollTicker := time.NewTicker(r.PollInterval)
	cleanupTicker := time.NewTicker(r.CleanupInterval)
	defer pollTicker.Stop()
	defer cleanupTicker.Stop()

	r.DeliverPending(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			r.drain(ctx)
		case <-pollTicker.C:
			r.drain(ctx)
		case <-cleanupTicker.C:
			r.cleanup(ctx)
		}
	}
}

// drain keeps polling while full batches come back.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if n := r.DeliverPending(ctx); n < r.BatchSize {
			return
		}
	}
}

// DeliverPending claims one batch of due events and handles each. It
// returns the number of events claimed.
func (r *Relay) DeliverPending(ctx context.Context) int {
	events, err := r.repo.Claim(ctx, r.now(), r.Lease, r.BatchSize)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to claim outbox events")
		return 0
	}
	telemetry.OutboxBatchSize.Observe(float64(len(events)))
	for _, e := range events {
		r.deliverOne(ctx, e)
	}
	return len(events)
}

func (r *Relay) deliverOne(ctx context.Context, e *Event) {
	ctx, span := telemetry.StartSpan(ctx, "outbox.deliver "+e.Topic)
	err := r.handle(ctx, e)
	telemetry.EndSpan(span, err)

	e.Attempts++
	if err == nil {
		now := r.now()
		e.Status = StatusDelivered
		e.DeliveredAt = &now
		e.LastError = nil
		if err := r.repo.Update(ctx, e); err != nil {
			r.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to mark event delivered")
		}
		telemetry.OutboxDeliveriesTotal.WithLabelValues(e.Topic, "delivered").Inc()
		return
	}
	r.markFailed(ctx, e, err)
}

// handle shields the relay loop from handler panics.
func (r *Relay) handle(ctx context.Context, e *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrPermanent, p)
		}
	}()
	return r.handler.Handle(ctx, e)
}

func (r *Relay) markFailed(ctx context.Context, e *Event, cause error) {
	msg := cause.Error()
	e.LastError = &msg

	if errors.Is(cause, ErrPermanent) || e.Attempts >= r.MaxAttempts {
		e.Status = StatusFailed
		if err := r.repo.Update(ctx, e); err != nil {
			r.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to mark event failed")
		}
		r.logger.Error().Err(cause).
			Str("event_id", e.ID.String()).
			Str("topic", e.Topic).
			Int("attempts", e.Attempts).
			Msg("outbox event abandoned")
		telemetry.OutboxDeliveriesTotal.WithLabelValues(e.Topic, "failed").Inc()
		telemetry.ReportError(ctx, cause, map[string]string{
			"component": "outbox_relay",
			"topic":     e.Topic,
			"event_id":  e.ID.String(),
		})
		return
	}

	e.NextAttemptAt = r.now().Add(retryBackoff(e.Attempts))
	if err := r.repo.Update(ctx, e); err != nil {
		r.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("failed to schedule event retry")
	}
	r.logger.Warn().Err(cause).
		Str("event_id", e.ID.String()).
		Str("topic", e.Topic).
		Int("attempts", e.Attempts).
		Time("next_attempt_at", e.NextAttemptAt).
		Msg("outbox delivery failed, will retry")
	telemetry.OutboxDeliveriesTotal.WithLabelValues(e.Topic, "retry").Inc()
}

func (r *Relay) cleanup(ctx context.Context) {
	n, err := r.repo.DeleteOld(ctx, r.now().Add(-r.Retention), []Status{StatusDelivered})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to clean up delivered outbox events")
		return
	}
	if n > 0 {
		r.logger.Info().Int64("count", n).Msg("cleaned up delivered outbox events")
	}
}

func retryBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 5 * time.Second
	case 3:
		return 30 * time.Second
	case 4:
		return 2 * time.Minute
	default:
		return 10 * time.Minute
	}
}
