package clinicalcase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caseflow/caseflow/internal/platform/outbox"
	"github.com/caseflow/caseflow/internal/platform/telemetry"
)

const defaultMaxAttempts = 3

// Store groups the case record, its sub-ledgers and the outbox behind one
// transactor so a workflow step commits or fails as a unit.
type Store struct {
	Tx            Transactor
	Cases         CaseRepository
	Feedback      FeedbackRepository
	TestRequests  TestRequestRepository
	Consultations ConsultationRepository
	Outbox        outbox.Repository

	// MaxAttempts bounds how often Apply re-reads the case after losing a
	// version race.
	MaxAttempts int

	committed func()
	now       func() time.Time
}

// OnCommit registers fn to run after every committed batch that emitted
// events. The outbox relay uses it to skip its poll delay.
func (s *Store) OnCommit(fn func()) {
	s.committed = fn
}

// Now returns the timestamp written by the current batch.
func (s *Store) Now() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Mutation changes a freshly read case inside a batch: it writes
// sub-ledger entries, emits events and edits c in place. It returns the
// event that drives the status transition, or "" to keep the status.
type Mutation func(ctx context.Context, c *Case) (CaseEvent, error)

type emittedKey struct{}

// Apply reads the case, runs m and writes the case back with a version
// check, all in one batch. On a version conflict the whole batch is
// retried with a fresh read, up to MaxAttempts.
func (s *Store) Apply(ctx context.Context, caseID uuid.UUID, name string, m Mutation) (*Case, error) {
	ctx, span := telemetry.StartSpan(ctx, "case.apply "+name,
		trace.WithAttributes(attribute.String("case.id", caseID.String())))

	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var (
		out     *Case
		emitted bool
		err     error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		emitted = false
		err = s.Tx.RunInTx(ctx, func(ctx context.Context) error {
			ctx = context.WithValue(ctx, emittedKey{}, &emitted)

			c, err := s.Cases.GetByID(ctx, caseID)
			if err != nil {
				return err
			}
			ev, err := m(ctx, c)
			if err != nil {
				return err
			}
			if ev != "" {
				next, err := Transition(c.Status, ev)
				if err != nil {
					return err
				}
				c.Status = next
			}
			c.UpdatedAt = s.Now()
			if err := s.Cases.Update(ctx, c); err != nil {
				return err
			}
			out = c
			return nil
		})
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
		telemetry.VersionConflictsTotal.Inc()
		span.AddEvent("version conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}

	telemetry.TransitionsTotal.WithLabelValues(name, outcomeOf(err)).Inc()
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	if emitted && s.committed != nil {
		s.committed()
	}
	return out, nil
}

// Emit records an outbox event in the running batch.
func (s *Store) Emit(ctx context.Context, topic string, c *Case, entryID uuid.UUID, payload EntryEvent) error {
	payload.CaseID = c.ID
	payload.CaseName = c.Name()
	e, err := outbox.NewEvent(topic, c.ID, entryID, payload, s.Now())
	if err != nil {
		return err
	}
	if err := s.Outbox.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("emit %s: %w", topic, err)
	}
	if flag, ok := ctx.Value(emittedKey{}).(*bool); ok {
		*flag = true
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict), errors.Is(err, ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}
