package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
	"github.com/caseflow/caseflow/internal/platform/outbox"
	"github.com/caseflow/caseflow/internal/platform/telemetry"
)

// CaseLookup reads the current case, used to find the caregiver.
type CaseLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*cc.Case, error)
}

// Dispatcher is the outbox handler that fans workflow events out to
// the participant each one concerns.
type Dispatcher struct {
	cases  CaseLookup
	svc    *Service
	logger zerolog.Logger
}

func NewDispatcher(cases CaseLookup, svc *Service, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cases:  cases,
		svc:    svc,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle implements outbox.Handler. Returning an error makes the relay
// retry; events that can never produce a notification are dropped.
func (d *Dispatcher) Handle(ctx context.Context, e *outbox.Event) error {
	var p cc.EntryEvent
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", outbox.ErrPermanent, e.Topic, err)
	}

	var (
		typ       Type
		recipient string
		data      = messageData{CaseName: p.CaseName}
		entryID   uuid.UUID
	)

	switch e.Topic {
	case cc.TopicFeedbackCreated:
		if p.Feedback == nil {
			return fmt.Errorf("%w: %s without feedback entry", outbox.ErrPermanent, e.Topic)
		}
		typ, entryID, data.Actor = TypeNewFeedback, p.Feedback.ID, p.Feedback.DoctorName
		caregiver, err := d.caregiverOf(ctx, p.CaseID)
		if err != nil {
			return d.lookupFailed(ctx, e, typ, err)
		}
		recipient = caregiver

	case cc.TopicTestRequestCreated:
		if p.TestRequest == nil {
			return fmt.Errorf("%w: %s without test request", outbox.ErrPermanent, e.Topic)
		}
		typ, entryID = TypeTestRequested, p.TestRequest.ID
		data.Actor, data.TestName = p.TestRequest.RequestedByName, p.TestRequest.TestName
		caregiver, err := d.caregiverOf(ctx, p.CaseID)
		if err != nil {
			return d.lookupFailed(ctx, e, typ, err)
		}
		recipient = caregiver

	case cc.TopicTestRequestFulfilled:
		if p.TestRequest == nil {
			return fmt.Errorf("%w: %s without test request", outbox.ErrPermanent, e.Topic)
		}
		typ, entryID, recipient = TypeTestFulfilled, p.TestRequest.ID, p.TestRequest.RequestedByID
		data.Actor, data.TestName = p.TestRequest.FulfilledByName, p.TestRequest.TestName

	case cc.TopicSpecialistFeedback:
		if p.Consultation == nil {
			return fmt.Errorf("%w: %s without consultation", outbox.ErrPermanent, e.Topic)
		}
		typ, entryID, recipient = TypeSpecialistFeedback, p.Consultation.ID, p.Consultation.RequestedByID
		data.Actor = p.Consultation.SpecialistName

	default:
		d.logger.Warn().Str("topic", e.Topic).Str("event_id", e.ID.String()).Msg("no notification for topic")
		return nil
	}

	if recipient == "" {
		d.drop(ctx, e, typ, ErrNoRecipient)
		return nil
	}

	msg, err := renderMessage(typ, data)
	if err != nil {
		return fmt.Errorf("%w: %v", outbox.ErrPermanent, err)
	}

	created, err := d.svc.Deliver(ctx, &Notification{
		RecipientID: recipient,
		Type:        typ,
		Message:     msg,
		CaseID:      p.CaseID,
		CaseName:    p.CaseName,
		EntryID:     entryID,
	})
	if err != nil {
		telemetry.NotificationsTotal.WithLabelValues(string(typ), "error").Inc()
		return fmt.Errorf("deliver %s notification: %w", typ, err)
	}

	outcome := "duplicate"
	if created {
		outcome = "created"
	}
	telemetry.NotificationsTotal.WithLabelValues(string(typ), outcome).Inc()
	d.logger.Debug().
		Str("type", string(typ)).
		Str("recipient", recipient).
		Str("entry_id", entryID.String()).
		Str("outcome", outcome).
		Msg("notification dispatched")
	return nil
}

func (d *Dispatcher) caregiverOf(ctx context.Context, caseID uuid.UUID) (string, error) {
	c, err := d.cases.GetByID(ctx, caseID)
	if err != nil {
		return "", err
	}
	return c.CaregiverID, nil
}

func (d *Dispatcher) lookupFailed(ctx context.Context, e *outbox.Event, typ Type, err error) error {
	if errors.Is(err, cc.ErrNotFound) {
		d.drop(ctx, e, typ, err)
		return nil
	}
	telemetry.NotificationsTotal.WithLabelValues(string(typ), "error").Inc()
	return fmt.Errorf("load case %s: %w", e.AggregateID, err)
}

func (d *Dispatcher) drop(ctx context.Context, e *outbox.Event, typ Type, cause error) {
	telemetry.NotificationsTotal.WithLabelValues(string(typ), "dropped").Inc()
	d.logger.Warn().Err(cause).
		Str("topic", e.Topic).
		Str("event_id", e.ID.String()).
		Str("case_id", e.AggregateID.String()).
		Msg("notification dropped")
	telemetry.ReportError(ctx, cause, map[string]string{"topic": e.Topic, "type": string(typ)})
}
