// Package consultation runs specialist consultations: a doctor asks for a
// review, a specialist answers once, and the doctor may archive the
// answered request.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
)

var (
	ErrNotPending    = fmt.Errorf("consultation is no longer pending specialist review: %w", cc.ErrStatusConflict)
	ErrNotArchivable = fmt.Errorf("consultation has no specialist feedback yet: %w", cc.ErrStatusConflict)
)

var validStatuses = map[cc.ConsultationStatus]bool{
	cc.ConsultationPending:          true,
	cc.ConsultationFeedbackProvided: true,
	cc.ConsultationArchived:         true,
}

type Service struct {
	store *cc.Store
}

func NewService(store *cc.Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Service{store: store}, nil
}

// Request opens a consultation and moves the case to Pending Specialist
// Consultation.
func (s *Service) Request(ctx context.Context, caseID uuid.UUID, doctor cc.Actor, details string) (*cc.ConsultationRequest, *cc.Case, error) {
	details = strings.TrimSpace(details)
	if details == "" {
		return nil, nil, cc.Invalid("details are required")
	}
	if doctor.ID == "" {
		return nil, nil, cc.Invalid("doctor is required")
	}

	var cr *cc.ConsultationRequest
	c, err := s.store.Apply(ctx, caseID, string(cc.EventConsultationRequested), func(ctx context.Context, c *cc.Case) (cc.CaseEvent, error) {
		cr = &cc.ConsultationRequest{
			ID:              uuid.New(),
			CaseID:          c.ID,
			RequestedByID:   doctor.ID,
			RequestedByName: doctor.Name,
			PatientName:     c.Name(),
			Details:         details,
			Status:          cc.ConsultationPending,
			RequestedAt:     s.store.Now(),
		}
		if err := s.store.Consultations.Create(ctx, cr); err != nil {
			return "", fmt.Errorf("create consultation request: %w", err)
		}
		return cc.EventConsultationRequested, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return cr, c, nil
}

// SubmitFeedback records the specialist's answer. It succeeds only while
// the request is pending, so a late or repeated submission is rejected
// and the first answer stands.
func (s *Service) SubmitFeedback(ctx context.Context, caseID, consultationID uuid.UUID, specialist cc.Actor, feedback string) (*cc.ConsultationRequest, *cc.Case, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, nil, cc.Invalid("feedback is required")
	}
	if specialist.ID == "" {
		return nil, nil, cc.Invalid("specialist is required")
	}

	var cr *cc.ConsultationRequest
	c, err := s.store.Apply(ctx, caseID, string(cc.EventSpecialistFeedback), func(ctx context.Context, c *cc.Case) (cc.CaseEvent, error) {
		var err error
		if cr, err = s.load(ctx, c.ID, consultationID); err != nil {
			return "", err
		}
		if cr.Status != cc.ConsultationPending {
			return "", ErrNotPending
		}

		now := s.store.Now()
		cr.Status = cc.ConsultationFeedbackProvided
		cr.SpecialistID = specialist.ID
		cr.SpecialistName = specialist.Name
		cr.SpecialistFeedback = feedback
		cr.FeedbackAt = &now
		if err := s.store.Consultations.UpdateIf(ctx, cr, cc.ConsultationPending); err != nil {
			if errors.Is(err, cc.ErrStatusConflict) {
				return "", ErrNotPending
			}
			return "", err
		}
		c.LastSpecialistFeedbackAt = &now
		if err := s.store.Emit(ctx, cc.TopicSpecialistFeedback, c, cr.ID, cc.EntryEvent{Consultation: cr}); err != nil {
			return "", err
		}
		return cc.EventSpecialistFeedback, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return cr, c, nil
}

// Archive closes an answered consultation. The case is not touched.
func (s *Service) Archive(ctx context.Context, caseID, consultationID uuid.UUID) (*cc.ConsultationRequest, error) {
	var cr *cc.ConsultationRequest
	err := s.store.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if cr, err = s.load(ctx, caseID, consultationID); err != nil {
			return err
		}
		if cr.Status != cc.ConsultationFeedbackProvided {
			return ErrNotArchivable
		}
		now := s.store.Now()
		cr.Status = cc.ConsultationArchived
		cr.ArchivedAt = &now
		if err := s.store.Consultations.UpdateIf(ctx, cr, cc.ConsultationFeedbackProvided); err != nil {
			if errors.Is(err, cc.ErrStatusConflict) {
				return ErrNotArchivable
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *Service) Get(ctx context.Context, caseID, consultationID uuid.UUID) (*cc.ConsultationRequest, error) {
	return s.load(ctx, caseID, consultationID)
}

// List returns the case's consultations, newest first.
func (s *Service) List(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*cc.ConsultationRequest, int, error) {
	if _, err := s.store.Cases.GetByID(ctx, caseID); err != nil {
		return nil, 0, err
	}
	return s.store.Consultations.ListByCase(ctx, caseID, limit, offset)
}

// Worklist lists consultations across cases in status, oldest first.
// An empty status means pending.
func (s *Service) Worklist(ctx context.Context, status cc.ConsultationStatus, limit, offset int) ([]*cc.ConsultationRequest, int, error) {
	if status == "" {
		status = cc.ConsultationPending
	}
	if !validStatuses[status] {
		return nil, 0, cc.Invalid("invalid status: %s", status)
	}
	return s.store.Consultations.ListByStatus(ctx, status, limit, offset)
}

func (s *Service) load(ctx context.Context, caseID, consultationID uuid.UUID) (*cc.ConsultationRequest, error) {
	cr, err := s.store.Consultations.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if cr.CaseID != caseID {
		return nil, fmt.Errorf("consultation %s: %w", consultationID, cc.ErrNotFound)
	}
	return cr, nil
}
