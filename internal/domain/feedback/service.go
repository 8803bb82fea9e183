// Package feedback records doctor notes on a case. Each note moves the
// case to Reviewed by Doctor and notifies the caregiver.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
)

type Service struct {
	store *cc.Store
}

func NewService(store *cc.Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Service{store: store}, nil
}

// Submit appends a feedback entry written by doctor and returns it with
// the updated case.
func (s *Service) Submit(ctx context.Context, caseID uuid.UUID, doctor cc.Actor, note string) (*cc.FeedbackEntry, *cc.Case, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, nil, cc.Invalid("note is required")
	}
	if doctor.ID == "" {
		return nil, nil, cc.Invalid("doctor is required")
	}

	var entry *cc.FeedbackEntry
	c, err := s.store.Apply(ctx, caseID, string(cc.EventFeedbackAdded), func(ctx context.Context, c *cc.Case) (cc.CaseEvent, error) {
		now := s.store.Now()
		entry = &cc.FeedbackEntry{
			ID:         uuid.New(),
			CaseID:     c.ID,
			Note:       note,
			DoctorID:   doctor.ID,
			DoctorName: doctor.Name,
			CreatedAt:  now,
		}
		if err := s.store.Feedback.Create(ctx, entry); err != nil {
			return "", fmt.Errorf("create feedback entry: %w", err)
		}
		c.LastFeedbackAt = &now
		if err := s.store.Emit(ctx, cc.TopicFeedbackCreated, c, entry.ID, cc.EntryEvent{Feedback: entry}); err != nil {
			return "", err
		}
		return cc.EventFeedbackAdded, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, c, nil
}

// List returns the case's feedback, newest first.
func (s *Service) List(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*cc.FeedbackEntry, int, error) {
	if _, err := s.store.Cases.GetByID(ctx, caseID); err != nil {
		return nil, 0, err
	}
	return s.store.Feedback.ListByCase(ctx, caseID, limit, offset)
}
