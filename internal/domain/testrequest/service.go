// Package testrequest runs the test ordering workflow: a doctor orders a
// test, the caregiver fulfils it with results and the doctor reviews them.
// None of these steps changes the case status.
package testrequest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
)

var (
	ErrNotPending    = fmt.Errorf("test request is not pending: %w", cc.ErrStatusConflict)
	ErrNotReviewable = fmt.Errorf("test request has not been fulfilled: %w", cc.ErrStatusConflict)
)

type Service struct {
	store  *cc.Store
	logger zerolog.Logger
}

func NewService(store *cc.Store, logger zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Service{store: store, logger: logger.With().Str("component", "testrequest").Logger()}, nil
}

// Create orders a test on the case.
func (s *Service) Create(ctx context.Context, caseID uuid.UUID, doctor cc.Actor, testName, reason string) (*cc.TestRequest, error) {
	testName = strings.TrimSpace(testName)
	if testName == "" {
		return nil, cc.Invalid("test_name is required")
	}
	if doctor.ID == "" {
		return nil, cc.Invalid("doctor is required")
	}

	var tr *cc.TestRequest
	_, err := s.store.Apply(ctx, caseID, "test_requested", func(ctx context.Context, c *cc.Case) (cc.CaseEvent, error) {
		tr = &cc.TestRequest{
			ID:              uuid.New(),
			CaseID:          c.ID,
			TestName:        testName,
			Reason:          strings.TrimSpace(reason),
			Status:          cc.TestPending,
			RequestedByID:   doctor.ID,
			RequestedByName: doctor.Name,
			RequestedAt:     s.store.Now(),
		}
		if err := s.store.TestRequests.Create(ctx, tr); err != nil {
			return "", fmt.Errorf("create test request: %w", err)
		}
		return "", s.store.Emit(ctx, cc.TopicTestRequestCreated, c, tr.ID, cc.EntryEvent{TestRequest: tr})
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// Fulfil records the caregiver's results. The result files are merged
// into the case file list in the same batch. Only a pending request can
// be fulfilled.
func (s *Service) Fulfil(ctx context.Context, caseID, requestID uuid.UUID, caregiver cc.Actor, notes string, files []string) (*cc.TestRequest, *cc.Case, error) {
	if caregiver.ID == "" {
		return nil, nil, cc.Invalid("caregiver is required")
	}
	notes = strings.TrimSpace(notes)
	files = uniqueNonEmpty(files)
	if notes == "" && len(files) == 0 {
		s.logger.Warn().
			Str("case_id", caseID.String()).
			Str("test_request_id", requestID.String()).
			Msg("test request fulfilled without notes or files")
	}

	var tr *cc.TestRequest
	c, err := s.store.Apply(ctx, caseID, "test_fulfilled", func(ctx context.Context, c *cc.Case) (cc.CaseEvent, error) {
		var err error
		if tr, err = s.load(ctx, c.ID, requestID); err != nil {
			return "", err
		}
		if tr.Status != cc.TestPending {
			return "", ErrNotPending
		}

		now := s.store.Now()
		tr.Status = cc.TestFulfilled
		tr.ResultNotes = notes
		tr.ResultFiles = files
		tr.FulfilledAt = &now
		tr.FulfilledByID = caregiver.ID
		tr.FulfilledByName = caregiver.Name
		if err := s.store.TestRequests.UpdateIf(ctx, tr, cc.TestPending); err != nil {
			if errors.Is(err, cc.ErrStatusConflict) {
				return "", ErrNotPending
			}
			return "", err
		}
		c.AddFiles(files)
		return "", s.store.Emit(ctx, cc.TopicTestRequestFulfilled, c, tr.ID, cc.EntryEvent{TestRequest: tr})
	})
	if err != nil {
		return nil, nil, err
	}
	return tr, c, nil
}

// Review lets the doctor acknowledge fulfilled results.
func (s *Service) Review(ctx context.Context, caseID, requestID uuid.UUID, doctor cc.Actor, notes string) (*cc.TestRequest, error) {
	if doctor.ID == "" {
		return nil, cc.Invalid("doctor is required")
	}
	var tr *cc.TestRequest
	err := s.store.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if tr, err = s.load(ctx, caseID, requestID); err != nil {
			return err
		}
		if tr.Status != cc.TestFulfilled {
			return ErrNotReviewable
		}
		now := s.store.Now()
		tr.Status = cc.TestReviewedByDoctor
		tr.ReviewNotes = strings.TrimSpace(notes)
		tr.ReviewedAt = &now
		if err := s.store.TestRequests.UpdateIf(ctx, tr, cc.TestFulfilled); err != nil {
			if errors.Is(err, cc.ErrStatusConflict) {
				return ErrNotReviewable
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *Service) Get(ctx context.Context, caseID, requestID uuid.UUID) (*cc.TestRequest, error) {
	return s.load(ctx, caseID, requestID)
}

// List returns the case's test requests, newest first.
func (s *Service) List(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*cc.TestRequest, int, error) {
	if _, err := s.store.Cases.GetByID(ctx, caseID); err != nil {
		return nil, 0, err
	}
	return s.store.TestRequests.ListByCase(ctx, caseID, limit, offset)
}

// load reads a request and checks it belongs to the case.
func (s *Service) load(ctx context.Context, caseID, requestID uuid.UUID) (*cc.TestRequest, error) {
	tr, err := s.store.TestRequests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if tr.CaseID != caseID {
		return nil, fmt.Errorf("test request %s: %w", requestID, cc.ErrNotFound)
	}
	return tr, nil
}

func uniqueNonEmpty(urls []string) []string {
	var out []string
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
