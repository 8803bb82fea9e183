package clinicalcase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow/caseflow/internal/platform/telemetry"
)

// ErrValidation marks input rejected before anything is written.
var ErrValidation = errors.New("validation failed")

// Invalid returns a validation error with the given message.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

const maxIDAttempts = 3

type Service struct {
	store          *Store
	hospitalPrefix string
}

func NewService(store *Store, hospitalPrefix string) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if !validHospitalPrefix(strings.ToUpper(hospitalPrefix)) {
		return nil, fmt.Errorf("hospital id prefix must be three letters, got %q", hospitalPrefix)
	}
	return &Service{store: store, hospitalPrefix: strings.ToUpper(hospitalPrefix)}, nil
}

// Store exposes the shared store to the sub-workflow services.
func (s *Service) Store() *Store {
	return s.store
}

// CreateCase registers c for its caregiver. Identifiers, status, version
// and timestamps are assigned here; caller values for them are ignored.
func (s *Service) CreateCase(ctx context.Context, c *Case) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "case.create")
	defer func() {
		telemetry.TransitionsTotal.WithLabelValues(string(EventCaseCreated), outcomeOf(err)).Inc()
		telemetry.EndSpan(span, err)
	}()

	c.Demographics.PatientName = strings.TrimSpace(c.Demographics.PatientName)
	if c.Demographics.PatientName == "" {
		return Invalid("patient_name is required")
	}
	if c.CaregiverID == "" {
		return Invalid("caregiver_id is required")
	}

	status, err := Transition("", EventCaseCreated)
	if err != nil {
		return err
	}
	now := s.store.Now()
	c.ID = uuid.New()
	c.Status = status
	c.Version = 1
	c.CreatedAt = now
	c.RegisteredAt = now
	c.UpdatedAt = now
	c.LastFeedbackAt = nil
	c.LastSpecialistFeedbackAt = nil
	files := c.Files
	c.Files = nil
	c.AddFiles(files)

	if c.HospitalID, err = NewHospitalID(s.hospitalPrefix); err != nil {
		return err
	}
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		if c.PatientID, err = NewPatientID(); err != nil {
			return err
		}
		err = s.store.Tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.store.Cases.Create(ctx, c)
		})
		if !errors.Is(err, ErrDuplicatePatientID) {
			break
		}
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("case.id", c.ID.String()))
	return nil
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.store.Cases.GetByID(ctx, id)
}

func (s *Service) ListCases(ctx context.Context, f CaseFilter, limit, offset int) ([]*Case, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, Invalid("invalid status: %s", f.Status)
	}
	return s.store.Cases.List(ctx, f, limit, offset)
}

// DetailsUpdate carries the caregiver-editable fields. Nil fields are left
// unchanged; Files are merged into the case file list.
type DetailsUpdate struct {
	Demographics   *Demographics `json:"demographics,omitempty"`
	Vitals         *Vitals       `json:"vitals,omitempty"`
	MedicalHistory *string       `json:"medical_history,omitempty"`
	Files          []string      `json:"files,omitempty"`
}

// UpdateDetails edits the clinical details of a case. The status is never
// touched.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, u DetailsUpdate) (*Case, error) {
	if u.Demographics != nil {
		u.Demographics.PatientName = strings.TrimSpace(u.Demographics.PatientName)
		if u.Demographics.PatientName == "" {
			return nil, Invalid("patient_name is required")
		}
	}
	return s.store.Apply(ctx, id, "details_updated", func(_ context.Context, c *Case) (CaseEvent, error) {
		if u.Demographics != nil {
			c.Demographics = *u.Demographics
		}
		if u.Vitals != nil {
			c.Vitals = *u.Vitals
		}
		if u.MedicalHistory != nil {
			c.MedicalHistory = *u.MedicalHistory
		}
		c.AddFiles(u.Files)
		return "", nil
	})
}
