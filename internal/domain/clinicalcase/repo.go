package clinicalcase

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the case changed since it was read.
	ErrVersionConflict = errors.New("case was modified concurrently")
	// ErrStatusConflict means a conditional sub-ledger update found the
	// entry in a different status than expected.
	ErrStatusConflict = errors.New("entry status changed")
	// ErrDuplicatePatientID is returned by Create when the generated
	// patient id is taken.
	ErrDuplicatePatientID = errors.New("patient id already exists")
)

type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// Update persists c only if the stored version equals c.Version, then
	// increments c.Version. Otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, c *Case) error
	List(ctx context.Context, f CaseFilter, limit, offset int) ([]*Case, int, error)
}

type FeedbackRepository interface {
	Create(ctx context.Context, f *FeedbackEntry) error
	ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*FeedbackEntry, int, error)
}

type TestRequestRepository interface {
	Create(ctx context.Context, tr *TestRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*TestRequest, int, error)
	// UpdateIf persists tr only while the stored status is expected.
	UpdateIf(ctx context.Context, tr *TestRequest, expected TestRequestStatus) error
}

type ConsultationRepository interface {
	Create(ctx context.Context, cr *ConsultationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsultationRequest, error)
	ListByCase(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*ConsultationRequest, int, error)
	// ListByStatus lists across cases, oldest first.
	ListByStatus(ctx context.Context, status ConsultationStatus, limit, offset int) ([]*ConsultationRequest, int, error)
	UpdateIf(ctx context.Context, cr *ConsultationRequest, expected ConsultationStatus) error
}

// Transactor runs fn as one atomic batch.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
