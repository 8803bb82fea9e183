// Package notification turns case workflow events into per-user
// notifications and tracks which of them have been read.
package notification

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeNewFeedback        Type = "new_feedback"
	TypeTestRequested      Type = "test_requested"
	TypeTestFulfilled      Type = "test_fulfilled"
	TypeSpecialistFeedback Type = "specialist_feedback"
)

var (
	ErrNotFound    = errors.New("notification not found")
	ErrNoRecipient = errors.New("notification has no recipient")
)

type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RecipientID string     `db:"recipient_id" json:"recipient_id"`
	Type        Type       `db:"type" json:"type"`
	Message     string     `db:"message" json:"message"`
	CaseID      uuid.UUID  `db:"case_id" json:"case_id"`
	CaseName    string     `db:"case_name" json:"case_name"`
	EntryID     uuid.UUID  `db:"entry_id" json:"entry_id"`
	IsRead      bool       `db:"is_read" json:"is_read"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

var idNamespace = uuid.MustParse("6f1c2d4e-8b3a-5c7d-9e0f-a1b2c3d4e5f6")

// NotificationID derives a stable id from the triggering entry and type,
// so redelivering the same event maps onto the same notification.
func NotificationID(entryID uuid.UUID, t Type) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(entryID.String()+"/"+string(t)))
}
