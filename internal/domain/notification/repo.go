package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert inserts n unless a notification with its id exists. An
	// existing row is left untouched, including its read flag.
	Upsert(ctx context.Context, n *Notification) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ListByRecipient returns newest first.
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	// MarkRead flags one of recipientID's notifications as read. It
	// returns ErrNotFound when the id does not belong to the recipient.
	MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (changed bool, err error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
}
