package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/websocket"
)

const (
	EventCreated     = "notification.created"
	EventUnreadCount = "notification.unread_count"
)

// UserTopic is the websocket topic a user's notifications are pushed to.
func UserTopic(userID string) string {
	return "notifications/" + userID
}

type Service struct {
	repo   Repository
	pub    websocket.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewService wires the notification store. pub may be nil, in which case
// nothing is pushed to live sessions.
func NewService(repo Repository, pub websocket.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		pub:    pub,
		logger: logger.With().Str("component", "notifications").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Deliver stores n unless the same (entry, type) pair was delivered before.
// It reports whether a new notification was created.
func (s *Service) Deliver(ctx context.Context, n *Notification) (bool, error) {
	if strings.TrimSpace(n.RecipientID) == "" {
		return false, ErrNoRecipient
	}
	n.ID = NotificationID(n.EntryID, n.Type)
	n.IsRead = false
	n.ReadAt = nil
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	created, err := s.repo.Upsert(ctx, n)
	if err != nil {
		return false, err
	}
	if created {
		s.publish(ctx, n.RecipientID, EventCreated, n)
		s.publishUnread(ctx, n.RecipientID)
	}
	return created, nil
}

func (s *Service) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByRecipient(ctx, recipientID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return s.repo.UnreadCount(ctx, recipientID)
}

// MarkRead is idempotent; marking an already read notification is a no-op.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, recipientID string) (*Notification, error) {
	changed, err := s.repo.MarkRead(ctx, id, recipientID, s.now())
	if err != nil {
		return nil, err
	}
	if changed {
		s.publishUnread(ctx, recipientID)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	n, err := s.repo.MarkAllRead(ctx, recipientID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publishUnread(ctx, recipientID)
	}
	return n, nil
}

func (s *Service) publishUnread(ctx context.Context, recipientID string) {
	if s.pub == nil {
		return
	}
	count, err := s.repo.UnreadCount(ctx, recipientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient", recipientID).Msg("unread count for push failed")
		return
	}
	s.publish(ctx, recipientID, EventUnreadCount, map[string]int{"unread": count})
}

func (s *Service) publish(ctx context.Context, recipientID, typ string, data interface{}) {
	if s.pub == nil {
		return
	}
	ev, err := websocket.NewEvent(UserTopic(recipientID), typ, data)
	if err == nil {
		err = s.pub.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(fmt.Errorf("push %s: %w", typ, err)).Str("recipient", recipientID).Send()
	}
}
