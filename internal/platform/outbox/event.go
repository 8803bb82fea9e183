// Package outbox records events in the same batch as the state change that
// caused them and relays them to a handler afterwards, at least once.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Event is one row of the outbox.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Topic         string          `json:"topic"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EntryID       uuid.UUID       `json:"entry_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
}

// NewEvent builds a pending event with payload marshaled to JSON, due for
// delivery at now.
func NewEvent(topic string, aggregateID, entryID uuid.UUID, payload interface{}, now time.Time) (*Event, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	now = now.UTC()
	return &Event{
		ID:            uuid.New(),
		Topic:         topic,
		AggregateID:   aggregateID,
		EntryID:       entryID,
		Payload:       raw,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// Repository persists outbox events. Enqueue must join the caller's
// batch when one is running.
type Repository interface {
	Enqueue(ctx context.Context, e *Event) error
	// Claim returns up to limit pending events due at now and pushes their
	// next attempt to now+lease so concurrent relays skip them.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error)
	Update(ctx context.Context, e *Event) error
	DeleteOld(ctx context.Context, before time.Time, statuses []Status) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Handler consumes relayed events. Returning an error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, e *Event) error
}

type HandlerFunc func(ctx context.Context, e *Event) error

func (f HandlerFunc) Handle(ctx context.Context, e *Event) error {
	return f(ctx, e)
}
