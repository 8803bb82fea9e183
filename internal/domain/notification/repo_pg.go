package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const notificationCols = `id, recipient_id, type, message, case_id, case_name, entry_id, is_read, read_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Message, &n.CaseID, &n.CaseName,
		&n.EntryID, &n.IsRead, &n.ReadAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repoPG) Upsert(ctx context.Context, n *Notification) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (`+notificationCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`,
		n.ID, n.RecipientID, n.Type, n.Message, n.CaseID, n.CaseName, n.EntryID,
		n.IsRead, n.ReadAt, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

func (r *repoPG) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `recipient_id = $1`
	if unreadOnly {
		where += ` AND NOT is_read`
	}
	conn := r.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+notificationCols+` FROM notifications WHERE `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`, recipientID).Scan(&n)
	return n, err
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (bool, error) {
	conn := r.conn(ctx)
	tag, err := conn.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $3
		WHERE id = $1 AND recipient_id = $2 AND NOT is_read`, id, recipientID, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND recipient_id = $2)`, id, recipientID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT is_read`, recipientID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
