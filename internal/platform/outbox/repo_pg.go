package outbox

import (
	"context"
	"fmt"
	"time"

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

const eventCols = `id, topic, aggregate_id, entry_id, payload, status, attempts,
	next_attempt_at, last_error, created_at, delivered_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Topic, &e.AggregateID, &e.EntryID, &e.Payload, &e.Status,
		&e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.DeliveredAt)
	return &e, err
}

func (r *repoPG) Enqueue(ctx context.Context, e *Event) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_events (`+eventCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.Topic, e.AggregateID, e.EntryID, e.Payload, e.Status, e.Attempts,
		e.NextAttemptAt, e.LastError, e.CreatedAt, e.DeliveredAt)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

func (r *repoPG) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE outbox_events SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventCols,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByCreated(events)
	return events, nil
}

func (r *repoPG) Update(ctx context.Context, e *Event) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE outbox_events SET status=$2, attempts=$3, next_attempt_at=$4, last_error=$5, delivered_at=$6
		WHERE id = $1`,
		e.ID, e.Status, e.Attempts, e.NextAttemptAt, e.LastError, e.DeliveredAt)
	return err
}

func (r *repoPG) DeleteOld(ctx context.Context, before time.Time, statuses []Status) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM outbox_events WHERE created_at < $1 AND status = ANY($2)`, before, names)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
