package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/platform/memstore"
)

type repoMem struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
	// uncommitted holds events enqueued by a batch that is still running.
	uncommitted map[uuid.UUID]bool
}

func NewRepoMem() Repository {
	return &repoMem{
		events:      make(map[uuid.UUID]*Event),
		uncommitted: make(map[uuid.UUID]bool),
	}
}

func cloneEvent(e *Event) *Event {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

func (r *repoMem) Enqueue(ctx context.Context, e *Event) error {
	id := e.ID
	r.mu.Lock()
	r.events[id] = cloneEvent(e)
	if memstore.InTx(ctx) {
		r.uncommitted[id] = true
	}
	r.mu.Unlock()

	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.events, id)
		delete(r.uncommitted, id)
		r.mu.Unlock()
	})
	memstore.OnCommit(ctx, func() {
		r.mu.Lock()
		delete(r.uncommitted, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *repoMem) Claim(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*Event
	for id, e := range r.events {
		if r.uncommitted[id] {
			continue
		}
		if e.Status == StatusPending && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sortByCreated(due)
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Event, 0, len(due))
	for _, e := range due {
		e.NextAttemptAt = now.Add(lease)
		out = append(out, cloneEvent(e))
	}
	return out, nil
}

func (r *repoMem) Update(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; ok {
		r.events[e.ID] = cloneEvent(e)
	}
	return nil
}

func (r *repoMem) DeleteOld(_ context.Context, before time.Time, statuses []Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	match := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		match[s] = true
	}
	var n int64
	for id, e := range r.events {
		if match[e.Status] && !r.uncommitted[id] && e.CreatedAt.Before(before) {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

func (r *repoMem) CountByStatus(context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Status]int)
	for id, e := range r.events {
		if !r.uncommitted[id] {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func sortByCreated(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}
