package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/platform/memstore"
)

type repoMem struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewRepoMem() Repository {
	return &repoMem{items: make(map[uuid.UUID]*Notification)}
}

func (r *repoMem) Upsert(ctx context.Context, n *Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[n.ID]; ok {
		return false, nil
	}
	cp := *n
	r.items[n.ID] = &cp
	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, cp.ID)
		r.mu.Unlock()
	})
	return true, nil
}

func (r *repoMem) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *repoMem) ListByRecipient(_ context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	r.mu.RLock()
	var all []*Notification
	for _, n := range r.items {
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		cp := *n
		all = append(all, &cp)
	}
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *repoMem) UnreadCount(_ context.Context, recipientID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *repoMem) MarkRead(_ context.Context, id uuid.UUID, recipientID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.RecipientID != recipientID {
		return false, ErrNotFound
	}
	if n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.ReadAt = &at
	return true, nil
}

func (r *repoMem) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			readAt := at
			n.ReadAt = &readAt
			changed++
		}
	}
	return changed, nil
}
