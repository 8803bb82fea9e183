package clinicalcase

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/platform/memstore"
	"github.com/caseflow/caseflow/internal/platform/outbox"
)

// NewStoreMem wires every case repository to process memory. Batches are
// serialized by a single memstore.Transactor.
func NewStoreMem() *Store {
	return NewStoreMemWith(memstore.NewTransactor(), outbox.NewRepoMem())
}

// NewStoreMemWith lets other in-memory repositories share tx.
func NewStoreMemWith(tx *memstore.Transactor, ob outbox.Repository) *Store {
	return &Store{
		Tx:            tx,
		Cases:         &caseRepoMem{items: make(map[uuid.UUID]*Case), patientIDs: make(map[string]bool)},
		Feedback:      &feedbackRepoMem{items: make(map[uuid.UUID]*FeedbackEntry)},
		TestRequests:  &testRequestRepoMem{items: make(map[uuid.UUID]*TestRequest)},
		Consultations: &consultationRepoMem{items: make(map[uuid.UUID]*ConsultationRequest)},
		Outbox:        ob,
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// =========== Case Repository ===========

type caseRepoMem struct {
	mu         sync.RWMutex
	items      map[uuid.UUID]*Case
	patientIDs map[string]bool
}

func cloneCase(c *Case) *Case {
	out := *c
	out.Files = cloneStrings(c.Files)
	return &out
}

func (r *caseRepoMem) Create(ctx context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.patientIDs[c.PatientID] {
		return ErrDuplicatePatientID
	}
	r.items[c.ID] = cloneCase(c)
	r.patientIDs[c.PatientID] = true

	id, pid := c.ID, c.PatientID
	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		delete(r.patientIDs, pid)
		r.mu.Unlock()
	})
	return nil
}

func (r *caseRepoMem) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCase(c), nil
}

func (r *caseRepoMem) Update(ctx context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[c.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Version != c.Version {
		return ErrVersionConflict
	}
	next := cloneCase(c)
	next.Version++
	r.items[c.ID] = next
	c.Version++

	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *caseRepoMem) List(_ context.Context, f CaseFilter, limit, offset int) ([]*Case, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Case
	for _, c := range r.items {
		if f.CaregiverID != "" && c.CaregiverID != f.CaregiverID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		all = append(all, cloneCase(c))
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), len(all), nil
}

// =========== Feedback Repository ===========

type feedbackRepoMem struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*FeedbackEntry
}

func (r *feedbackRepoMem) Create(ctx context.Context, f *FeedbackEntry) error {
	r.mu.Lock()
	cp := *f
	r.items[f.ID] = &cp
	r.mu.Unlock()

	id := f.ID
	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *feedbackRepoMem) ListByCase(_ context.Context, caseID uuid.UUID, limit, offset int) ([]*FeedbackEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*FeedbackEntry
	for _, f := range r.items {
		if f.CaseID == caseID {
			cp := *f
			all = append(all, &cp)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), len(all), nil
}

// =========== Test Request Repository ===========

type testRequestRepoMem struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*TestRequest
}

func cloneTestRequest(t *TestRequest) *TestRequest {
	out := *t
	out.ResultFiles = cloneStrings(t.ResultFiles)
	return &out
}

func (r *testRequestRepoMem) Create(ctx context.Context, t *TestRequest) error {
	r.mu.Lock()
	r.items[t.ID] = cloneTestRequest(t)
	r.mu.Unlock()

	id := t.ID
	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *testRequestRepoMem) GetByID(_ context.Context, id uuid.UUID) (*TestRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTestRequest(t), nil
}

func (r *testRequestRepoMem) ListByCase(_ context.Context, caseID uuid.UUID, limit, offset int) ([]*TestRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*TestRequest
	for _, t := range r.items {
		if t.CaseID == caseID {
			all = append(all, cloneTestRequest(t))
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].RequestedAt.After(all[j].RequestedAt) })
	return page(all, limit, offset), len(all), nil
}

func (r *testRequestRepoMem) UpdateIf(ctx context.Context, t *TestRequest, expected TestRequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[t.ID]
	if !ok || prev.Status != expected {
		return ErrStatusConflict
	}
	r.items[t.ID] = cloneTestRequest(t)

	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}

// =========== Consultation Repository ===========

type consultationRepoMem struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*ConsultationRequest
}

func (r *consultationRepoMem) Create(ctx context.Context, c *ConsultationRequest) error {
	r.mu.Lock()
	cp := *c
	r.items[c.ID] = &cp
	r.mu.Unlock()

	id := c.ID
	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.items, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *consultationRepoMem) GetByID(_ context.Context, id uuid.UUID) (*ConsultationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *consultationRepoMem) filter(match func(*ConsultationRequest) bool) []*ConsultationRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ConsultationRequest
	for _, c := range r.items {
		if match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

func (r *consultationRepoMem) ListByCase(_ context.Context, caseID uuid.UUID, limit, offset int) ([]*ConsultationRequest, int, error) {
	all := r.filter(func(c *ConsultationRequest) bool { return c.CaseID == caseID })
	sort.SliceStable(all, func(i, j int) bool { return all[i].RequestedAt.After(all[j].RequestedAt) })
	return page(all, limit, offset), len(all), nil
}

func (r *consultationRepoMem) ListByStatus(_ context.Context, status ConsultationStatus, limit, offset int) ([]*ConsultationRequest, int, error) {
	all := r.filter(func(c *ConsultationRequest) bool { return c.Status == status })
	sort.SliceStable(all, func(i, j int) bool { return all[i].RequestedAt.Before(all[j].RequestedAt) })
	return page(all, limit, offset), len(all), nil
}

func (r *consultationRepoMem) UpdateIf(ctx context.Context, c *ConsultationRequest, expected ConsultationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[c.ID]
	if !ok || prev.Status != expected {
		return ErrStatusConflict
	}
	cp := *c
	r.items[c.ID] = &cp

	memstore.OnRollback(ctx, func() {
		r.mu.Lock()
		r.items[prev.ID] = prev
		r.mu.Unlock()
	})
	return nil
}
