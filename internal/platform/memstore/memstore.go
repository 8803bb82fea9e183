// Package memstore provides the batch semantics the map-backed
// repositories share: one writer batch at a time and all-or-nothing
// commit through an undo journal.
package memstore

import (
	"context"
	"sync"
)

type journalKey struct{}

type journal struct {
	undo   []func()
	commit []func()
}

// Transactor serializes write batches across every repository that records
// its changes with OnRollback.
type Transactor struct {
	mu sync.Mutex
}

func NewTransactor() *Transactor {
	return &Transactor{}
}

// RunInTx runs fn as one batch. If fn returns an error or panics, every
// change registered through OnRollback is reverted in reverse order;
// otherwise the OnCommit hooks run before the next batch can start.
// Nested calls join the outer batch.
func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	j := &journal{}
	committed := false
	defer func() {
		if !committed {
			for i := len(j.undo) - 1; i >= 0; i-- {
				j.undo[i]()
			}
		}
	}()

	if err = fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		return err
	}
	committed = true
	for _, fn := range j.commit {
		fn()
	}
	return nil
}

// Ping always succeeds.
func (t *Transactor) Ping(context.Context) error { return nil }

// InTx reports whether ctx belongs to a running batch.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(journalKey{}).(*journal)
	return ok
}

// OnRollback registers undo to run if the enclosing batch fails. Outside a
// batch the write is final and undo is dropped.
func OnRollback(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// OnCommit registers fn to run once the enclosing batch has committed.
// Outside a batch fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.commit = append(j.commit, fn)
		return
	}
	fn()
}
