package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) add(ctx context.Context, d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
	OnRollback(ctx, func() {
		c.mu.Lock()
		c.n -= d
		c.mu.Unlock()
	})
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRunInTx_Commit(t *testing.T) {
	tr := NewTransactor()
	c := &counter{}
	err := tr.RunInTx(context.Background(), func(ctx context.Context) error {
		c.add(ctx, 2)
		c.add(ctx, 3)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.value() != 5 {
		t.Errorf("expected 5, got %d", c.value())
	}
}

func TestRunInTx_RollbackOnError(t *testing.T) {
	tr := NewTransactor()
	c := &counter{}
	c.add(context.Background(), 1)

	want := errors.New("second write failed")
	err := tr.RunInTx(context.Background(), func(ctx context.Context) error {
		c.add(ctx, 10)
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if c.value() != 1 {
		t.Errorf("expected rollback to 1, got %d", c.value())
	}
}

func TestRunInTx_RollbackOnPanic(t *testing.T) {
	tr := NewTransactor()
	c := &counter{}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = tr.RunInTx(context.Background(), func(ctx context.Context) error {
			c.add(ctx, 7)
			panic("boom")
		})
	}()

	if c.value() != 0 {
		t.Errorf("expected rollback to 0, got %d", c.value())
	}
	// The lock must have been released.
	if err := tr.RunInTx(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunInTx_NestedJoinsOuter(t *testing.T) {
	tr := NewTransactor()
	c := &counter{}
	err := tr.RunInTx(context.Background(), func(ctx context.Context) error {
		c.add(ctx, 1)
		if err := tr.RunInTx(ctx, func(inner context.Context) error {
			c.add(inner, 1)
			return nil
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if c.value() != 0 {
		t.Errorf("expected nested write rolled back, got %d", c.value())
	}
}

func TestOnRollback_OutsideTx(t *testing.T) {
	called := false
	OnRollback(context.Background(), func() { called = true })
	if called {
		t.Error("undo must not run outside a batch")
	}
	if InTx(context.Background()) {
		t.Error("expected InTx false for background context")
	}
}

func TestOnCommit(t *testing.T) {
	tr := NewTransactor()

	var committed []string
	err := tr.RunInTx(context.Background(), func(ctx context.Context) error {
		OnCommit(ctx, func() { committed = append(committed, "ok") })
		if len(committed) != 0 {
			t.Error("commit hook ran before the batch finished")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(committed) != 1 {
		t.Errorf("expected commit hook once, got %d", len(committed))
	}

	_ = tr.RunInTx(context.Background(), func(ctx context.Context) error {
		OnCommit(ctx, func() { committed = append(committed, "failed") })
		return errors.New("write failed")
	})
	if len(committed) != 1 {
		t.Errorf("commit hook ran for a failed batch: %v", committed)
	}

	OnCommit(context.Background(), func() { committed = append(committed, "direct") })
	if len(committed) != 2 {
		t.Error("expected hook to run immediately outside a batch")
	}
}

func TestRunInTx_Serializes(t *testing.T) {
	tr := NewTransactor()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.RunInTx(context.Background(), func(context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("expected one batch at a time, saw %d", maxActive)
	}
}
