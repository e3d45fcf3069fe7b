package infra

import (
	"context"
	"testing"
	"time"
)

func TestSemaphorePool_BlocksWhenFull(t *testing.T) {
	p := NewSemaphorePool(1)

	release, ok := p.Acquire(context.Background())
	if !ok || p.InUse() != 1 {
		t.Fatalf("expected first acquire to succeed, in use %d", p.InUse())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to time out")
	}

	release()
	release() // idempotente
	if p.InUse() != 0 {
		t.Fatalf("expected slot released, in use %d", p.InUse())
	}
	if _, ok := p.Acquire(context.Background()); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestSemaphorePool_WaiterGetsReleasedSlot(t *testing.T) {
	p := NewSemaphorePool(1)
	release, _ := p.Acquire(context.Background())

	got := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, ok := p.Acquire(ctx)
		got <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case ok := <-got:
		if !ok {
			t.Fatalf("expected waiter to acquire the released slot")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("waiter never returned")
	}
}

func TestNewSemaphorePool_MinimumSize(t *testing.T) {
	if got := NewSemaphorePool(0).Size(); got != 1 {
		t.Fatalf("expected size 1, got %d", got)
	}
}
