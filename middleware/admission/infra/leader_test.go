package infra

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestLeader_RunsWhileHoldingLeaseAndReleases(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewLeader(rdb, "admission:leader:reconcile",
		WithLeaseTTL(10*time.Second),
		WithLeaseRetry(10*time.Millisecond),
		WithLeaderLogger(log.New(io.Discard)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, func(runCtx context.Context) {
			if !mr.Exists("admission:leader:reconcile") {
				t.Errorf("expected lease key while running")
			}
			close(ran)
			<-runCtx.Done()
		})
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("run was never called")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("leader did not stop")
	}
	if mr.Exists("admission:leader:reconcile") {
		t.Fatalf("expected lease to be released")
	}
}

func TestLeader_WaitsWhileAnotherHolderHasLease(t *testing.T) {
	mr, rdb := newTestRedis(t)
	if err := mr.Set("lease", "someone-else"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mr.SetTTL("lease", time.Minute)

	l := NewLeader(rdb, "lease", WithLeaseRetry(5*time.Millisecond), WithLeaderLogger(log.New(io.Discard)))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	called := false
	_ = l.Run(ctx, func(context.Context) { called = true })
	if called {
		t.Fatalf("expected run not to be called while lease is held elsewhere")
	}
	if got, _ := mr.Get("lease"); got != "someone-else" {
		t.Fatalf("expected foreign lease untouched, got %q", got)
	}
}
