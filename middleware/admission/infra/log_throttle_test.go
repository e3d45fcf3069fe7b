package infra

import (
	"context"
	"testing"
	"time"
)

func TestLogThrottle_OneLogPerKeyPerPeriod(t *testing.T) {
	clk := newFakeClock()
	th := NewLogThrottle(time.Minute, WithThrottleClock(clk.Now))

	if !th.Allow("1.2.3.4") {
		t.Fatalf("expected first log to be allowed")
	}
	if th.Allow("1.2.3.4") {
		t.Fatalf("expected second log within period to be suppressed")
	}
	if !th.Allow("5.6.7.8") {
		t.Fatalf("expected other key to be independent")
	}

	clk.Advance(59 * time.Second)
	if th.Allow("1.2.3.4") {
		t.Fatalf("expected log to stay suppressed before period ends")
	}
	clk.Advance(2 * time.Second)
	if !th.Allow("1.2.3.4") {
		t.Fatalf("expected log after period")
	}
}

func TestLogThrottle_DisabledAlwaysAllows(t *testing.T) {
	th := NewLogThrottle(0)
	for i := 0; i < 3; i++ {
		if !th.Allow("k") {
			t.Fatalf("expected disabled throttle to allow")
		}
	}

	var nilThrottle *LogThrottle
	if !nilThrottle.Allow("k") {
		t.Fatalf("expected nil throttle to allow")
	}
}

func TestLogThrottle_CleanupRemovesIdleEntries(t *testing.T) {
	clk := newFakeClock()
	th := NewLogThrottle(time.Minute, WithThrottleClock(clk.Now), WithThrottleIdleTTL(5*time.Minute))

	th.Allow("a")
	clk.Advance(3 * time.Minute)
	th.Allow("b")
	clk.Advance(3 * time.Minute)

	th.Cleanup()
	if th.Len() != 1 {
		t.Fatalf("expected only the recent key to survive, got %d", th.Len())
	}
}

func TestLogThrottle_RunStopsWithContext(t *testing.T) {
	th := NewLogThrottle(time.Minute, WithThrottleCleanupEvery(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- th.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not stop")
	}
}
