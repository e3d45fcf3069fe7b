package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func TestMemoryStatsStore_CountsByStageAndCategory(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackIPs(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{IP: "1.1.1.1", Stage: domain.StagePass, Category: domain.CategoryLogin, Allowed: true})
	_ = s.Record(ctx, domain.StatsEvent{IP: "1.1.1.1", Stage: domain.StageRateLimit, Category: domain.CategoryLogin})
	_ = s.Record(ctx, domain.StatsEvent{IP: "2.2.2.2", Stage: domain.StageBlacklist, Category: domain.CategoryDefault})

	if tot := s.Total(); tot.Allowed != 1 || tot.Denied != 2 {
		t.Fatalf("unexpected totals %+v", tot)
	}
	if c := s.ByCategory()[domain.CategoryLogin]; c.Allowed != 1 || c.Denied != 1 {
		t.Fatalf("unexpected login counters %+v", c)
	}
	if n := s.ByStage()[domain.StageBlacklist]; n != 1 {
		t.Fatalf("expected 1 blacklist verdict, got %d", n)
	}
	if c := s.ByIP()["1.1.1.1"]; c.Allowed != 1 || c.Denied != 1 {
		t.Fatalf("unexpected ip counters %+v", c)
	}
}

func TestRedisStatsStore_WritesHashes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("st:"), WithStatsTrackIPs(true), WithStatsTTL(time.Hour))

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	err := s.Record(context.Background(), domain.StatsEvent{
		IP: "1.1.1.1", Stage: domain.StageInterval, Category: domain.CategoryAdWatch, At: at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if v := mr.HGet("st:total", "denied"); v != "1" {
		t.Fatalf("expected total denied=1, got %q", v)
	}
	if v := mr.HGet("st:stage", "interval"); v != "1" {
		t.Fatalf("expected stage interval=1, got %q", v)
	}
	if v := mr.HGet("st:category", "ad_watch:denied"); v != "1" {
		t.Fatalf("expected category counter, got %q", v)
	}
	if v := mr.HGet("st:minute:202405011230", "denied"); v != "1" {
		t.Fatalf("expected minute bucket, got %q", v)
	}
	if ttl := mr.TTL("st:ip:1.1.1.1"); ttl != time.Hour {
		t.Fatalf("expected ip key ttl 1h, got %s", ttl)
	}
}
