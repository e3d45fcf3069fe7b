package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func TestBlacklistService_BlockWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	entry, err := f.blacklist.Block(ctx, BlockRequest{IP: " 1.2.3.4 ", Reason: "fraud", Duration: 2 * time.Hour})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if entry.IP != "1.2.3.4" || entry.Type != domain.BlockManual || entry.ExpiresAt == nil {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if _, err := f.repo.Get(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("expected db row: %v", err)
	}
	if blocked, _ := f.blacklist.IsBlocked(ctx, "1.2.3.4"); !blocked {
		t.Fatalf("expected mirror to contain ip")
	}
}

func TestBlacklistService_BlockRejectsInvalidInput(t *testing.T) {
	f := newFixture(domain.DefaultPolicy())
	if _, err := f.blacklist.Block(context.Background(), BlockRequest{IP: "not-an-ip"}); !errors.Is(err, domain.ErrInvalidIP) {
		t.Fatalf("expected ErrInvalidIP, got %v", err)
	}
	if _, err := f.blacklist.Block(context.Background(), BlockRequest{IP: "1.2.3.4", Duration: -time.Hour}); err == nil {
		t.Fatalf("expected error for negative duration")
	}
}

func TestBlacklistService_BlockRejectsRangesWiderThanKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())
	f.blacklist.V6Prefix = 64

	for _, ip := range []string{"203.0.113.0/24", "2001:db8::/48"} {
		if _, err := f.blacklist.Block(ctx, BlockRequest{IP: ip}); !errors.Is(err, domain.ErrInvalidIP) {
			t.Fatalf("%s: expected ErrInvalidIP, got %v", ip, err)
		}
	}
	if n, _ := f.blacklist.MirrorSize(ctx); n != 0 {
		t.Fatalf("expected nothing mirrored, got %d", n)
	}
	if rows, total, err := f.repo.List(ctx, domain.ListFilter{Limit: 10}); err != nil || total != 0 {
		t.Fatalf("expected no rows, got %+v (err=%v)", rows, err)
	}

	// um prefixo na granularidade da chave bloqueia os endereços dentro dele
	entry, err := f.blacklist.Block(ctx, BlockRequest{IP: "2001:db8::/64"})
	if err != nil {
		t.Fatalf("block /64: %v", err)
	}
	key := domain.ClientKey("2001:db8::abcd", 64)
	if key != entry.IP {
		t.Fatalf("expected client key %s to match blocked entry %s", key, entry.IP)
	}
	if v := f.evaluate("GET", "/api/items", key); v.Allowed || v.Stage != domain.StageBlacklist {
		t.Fatalf("expected address inside the /64 to be blocked, got %+v", v)
	}
}

func TestBlacklistService_UnknownBucketCanBeUnblocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(strictPolicy(2))

	for i := 0; i < 4; i++ {
		f.evaluate("GET", "/api/items", "")
	}
	if blocked, _ := f.blacklist.IsBlocked(ctx, domain.UnknownIP); !blocked {
		t.Fatalf("expected unknown bucket to be auto-banned")
	}

	entry, err := f.blacklist.Info(ctx, domain.UnknownIP)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if entry.Type != domain.BlockAuto || !entry.Active {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if err := f.blacklist.Unblock(ctx, " unknown "); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if blocked, _ := f.blacklist.IsBlocked(ctx, domain.UnknownIP); blocked {
		t.Fatalf("expected unknown bucket removed from mirror")
	}
	if v := f.evaluate("GET", "/api/items", ""); v.Stage == domain.StageBlacklist {
		t.Fatalf("expected blacklist stage to pass after unblock, got %+v", v)
	}
}

func TestBlacklistService_BlockKeepsRelatedUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4", RelatedUserIDs: []int64{1, 2}})
	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4", Reason: "again"})

	got, _ := f.blacklist.Info(ctx, "1.2.3.4")
	if len(got.RelatedUserIDs) != 2 || got.Reason != "again" {
		t.Fatalf("expected related users kept, got %+v", got)
	}
}

func TestBlacklistService_Unblock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4"})
	if err := f.blacklist.Unblock(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if blocked, _ := f.blacklist.IsBlocked(ctx, "1.2.3.4"); blocked {
		t.Fatalf("expected ip removed from mirror")
	}
	got, _ := f.repo.Get(ctx, "1.2.3.4")
	if got.Active {
		t.Fatalf("expected row deactivated")
	}

	if err := f.blacklist.Unblock(ctx, "9.9.9.9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlacklistService_EscalateExtendsExistingBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4", Reason: "manual", Duration: time.Hour})
	if err := f.blacklist.Escalate(ctx, "1.2.3.4", "auto", 24*time.Hour, 5); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	got, _ := f.repo.Get(ctx, "1.2.3.4")
	want := f.clock.Now().Add(24 * time.Hour)
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry extended to %s, got %v", want, got.ExpiresAt)
	}
	if got.Reason != "manual" {
		t.Fatalf("expected existing entry to be extended, not replaced: %+v", got)
	}

	_, total, _ := f.repo.List(ctx, domain.ListFilter{})
	if total != 1 {
		t.Fatalf("expected no duplicate entry, got %d", total)
	}
}

func TestBlacklistService_EscalateNeverShortensBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4", Duration: 72 * time.Hour})
	_ = f.blacklist.Escalate(ctx, "1.2.3.4", "auto", 24*time.Hour, 5)

	got, _ := f.repo.Get(ctx, "1.2.3.4")
	if want := f.clock.Now().Add(72 * time.Hour); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expected longer expiry kept, got %v", got.ExpiresAt)
	}
}

func TestBlacklistService_EscalateKeepsPermanentBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4"})
	_ = f.blacklist.Escalate(ctx, "1.2.3.4", "auto", 24*time.Hour, 5)

	got, _ := f.repo.Get(ctx, "1.2.3.4")
	if !got.Permanent() {
		t.Fatalf("expected permanent ban to stay permanent, got %v", got.ExpiresAt)
	}
}

func TestBlacklistService_EscalateReplacesExpiredEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4", Reason: "old", Duration: time.Hour})
	f.clock.Advance(2 * time.Hour)
	_ = f.blacklist.Escalate(ctx, "1.2.3.4", "auto-ban: 5 violations", 24*time.Hour, 5)

	got, _ := f.repo.Get(ctx, "1.2.3.4")
	if got.Type != domain.BlockAuto || got.Reason != "auto-ban: 5 violations" || !got.Blocks(f.clock.Now()) {
		t.Fatalf("expected fresh auto entry, got %+v", got)
	}
	if got.RequestCount != 5 {
		t.Fatalf("expected request count 5, got %d", got.RequestCount)
	}
}

func TestBlacklistService_IsBlockedFailsOpen(t *testing.T) {
	s := BlacklistService{Store: downStore{}, Log: quietLog()}
	blocked, degraded := s.IsBlocked(context.Background(), "1.2.3.4")
	if blocked || !degraded {
		t.Fatalf("expected not blocked and degraded, got blocked=%v degraded=%v", blocked, degraded)
	}
}

func TestBlacklistService_MirrorFailureDoesNotFailBlock(t *testing.T) {
	repo := infra.NewMemoryBlacklistRepository()
	s := BlacklistService{Repo: repo, Store: downStore{}, Log: quietLog()}

	if _, err := s.Block(context.Background(), BlockRequest{IP: "1.2.3.4"}); err != nil {
		t.Fatalf("expected db write to succeed despite cache failure: %v", err)
	}
	if _, err := repo.Get(context.Background(), "1.2.3.4"); err != nil {
		t.Fatalf("expected db row: %v", err)
	}
}

func TestBlacklistService_IPv6IsReducedToPrefix(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())
	f.blacklist.V6Prefix = 64

	entry, err := f.blacklist.Block(ctx, BlockRequest{IP: "2001:db8::1"})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if entry.IP != "2001:db8::/64" {
		t.Fatalf("expected /64 network, got %s", entry.IP)
	}
}

func TestBlacklistService_LastSyncAndMirrorSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.DefaultPolicy())

	if _, ok, err := f.blacklist.LastSync(ctx); ok || err != nil {
		t.Fatalf("expected no sync yet, got ok=%v err=%v", ok, err)
	}

	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "1.2.3.4"})
	_, _ = f.blacklist.Block(ctx, BlockRequest{IP: "5.6.7.8"})
	if _, err := f.reconciler.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	at, ok, err := f.blacklist.LastSync(ctx)
	if err != nil || !ok || !at.Equal(f.clock.Now()) {
		t.Fatalf("unexpected last sync %s ok=%v err=%v", at, ok, err)
	}
	if n, _ := f.blacklist.MirrorSize(ctx); n != 2 {
		t.Fatalf("expected mirror size 2, got %d", n)
	}
}
