package domain

import "testing"

func TestKeyspace_Names(t *testing.T) {
	k := Keyspace{Prefix: "prod:"}

	cases := map[string]string{
		k.RateLimit("1.2.3.4", CategoryLogin):    "prod:rate_limit:1.2.3.4:login",
		k.LastRequest("1.2.3.4", CategoryAdWatch): "prod:last_request:1.2.3.4:ad_watch",
		k.Violations("1.2.3.4"):                  "prod:violations:1.2.3.4",
		k.AutoBanLock("1.2.3.4"):                 "prod:autoban_lock:1.2.3.4",
		k.BlockedSet():                           "prod:ip_blacklist:blocked_set",
		k.LastSync():                             "prod:ip_blacklist:last_sync",
		k.ReconcileLease():                       "prod:ip_blacklist:reconcile_leader",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}

	if got := (Keyspace{Prefix: "admission"}).RateLimit("1.2.3.4", CategoryLogin); got != "admission:rate_limit:1.2.3.4:login" {
		t.Fatalf("expected separator after bare prefix, got %q", got)
	}
	if got := (Keyspace{}).BlockedSet(); got != "ip_blacklist:blocked_set" {
		t.Fatalf("expected unprefixed key, got %q", got)
	}
}
