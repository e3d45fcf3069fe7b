package domain

import "strings"

// Keyspace concentra a nomenclatura das chaves do cache.
//
// Prefix permite que vários ambientes compartilhem o mesmo Redis. O separador
// ":" é acrescentado quando falta.
type Keyspace struct {
	Prefix string
}

func (k Keyspace) join(parts ...string) string {
	prefix := k.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix + strings.Join(parts, ":")
}

func (k Keyspace) RateLimit(ip string, c Category) string {
	return k.join("rate_limit", ip, c.String())
}

func (k Keyspace) LastRequest(ip string, c Category) string {
	return k.join("last_request", ip, c.String())
}

func (k Keyspace) Violations(ip string) string { return k.join("violations", ip) }

func (k Keyspace) AutoBanLock(ip string) string { return k.join("autoban_lock", ip) }

// BlockedSet é o Set espelho dos IPs bloqueados.
func (k Keyspace) BlockedSet() string { return k.join("ip_blacklist", "blocked_set") }

// LastSync guarda o instante (RFC3339) da última reconciliação.
func (k Keyspace) LastSync() string { return k.join("ip_blacklist", "last_sync") }

// ReconcileLease é a chave do lease que elege o processo que reconcilia.
func (k Keyspace) ReconcileLease() string { return k.join("ip_blacklist", "reconcile_leader") }
