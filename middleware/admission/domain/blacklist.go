package domain

import (
	"context"
	"fmt"
	"time"
)

type BlockType string

const (
	BlockManual BlockType = "manual"
	BlockAuto   BlockType = "auto"
)

func ParseBlockType(s string) (BlockType, error) {
	switch BlockType(s) {
	case BlockManual, BlockAuto:
		return BlockType(s), nil
	}
	return "", fmt.Errorf("invalid block type %q (want manual or auto)", s)
}

// BlacklistEntry é a linha autoritativa da tabela ip_blacklist.
type BlacklistEntry struct {
	IP             string
	Reason         string
	Type           BlockType
	RelatedUserIDs []int64
	RequestCount   int64
	Active         bool
	BlockedAt      time.Time
	// ExpiresAt nil = ban permanente.
	ExpiresAt *time.Time
}

// Blocks diz se a entrada bloqueia o IP no instante now:
// ativa E (sem expiração OU expiração no futuro).
func (e BlacklistEntry) Blocks(now time.Time) bool {
	if !e.Active {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Permanent indica ban sem expiração.
func (e BlacklistEntry) Permanent() bool { return e.ExpiresAt == nil }

// ListFilter pagina a listagem administrativa da blacklist.
type ListFilter struct {
	// Active nil = todas as entradas.
	Active *bool
	Offset int
	Limit  int
}

// BlacklistRepository é a fonte da verdade (tabela relacional).
//
// O espelho em cache é derivado dela e reconstruído pela reconciliação.
type BlacklistRepository interface {
	// Get retorna ErrNotFound se o IP nunca foi registrado.
	Get(ctx context.Context, ip string) (BlacklistEntry, error)
	// Save faz upsert pelo IP.
	Save(ctx context.Context, e BlacklistEntry) error
	// Deactivate marca a entrada como inativa. ErrNotFound se não existir.
	Deactivate(ctx context.Context, ip string, at time.Time) error
	// ListBlocked retorna os IPs ativos e não expirados em now.
	ListBlocked(ctx context.Context, now time.Time) ([]string, error)
	List(ctx context.Context, f ListFilter) ([]BlacklistEntry, int64, error)
}
