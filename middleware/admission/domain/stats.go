package domain

import (
	"context"
	"time"
)

// StatsEvent representa um veredito do pipeline de admissão.
//
// Observação: cuidado com cardinalidade (ex.: salvar IP/Path sem controle pode
// explodir o número de chaves no Redis).
type StatsEvent struct {
	IP       string
	Stage    Stage
	Category Category
	Allowed  bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// O middleware trata erro como best-effort (não derruba a request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
