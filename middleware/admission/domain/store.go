package domain

import (
	"context"
	"time"
)

// CounterResult é o resultado de CounterStore.IncrBelow.
type CounterResult struct {
	// Count é o valor do contador após a operação (ou o valor atual, se rejeitado).
	Count   int64
	Allowed bool
	// TTL restante do contador (janela corrente).
	TTL time.Duration
}

// CounterStore é o cache chave/valor compartilhado entre todos os processos
// (semântica Redis). Toda mutação é uma única operação atômica no servidor:
// nada de ler-modificar-escrever no cliente.
//
// Implementações devem aplicar timeout agressivo: o pipeline de admissão
// roda no caminho quente de toda requisição e trata qualquer erro como fail-open.
type CounterStore interface {
	// IncrBelow cria o contador com TTL na primeira chamada da janela,
	// incrementa enquanto Count < max e rejeita (sem incrementar) quando
	// Count >= max.
	IncrBelow(ctx context.Context, key string, max int64, ttl time.Duration) (CounterResult, error)

	// Get retorna (valor, true, nil) ou ("", false, nil) se a chave não existe.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetTTL grava o valor; ttl 0 = sem expiração.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent grava somente se a chave não existir (SET NX).
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	// PushCapped insere na cabeça da lista, corta em maxLen e renova o TTL.
	PushCapped(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	// Range retorna a lista inteira (mais recente primeiro).
	Range(ctx context.Context, key string) ([]string, error)

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetContains(ctx context.Context, key, member string) (bool, error)
	SetCard(ctx context.Context, key string) (int64, error)
	SetMembers(ctx context.Context, key string) ([]string, error)
	// SetReplace troca o conteúdo do conjunto atomicamente (DEL + SADD).
	SetReplace(ctx context.Context, key string, members []string) error
}

// SlotPool limita quantas operações caras rodam ao mesmo tempo (ex: escritas
// de auto-ban no banco durante um ataque).
//
// Acquire bloqueia até haver vaga ou o ctx encerrar. O release devolvido deve
// ser chamado uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
