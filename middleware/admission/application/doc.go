// Package application contém os casos de uso do pipeline de admissão:
// RateLimiter, IntervalGuard, ViolationTracker, Escalator, BlacklistService,
// Reconciler e o Pipeline que os encadeia.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Pipeline.Evaluate(ctx, req) retorna um domain.Verdict (estágio + detalhes).
//
// Os serviços do caminho quente nunca retornam erro: falha do store vira
// decisão "allowed" marcada como Degraded (fail-open).
package application
