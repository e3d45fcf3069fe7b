// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore: CounterStore sobre go-redis (Lua para checar+incrementar atomicamente)
//   - MemoryStore: CounterStore em memória com relógio injetável
//   - BreakerStore: circuit breaker (sony/gobreaker) em volta de qualquer CounterStore
//   - GormBlacklistRepository: tabela ip_blacklist via gorm
//   - Leader: lease no Redis para rodar a reconciliação em um único processo
//   - PolicyFile: política em YAML recarregada via fsnotify
//   - LogThrottle: token-bucket por IP (x/time/rate) para limitar logs
//   - SemaphorePool: semáforo (x/sync/semaphore) para limitar escritas concorrentes
package infra
