// Package admission fornece o middleware HTTP (net/http) do controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (blacklist, intervalo, rate limit, auto-ban) sem net/http
//   - infra: implementações concretas (Redis, gorm, circuit breaker, métricas)
//   - admission (este pacote): middleware HTTP + extração do IP + tradução para status/corpo JSON
//
// Fluxo por requisição:
//
//  1. Resolve o IP do cliente (X-Forwarded-For, X-Real-IP, RemoteAddr)
//  2. Chama application.Pipeline.Evaluate para obter o veredito
//  3. Se bloqueado, responde 403 (blacklist/auto-ban) ou 429 (intervalo/rate limit)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Falhas internas nunca viram 5xx: o pipeline libera a requisição (fail-open).
package admission
