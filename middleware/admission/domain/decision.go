package domain

import "time"

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Degraded indica que o store falhou e a decisão foi fail-open.
	Degraded bool
}

type RateDecision struct {
	Decision
	Count  int64
	Max    int64
	Window time.Duration
}

type IntervalDecision struct {
	Decision
	MinInterval time.Duration
	Elapsed     time.Duration
}

// Stage identifica o estágio do pipeline que decidiu a requisição.
type Stage string

const (
	StageWhitelist Stage = "whitelist"
	StageBlacklist Stage = "blacklist"
	StageInterval  Stage = "interval"
	StageRateLimit Stage = "rate_limit"
	StageAutoBan   Stage = "auto_ban"
	StagePass      Stage = "pass"
)

// Verdict é o resultado do pipeline para uma requisição.
type Verdict struct {
	Allowed  bool
	Stage    Stage
	IP       string
	Category Category

	Interval IntervalDecision
	Rate     RateDecision
	// BanDuration é preenchido quando Stage == StageAutoBan.
	BanDuration time.Duration

	// Degraded indica que pelo menos uma checagem falhou e foi ignorada.
	Degraded bool
}
