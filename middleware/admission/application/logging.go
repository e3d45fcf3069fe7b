package application

import (
	"github.com/charmbracelet/log"
)

// Throttle decide se uma linha de log pode ser emitida para a chave.
// infra.LogThrottle implementa.
type Throttle interface {
	Allow(key string) bool
}

func loggerOr(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}

func allowLog(t Throttle, key string) bool {
	if t == nil {
		return true
	}
	return t.Allow(key)
}

// logStoreError registra falha do cache em nível error, no máximo uma vez por
// período por operação.
func logStoreError(l *log.Logger, t Throttle, op string, err error, kv ...any) {
	if !allowLog(t, "store:"+op) {
		return
	}
	args := append([]any{"op", op, "error", err}, kv...)
	loggerOr(l).Error("counter store unavailable, failing open", args...)
}
