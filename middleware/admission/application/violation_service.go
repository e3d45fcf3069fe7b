package application

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
)

const defaultMaxViolationRecords = 100

// ViolationTracker mantém a lista de violações por IP.
type ViolationTracker struct {
	Store    domain.CounterStore
	Policies domain.PolicySource
	Keys     domain.Keyspace
	Log      *log.Logger
	Throttle Throttle
	Now      func() time.Time
}

func (t ViolationTracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Record anexa a violação, corta a lista, renova o TTL para a janela e
// devolve quantas violações caem na janela. ok=false se o store falhou.
func (t ViolationTracker) Record(ctx context.Context, ip string, typ domain.ViolationType) (count int, ok bool) {
	if t.Store == nil || t.Policies == nil {
		return 0, false
	}

	ab := t.Policies.Policy().AutoBan
	window := ab.Window
	if window <= 0 {
		window = 600 * time.Second
	}
	maxRecords := int64(ab.MaxRecords)
	if maxRecords <= 0 {
		maxRecords = defaultMaxViolationRecords
	}

	now := t.now()
	key := t.Keys.Violations(ip)
	v := domain.Violation{Type: typ, At: now}
	if err := t.Store.PushCapped(ctx, key, v.Encode(), maxRecords, window); err != nil {
		logStoreError(t.Log, t.Throttle, "violation", err)
		return 0, false
	}

	records, err := t.Store.Range(ctx, key)
	if err != nil {
		logStoreError(t.Log, t.Throttle, "violation", err)
		return 0, false
	}
	return domain.CountRecent(records, now, window), true
}

// Count devolve as violações do IP dentro da janela.
func (t ViolationTracker) Count(ctx context.Context, ip string) (int, error) {
	if t.Store == nil || t.Policies == nil {
		return 0, nil
	}
	records, err := t.Store.Range(ctx, t.Keys.Violations(ip))
	if err != nil {
		return 0, err
	}
	return domain.CountRecent(records, t.now(), t.Policies.Policy().AutoBan.Window), nil
}

// ShouldEscalate diz se count atingiu o threshold. Threshold <= 0 desliga.
func (t ViolationTracker) ShouldEscalate(count int) bool {
	if t.Policies == nil {
		return false
	}
	th := t.Policies.Policy().AutoBan.Threshold
	return th > 0 && count >= th
}

// Banner é o lado da blacklist que o Escalator usa.
type Banner interface {
	Escalate(ctx context.Context, ip, reason string, d time.Duration, requestCount int64) error
}

const defaultAutoBanLockTTL = 5 * time.Second

// Escalator promove um IP para a blacklist quando as violações passam do threshold.
//
// Um lock curto no cache (autoban_lock:{ip}) garante uma única escrita no
// banco quando vários processos veem a mesma rajada; as escritas concorrentes
// são limitadas por Slots.
type Escalator struct {
	Store     domain.CounterStore
	Keys      domain.Keyspace
	Blacklist Banner
	// Slots nil = sem limite de escritas concorrentes.
	Slots domain.SlotPool
	// SlotTimeout é quanto esperar por uma vaga; <= 0 espera até o ctx encerrar.
	SlotTimeout time.Duration
	LockTTL     time.Duration
	Log         *log.Logger
	// OnBan é chamado após cada auto-ban gravado (ex: métricas).
	OnBan func(ip string)
}

func (e Escalator) acquireSlot(ctx context.Context) (func(), bool) {
	if e.Slots == nil {
		return func() {}, true
	}
	if e.SlotTimeout <= 0 {
		return e.Slots.Acquire(ctx)
	}
	acqCtx, cancel := context.WithTimeout(ctx, e.SlotTimeout)
	defer cancel()
	return e.Slots.Acquire(acqCtx)
}

// Escalate retorna true se o IP deve ser tratado como banido a partir de agora.
// Falhas (cache, banco, sem vaga) retornam false: a requisição recebe o 429
// normal e a próxima violação tenta de novo.
func (e Escalator) Escalate(ctx context.Context, ip string, count int, p domain.AutoBanPolicy) bool {
	if e.Store == nil || e.Blacklist == nil {
		return false
	}
	l := loggerOr(e.Log)

	lockTTL := e.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultAutoBanLockTTL
	}
	lockKey := e.Keys.AutoBanLock(ip)
	acquired, err := e.Store.SetIfAbsent(ctx, lockKey, "1", lockTTL)
	if err != nil {
		l.Error("auto-ban lock failed", "ip", ip, "error", err)
		return false
	}
	if !acquired {
		// outro processo já está banindo este IP
		return true
	}

	release, ok := e.acquireSlot(ctx)
	if !ok {
		l.Warn("auto-ban skipped, no write slot available", "ip", ip)
		_ = e.Store.Delete(ctx, lockKey)
		return false
	}
	defer release()

	reason := fmt.Sprintf("auto-ban: %d violations within %s", count, p.Window)
	if err := e.Blacklist.Escalate(ctx, ip, reason, p.BanDuration, int64(count)); err != nil {
		l.Error("auto-ban write failed", "ip", ip, "error", err)
		_ = e.Store.Delete(ctx, lockKey)
		return false
	}

	// a máquina de estados volta a "clean" quando o ban expira
	if err := e.Store.Delete(ctx, e.Keys.Violations(ip)); err != nil {
		l.Warn("failed to clear violations after auto-ban", "ip", ip, "error", err)
	}

	l.Warn("ip auto-banned", "ip", ip, "violations", count, "duration", p.BanDuration)
	if e.OnBan != nil {
		e.OnBan(ip)
	}
	return true
}
