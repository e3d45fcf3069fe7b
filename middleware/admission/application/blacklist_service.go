package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
)

// BlacklistService é a única porta de escrita da blacklist em dois níveis.
//
// Escritas vão primeiro para o banco (fonte da verdade) e depois para o Set
// espelho no cache. Se o processo cair no meio, o lado inconsistente é o
// cache, que a reconciliação corrige.
type BlacklistService struct {
	Repo  domain.BlacklistRepository
	Store domain.CounterStore
	Keys  domain.Keyspace
	// V6Prefix reduz IPv6 ao mesmo prefixo usado pelo middleware.
	V6Prefix int
	Log      *log.Logger
	Throttle Throttle
	Now      func() time.Time
}

type BlockRequest struct {
	IP     string
	Reason string
	// Type vazio = manual.
	Type domain.BlockType
	// Duration 0 = permanente.
	Duration       time.Duration
	RelatedUserIDs []int64
	RequestCount   int64
}

func (s BlacklistService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Key normaliza um IP de entrada administrativa para a chave usada pelo
// pipeline. UnknownIP passa direto: o pipeline pode auto-banir esse bucket.
func (s BlacklistService) Key(ip string) (string, error) {
	if strings.TrimSpace(ip) == domain.UnknownIP {
		return domain.UnknownIP, nil
	}
	return domain.CanonicalIP(ip, s.V6Prefix)
}

// IsBlocked consulta só o espelho. Falha do cache = não bloqueado (degraded).
func (s BlacklistService) IsBlocked(ctx context.Context, ip string) (blocked, degraded bool) {
	if s.Store == nil {
		return false, false
	}
	ok, err := s.Store.SetContains(ctx, s.Keys.BlockedSet(), ip)
	if err != nil {
		logStoreError(s.Log, s.Throttle, "blacklist", err)
		return false, true
	}
	return ok, false
}

// Block grava (ou atualiza) um bloqueio e o espelha se estiver vigente.
func (s BlacklistService) Block(ctx context.Context, req BlockRequest) (domain.BlacklistEntry, error) {
	if s.Repo == nil {
		return domain.BlacklistEntry{}, errors.New("blacklist repository not configured")
	}
	ip, err := s.Key(req.IP)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	if req.Duration < 0 {
		return domain.BlacklistEntry{}, fmt.Errorf("block %s: negative duration %s", ip, req.Duration)
	}
	typ := req.Type
	if typ == "" {
		typ = domain.BlockManual
	}

	now := s.now()
	entry := domain.BlacklistEntry{
		IP:             ip,
		Reason:         req.Reason,
		Type:           typ,
		RelatedUserIDs: req.RelatedUserIDs,
		RequestCount:   req.RequestCount,
		Active:         true,
		BlockedAt:      now,
	}
	if req.Duration > 0 {
		exp := now.Add(req.Duration)
		entry.ExpiresAt = &exp
	}

	// usuários relacionados já registrados são mantidos se a requisição não trouxer nenhum
	if len(entry.RelatedUserIDs) == 0 {
		if prev, err := s.Repo.Get(ctx, ip); err == nil {
			entry.RelatedUserIDs = prev.RelatedUserIDs
		}
	}

	if err := s.Repo.Save(ctx, entry); err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("block %s: %w", ip, err)
	}
	s.mirror(ctx, entry, now)

	loggerOr(s.Log).Info("ip blocked", "ip", ip, "type", string(typ), "reason", req.Reason, "duration", req.Duration)
	return entry, nil
}

// Escalate grava um auto-ban. Se o IP já está bloqueado a expiração é
// estendida para max(atual, now+d); um ban permanente continua permanente.
func (s BlacklistService) Escalate(ctx context.Context, ip, reason string, d time.Duration, requestCount int64) error {
	if s.Repo == nil {
		return errors.New("blacklist repository not configured")
	}
	now := s.now()
	until := now.Add(d)

	prev, err := s.Repo.Get(ctx, ip)
	switch {
	case err == nil && prev.Blocks(now):
		if !prev.Permanent() && prev.ExpiresAt.Before(until) {
			prev.ExpiresAt = &until
		}
		if requestCount > prev.RequestCount {
			prev.RequestCount = requestCount
		}
		if err := s.Repo.Save(ctx, prev); err != nil {
			return fmt.Errorf("escalate %s: %w", ip, err)
		}
	case err == nil || errors.Is(err, domain.ErrNotFound):
		entry := domain.BlacklistEntry{
			IP:             ip,
			Reason:         reason,
			Type:           domain.BlockAuto,
			RelatedUserIDs: prev.RelatedUserIDs,
			RequestCount:   requestCount,
			Active:         true,
			BlockedAt:      now,
			ExpiresAt:      &until,
		}
		if err := s.Repo.Save(ctx, entry); err != nil {
			return fmt.Errorf("escalate %s: %w", ip, err)
		}
	default:
		return fmt.Errorf("escalate %s: %w", ip, err)
	}

	if s.Store != nil {
		if err := s.Store.SetAdd(ctx, s.Keys.BlockedSet(), ip); err != nil {
			loggerOr(s.Log).Error("blacklist mirror add failed, reconcile will heal", "ip", ip, "error", err)
		}
	}
	return nil
}

// Unblock desativa o bloqueio. ErrNotFound se o IP nunca foi bloqueado.
func (s BlacklistService) Unblock(ctx context.Context, ip string) error {
	if s.Repo == nil {
		return errors.New("blacklist repository not configured")
	}
	ip, err := s.Key(ip)
	if err != nil {
		return err
	}
	if err := s.Repo.Deactivate(ctx, ip, s.now()); err != nil {
		return fmt.Errorf("unblock %s: %w", ip, err)
	}
	if s.Store != nil {
		if err := s.Store.SetRemove(ctx, s.Keys.BlockedSet(), ip); err != nil {
			loggerOr(s.Log).Error("blacklist mirror remove failed, reconcile will heal", "ip", ip, "error", err)
		}
	}
	loggerOr(s.Log).Info("ip unblocked", "ip", ip)
	return nil
}

func (s BlacklistService) mirror(ctx context.Context, e domain.BlacklistEntry, now time.Time) {
	if s.Store == nil {
		return
	}
	var err error
	if e.Blocks(now) {
		err = s.Store.SetAdd(ctx, s.Keys.BlockedSet(), e.IP)
	} else {
		err = s.Store.SetRemove(ctx, s.Keys.BlockedSet(), e.IP)
	}
	if err != nil {
		loggerOr(s.Log).Error("blacklist mirror update failed, reconcile will heal", "ip", e.IP, "error", err)
	}
}

// Info devolve a linha do banco para o IP.
func (s BlacklistService) Info(ctx context.Context, ip string) (domain.BlacklistEntry, error) {
	if s.Repo == nil {
		return domain.BlacklistEntry{}, errors.New("blacklist repository not configured")
	}
	ip, err := s.Key(ip)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	return s.Repo.Get(ctx, ip)
}

func (s BlacklistService) List(ctx context.Context, f domain.ListFilter) ([]domain.BlacklistEntry, int64, error) {
	if s.Repo == nil {
		return nil, 0, errors.New("blacklist repository not configured")
	}
	return s.Repo.List(ctx, f)
}

// MirrorSize é o SCARD do espelho.
func (s BlacklistService) MirrorSize(ctx context.Context) (int64, error) {
	if s.Store == nil {
		return 0, errors.New("counter store not configured")
	}
	return s.Store.SetCard(ctx, s.Keys.BlockedSet())
}

// LastSync devolve o instante da última reconciliação (ok=false se nunca rodou).
func (s BlacklistService) LastSync(ctx context.Context) (time.Time, bool, error) {
	if s.Store == nil {
		return time.Time{}, false, errors.New("counter store not configured")
	}
	raw, ok, err := s.Store.Get(ctx, s.Keys.LastSync())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sync %q: %w", raw, err)
	}
	return t, true, nil
}
