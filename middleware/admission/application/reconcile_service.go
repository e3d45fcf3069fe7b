package application

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const defaultReconcileInterval = 60 * time.Second

type ReconcileResult struct {
	Size     int
	At       time.Time
	Duration time.Duration
}

// Reconciler reconstrói o espelho da blacklist a partir do banco.
//
// É idempotente: rodar duas vezes sem mudanças no banco produz o mesmo Set.
// É o único escritor que remove entradas do espelho em massa. Disparos
// concorrentes no mesmo processo colapsam em uma execução (singleflight).
type Reconciler struct {
	Repo     domain.BlacklistRepository
	Store    domain.CounterStore
	Keys     domain.Keyspace
	Interval time.Duration
	Log      *log.Logger
	Now      func() time.Time
	// OnReconcile é chamado ao fim de cada ciclo (ex: métricas).
	OnReconcile func(res ReconcileResult, err error)

	group singleflight.Group
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Reconcile roda um ciclo. Com o banco fora do ar o ciclo é pulado e o
// espelho fica no último estado bom.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	v, err, _ := r.group.Do("reconcile", func() (interface{}, error) {
		return r.reconcile(ctx)
	})
	res, _ := v.(ReconcileResult)
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context) (res ReconcileResult, err error) {
	start := r.now()
	res.At = start
	defer func() {
		res.Duration = r.now().Sub(start)
		if r.OnReconcile != nil {
			r.OnReconcile(res, err)
		}
	}()

	if r.Repo == nil || r.Store == nil {
		return res, fmt.Errorf("reconcile: repository and store are required")
	}

	ips, err := r.Repo.ListBlocked(ctx, start)
	if err != nil {
		return res, fmt.Errorf("reconcile: list blocked: %w", err)
	}
	if err := r.Store.SetReplace(ctx, r.Keys.BlockedSet(), ips); err != nil {
		return res, fmt.Errorf("reconcile: replace mirror: %w", err)
	}
	res.Size = len(ips)

	if err := r.Store.SetTTL(ctx, r.Keys.LastSync(), start.UTC().Format(time.RFC3339), 0); err != nil {
		loggerOr(r.Log).Warn("reconcile: failed to write last sync", "error", err)
	}
	return res, nil
}

// Run reconcilia imediatamente e depois a cada Interval até ctx encerrar.
// Erros de ciclo são logados; o próximo ciclo tenta de novo.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	l := loggerOr(r.Log)

	cycle := func() {
		res, err := r.Reconcile(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.Error("blacklist reconcile failed, keeping current mirror", "error", err)
			}
			return
		}
		l.Debug("blacklist reconciled", "size", res.Size, "took", res.Duration)
	}

	cycle()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			cycle()
		}
	}
}
