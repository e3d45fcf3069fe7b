package main

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// components são as dependências compartilhadas por todos os subcomandos.
type components struct {
	cfg     config
	log     *log.Logger
	metrics *infra.Metrics

	rdb      *redis.Client
	db       *gorm.DB
	store    *infra.BreakerStore
	repo     domain.BlacklistRepository
	keys     domain.Keyspace
	throttle *infra.LogThrottle

	policies   domain.PolicySource
	policyFile *infra.PolicyFile

	blacklist  application.BlacklistService
	reconciler *application.Reconciler
}

// openComponents conecta Redis e banco. metrics pode ser nil (comandos administrativos).
func openComponents(ctx context.Context, cfg config, logger *log.Logger, metrics *infra.Metrics, dbOpts ...infra.DatabaseOption) (*components, error) {
	if err := cfg.validateBackends(); err != nil {
		return nil, err
	}
	c := &components{
		cfg:      cfg,
		log:      logger,
		metrics:  metrics,
		keys:     domain.Keyspace{Prefix: cfg.keyPrefix},
		throttle: infra.NewLogThrottle(cfg.logThrottle),
	}

	opt, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opt.DialTimeout = 2 * time.Second
	opt.ReadTimeout = cfg.redisTimeout
	opt.WriteTimeout = cfg.redisTimeout
	// um retry estoura o orçamento de latência do caminho quente
	opt.MaxRetries = -1
	c.rdb = redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = c.rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		// o pipeline funciona em fail-open sem o cache; só avisa
		logger.Warn("redis ping failed, starting degraded", "error", err)
	}

	c.store = infra.NewBreakerStore(
		infra.NewRedisStore(c.rdb, infra.WithOpTimeout(cfg.redisTimeout)),
		infra.WithBreakerFailures(uint32(cfg.breakerFailures)),
		infra.WithBreakerCooldown(cfg.breakerCooldown),
		infra.WithBreakerLogger(logger),
		infra.WithBreakerStateHook(metrics.BreakerTransition),
		infra.WithStoreErrorHook(metrics.StoreError),
	)

	c.db, err = infra.OpenDatabase(cfg.databaseDSN, dbOpts...)
	if err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	c.repo = infra.NewGormBlacklistRepository(c.db)

	c.policies = domain.StaticPolicy(cfg.policy)
	if cfg.policyFile != "" {
		c.policyFile, err = infra.NewPolicyFile(cfg.policyFile, cfg.policy,
			infra.WithPolicyLogger(logger),
			infra.WithPolicyReloadHook(metrics.PolicyReload),
		)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.policies = c.policyFile
	}

	c.blacklist = application.BlacklistService{
		Repo:     c.repo,
		Store:    c.store,
		Keys:     c.keys,
		V6Prefix: cfg.v6Prefix,
		Log:      logger,
		Throttle: c.throttle,
	}
	c.reconciler = &application.Reconciler{
		Repo:     c.repo,
		Store:    c.store,
		Keys:     c.keys,
		Interval: cfg.reconcileInterval,
		Log:      logger,
		OnReconcile: func(res application.ReconcileResult, err error) {
			metrics.ObserveReconcile(res.Size, res.Duration, err)
		},
	}
	return c, nil
}

func (c *components) pipeline() application.Pipeline {
	whitelist := application.Whitelist{Prefixes: append([]string(nil), c.cfg.whitelistPaths...)}
	if c.cfg.adminPrefix != "" {
		whitelist.Prefixes = append(whitelist.Prefixes, c.cfg.adminPrefix)
	}

	return application.Pipeline{
		Whitelist: whitelist,
		Blacklist: c.blacklist,
		Interval: application.IntervalGuard{
			Store: c.store, Policies: c.policies, Keys: c.keys, Log: c.log, Throttle: c.throttle,
		},
		RateLimit: application.RateLimiter{
			Store: c.store, Policies: c.policies, Keys: c.keys, Log: c.log, Throttle: c.throttle,
		},
		Violations: application.ViolationTracker{
			Store: c.store, Policies: c.policies, Keys: c.keys, Log: c.log, Throttle: c.throttle,
		},
		Escalator: application.Escalator{
			Store:       c.store,
			Keys:        c.keys,
			Blacklist:   c.blacklist,
			Slots:       infra.NewSemaphorePool(c.cfg.escalationSlots),
			SlotTimeout: c.cfg.escalationTimeout,
			Log:         c.log,
			OnBan:       c.metrics.AutoBan,
		},
		Log:      c.log,
		Throttle: c.throttle,
	}
}

func (c *components) Close() {
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
}
