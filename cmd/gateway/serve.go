package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admission gateway in front of UPSTREAM_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	if err := cfg.validateServe(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infra.NewMetrics(reg)

	c, err := openComponents(ctx, cfg, a.log, metrics, a.dbOptions...)
	if err != nil {
		return err
	}
	defer c.Close()

	var stats domain.StatsStore
	if cfg.statsEnabled {
		stats = infra.NewRedisStatsStore(
			c.rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackIPs(cfg.statsTrackIPs),
		)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		a.log.Error("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h := admission.Middleware(admission.Options{
		Pipeline:            c.pipeline(),
		IgnoreProxyHeaders:  !cfg.trustProxy,
		V6Prefix:            cfg.v6Prefix,
		AddRateLimitHeaders: cfg.addHeaders,
		Stats:               stats,
		OnVerdict:           metrics.ObserveVerdict,
		Log:                 a.log,
	})(proxy)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.log.Info("metrics listening", "addr", cfg.metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error { return c.throttle.Run(gctx) })

	if c.policyFile != nil {
		g.Go(func() error { return c.policyFile.Watch(gctx) })
	}

	g.Go(func() error {
		if !cfg.leaderElection {
			return c.reconciler.Run(gctx)
		}
		leader := infra.NewLeader(c.rdb, c.keys.ReconcileLease(), infra.WithLeaderLogger(a.log))
		err := leader.Run(gctx, func(leaseCtx context.Context) {
			_ = c.reconciler.Run(leaseCtx)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	a.log.Info("admission policy",
		"trust_proxy", cfg.trustProxy,
		"ipv6_prefix", cfg.v6Prefix,
		"autoban_threshold", c.policies.Policy().AutoBan.Threshold,
		"reconcile_interval", cfg.reconcileInterval,
		"leader_election", cfg.leaderElection,
		"policy_file", cfg.policyFile,
	)

	return g.Wait()
}
