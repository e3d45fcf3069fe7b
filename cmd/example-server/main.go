package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/charmbracelet/log"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy),
	// com backends em memória. Para produção use cmd/gateway (Redis + banco).
	store := infra.NewMemoryStore()
	repo := infra.NewMemoryBlacklistRepository()
	policies := domain.StaticPolicy(domain.DefaultPolicy())
	keys := domain.Keyspace{Prefix: "example:"}
	throttle := infra.NewLogThrottle(time.Minute)
	logger := log.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	blacklist := application.BlacklistService{Repo: repo, Store: store, Keys: keys, Log: logger}
	reconciler := &application.Reconciler{Repo: repo, Store: store, Keys: keys, Interval: time.Minute, Log: logger}
	go func() { _ = reconciler.Run(ctx) }()
	go func() { _ = throttle.Run(ctx) }()

	// um IP bloqueado para testar: curl -H 'X-Forwarded-For: 203.0.113.7' localhost:8081/
	if _, err := blacklist.Block(ctx, application.BlockRequest{IP: "203.0.113.7", Reason: "example"}); err != nil {
		logger.Fatal("seed blacklist", "error", err)
	}

	pipeline := application.Pipeline{
		Whitelist:  application.DefaultWhitelist("/admin"),
		Blacklist:  blacklist,
		Interval:   application.IntervalGuard{Store: store, Policies: policies, Keys: keys, Log: logger, Throttle: throttle},
		RateLimit:  application.RateLimiter{Store: store, Policies: policies, Keys: keys, Log: logger, Throttle: throttle},
		Violations: application.ViolationTracker{Store: store, Policies: policies, Keys: keys, Log: logger, Throttle: throttle},
		Escalator: application.Escalator{
			Store: store, Keys: keys, Blacklist: blacklist, Log: logger,
			Slots: infra.NewSemaphorePool(4), SlotTimeout: 100 * time.Millisecond,
		},
		Log:      logger,
		Throttle: throttle,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := admission.Middleware(admission.Options{
		Pipeline:            pipeline,
		V6Prefix:            64,
		AddRateLimitHeaders: true,
		Log:                 logger,
	})(mux)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", "error", err)
	}
}
