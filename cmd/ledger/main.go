package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger/internal/config"
	"ledger/internal/events"
	"ledger/internal/handler"
	"ledger/internal/metrics"
	"ledger/internal/middleware"
	"ledger/internal/repository"
	"ledger/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// storage
	var store repository.Store
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r, err := repository.NewRedisStore(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		store = r
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		store = repository.NewMemoryStore()
		log.Warn().Msg("REDIS_ADDR not set, balances are kept in memory and not shared")
	}
	breaker := service.NewCircuitBreaker(service.BreakerPolicy{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		MaxProbes:        1,
	})
	store = service.NewGuardedStore(store, breaker)

	// events
	var publisher events.Publisher = events.Nop{}
	if cfg.NatsURL != "" {
		nc, err := events.Connect(cfg.NatsURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NatsURL).Msg("failed to connect nats")
		}
		defer nc.Close()
		publisher = events.NewNATSPublisher(nc, cfg.NatsSubject)
		log.Info().Str("url", cfg.NatsURL).Msg("publishing charge events")
	}

	// metrics
	metricsRegistry := metrics.NewRegistry()

	// services
	policy := service.LockPolicy{
		TTL:         cfg.LockTTL,
		MaxAttempts: cfg.LockMaxAttempts,
		RetryDelay:  cfg.LockRetryDelay,
		Fencing:     cfg.LockFencing,
	}
	if !policy.Fencing {
		log.Warn().Msg("lock fencing disabled, a holder that outlives its TTL can release another holder's lock")
	}
	locks := service.NewLockManager(store, policy, metricsRegistry)
	ledger := service.NewLedger(store, locks, metricsRegistry,
		service.WithDefaultBalance(cfg.DefaultBalance),
		service.WithPublisher(publisher),
	)

	// handlers
	ledgerHandler := handler.NewLedgerHandler(ledger, policy.MaxWait())
	health := &handler.HealthHandler{Ledger: ledger, Breaker: breaker}
	admin := handler.NewAdminHandler(ledger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsRegistry.Handler())
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /ready", health.Readiness)
	mux.HandleFunc("GET /status", health.Status)

	// Reset and admin routes require an operator token when JWT_SECRET is set
	var operator func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		auth := middleware.NewJWTMiddleware([]byte(cfg.JWTSecret), cfg.JWTIssuer)
		rbac := middleware.NewRBACMiddleware(middleware.DefaultRolePermissions()).Handler()
		operator = func(next http.Handler) http.Handler { return auth(rbac(next)) }
		log.Info().Msg("JWT authentication enabled for operator routes")
	}
	ledgerHandler.Register(mux, operator)
	if operator != nil {
		mux.Handle("GET /admin/accounts", operator(admin))
	} else {
		mux.Handle("GET /admin/accounts", admin)
	}

	// middleware chain
	h := middleware.Logging(mux)
	h = middleware.RequestID(h)
	h = middleware.RequestSizeLimit(middleware.MaxRequestSize)(h)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Msgf("listening %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.GracefulShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("store close failed")
	}
	log.Info().Msg("server exited")
}
