package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-bargain/internal/config"
	"marketplace-bargain/internal/domain/ports/adapter"
	"marketplace-bargain/internal/infra/broadcast"
	pg "marketplace-bargain/internal/infra/db/postgres"
	"marketplace-bargain/internal/infra/logging"
	"marketplace-bargain/internal/infra/marketplace"
	"marketplace-bargain/internal/infra/metrics"
	red "marketplace-bargain/internal/infra/redis"
	"marketplace-bargain/internal/infra/sched"
	"marketplace-bargain/internal/infra/web"
	"marketplace-bargain/internal/infra/worker"
	"marketplace-bargain/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (header auth, in-memory marketplace)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	go func() {
		tick := time.NewTicker(15 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				st := pool.Stat()
				metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
			}
		}
	}()

	sessionRepo := pg.NewNegotiationRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Redis (lock, rate limit, cross-instance fanout) ----
	var (
		locker  usecase.Locker
		limiter usecase.RateLimiter
	)
	hub := broadcast.NewHub()
	var rooms adapter.Broadcaster = hub
	if cfg.Redis.URL != "" {
		redisClient, rerr := red.NewClient(ctx, &cfg.Redis)
		if rerr != nil {
			log.Fatalf("redis: %v", rerr)
		}
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)

		bridge := broadcast.NewRedisBridge(hub, redisClient.Raw(), logger)
		rooms = bridge
		go func() {
			if berr := bridge.Run(ctx); berr != nil && !errors.Is(berr, context.Canceled) {
				logger.Error().Err(berr).Msg("redis bridge stopped")
			}
		}()
	} else {
		if !cfg.Runtime.Dev {
			log.Fatalf("redis.url is required outside dev mode")
		}
		logger.Warn().Msg("no redis configured; single-instance fanout only")
	}

	// ---- Marketplace (catalog + cart) ----
	var (
		catalog adapter.Catalog
		cart    adapter.CartSink
	)
	if cfg.Marketplace.BaseURL != "" {
		catalog = marketplace.NewCatalogClient(cfg.Marketplace.BaseURL, cfg.Marketplace.Timeout, logger)
		cart = marketplace.NewCartClient(cfg.Marketplace.BaseURL, cfg.Marketplace.Timeout, logger)
	} else {
		catalog = marketplace.NewStaticCatalog()
		cart = marketplace.NewLogCartSink(logger)
		logger.Warn().Msg("no marketplace configured; using dev catalog and cart sink")
	}

	// ---- Cart retry workers ----
	retryPool := worker.NewPool(cfg.Negotiation.CartRetryWorkers, logger)
	retryPool.Start(ctx)
	defer retryPool.Stop()

	// ---- Coordinator ----
	uc := usecase.NewNegotiationUseCase(sessionRepo, txManager, catalog, cart, rooms, locker, limiter, retryPool,
		usecase.Options{
			OpenLockTTL:       cfg.Negotiation.OpenLockTTL,
			MessageRateLimit:  cfg.Negotiation.MessageRateLimit,
			MessageRateWindow: cfg.Negotiation.MessageRateWindow,
		}, logger)

	// ---- Idle sweeper ----
	closer := sched.NewIdleCloser(cfg.Negotiation.IdleSweepInterval, cfg.Negotiation.IdleTTL, uc, logger)
	go func() { _ = closer.Run(ctx) }()

	// ---- HTTP ----
	verifier := web.NewVerifier(cfg.Auth.JWTSecret, cfg.Runtime.Dev)
	router := web.NewServer(uc, hub, verifier, cfg.Server.RequestTimeout, logger).Router()
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("listening")
		if serr := server.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
			logger.Error().Err(serr).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
