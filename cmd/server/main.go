package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/papertrade/market-sim/internal/auth"
	"github.com/papertrade/market-sim/internal/config"
	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/market"
	"github.com/papertrade/market-sim/internal/metrics"
	"github.com/papertrade/market-sim/internal/order"
	"github.com/papertrade/market-sim/internal/portfolio"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/scheduler"
	"github.com/papertrade/market-sim/internal/store"
	"github.com/papertrade/market-sim/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("configuration failed")
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	backend, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	defer backend.Close()
	if backend.Dialect == store.DialectMemory {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
	} else {
		logger.WithField("dialect", backend.Dialect).Info("database connected")
	}
	if cfg.Database.AutoMigrate {
		if err := backend.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("migration failed")
		}
	}

	st := backend.Store
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Fatal("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
		logger.Info("Redis cache enabled")
	}

	// --- Quote provider ---
	if err := cfg.ResolveQuoteKey(nil); err != nil {
		logger.WithError(err).Fatal("quote api key lookup failed")
	}
	var provider quote.Quoter
	if cfg.Quote.APIKey != "" {
		provider = quote.NewAlphaVantage(cfg.Quote.APIKey,
			quote.WithBaseURL(cfg.Quote.BaseURL),
			quote.WithTimeout(cfg.Quote.Timeout),
		)
	} else {
		logger.Warn("QUOTE_API_KEY not set, serving static prices")
		provider = quote.NewStatic(market.FallbackPrices())
	}
	quoter := quote.NewCachedQuoter(provider, rdb, cfg.Quote.CacheTTL)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub(logger)
	go wsHub.Run(ctx)

	// --- Domain services ---
	orders := order.NewEngine(st, quoter,
		order.WithCostBasis(cfg.CostBasis()),
		order.WithPublisher(wsHub),
	)
	marketSvc := market.NewService(st, quoter, wsHub)
	authSvc := auth.NewService(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.StartingCash())
	tradeSvc := trade.NewService(st, authSvc, orders, portfolio.NewService(st, quoter), marketSvc, wsHub)

	refresh, err := scheduler.NewScheduledTask(cfg.Trading.SnapshotSchedule, logger, func() {
		marketSvc.Refresh(logging.WithLogger(ctx, logger.WithField("task", "snapshot")))
	})
	if err != nil {
		logger.WithError(err).Fatal("invalid SNAPSHOT_SCHEDULE")
	}
	defer refresh.Cancel()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-sim"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	tradeSvc.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("market-sim listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Warm the snapshot cache so the first request does not wait on the provider.
	go marketSvc.Refresh(logging.WithLogger(ctx, logger.WithField("task", "snapshot")))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down market-sim...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	logger.Info("market-sim stopped")
}
