package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oddsmith/market-engine/internal/api"
	"github.com/oddsmith/market-engine/internal/catalog"
	"github.com/oddsmith/market-engine/internal/config"
	"github.com/oddsmith/market-engine/internal/ledger"
	"github.com/oddsmith/market-engine/internal/metrics"
	"github.com/oddsmith/market-engine/internal/position"
	"github.com/oddsmith/market-engine/internal/pricing"
	"github.com/oddsmith/market-engine/internal/risk"
	"github.com/oddsmith/market-engine/internal/scoring"
	"github.com/oddsmith/market-engine/internal/settle"
	"github.com/oddsmith/market-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing oracle ---
	oracle, err := pricing.NewLMSR(cfg.Liquidity)
	if err != nil {
		slog.Error("invalid liquidity parameter", "err", err)
		os.Exit(1)
	}

	// --- Core services ---
	limiter := risk.NewLimiter(cfg.MaxSharesPerOutcome, cfg.MaxSharesPerMarket)
	led := ledger.New(st, oracle, limiter, ledger.Config{FeeRate: cfg.FeeRate})
	cat := catalog.NewService(st)
	pos := position.NewService(st)
	eng := settle.NewEngine(st, led, settle.Config{PayoutUnit: cfg.PayoutUnit})
	sc := scoring.NewService(st)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	svc := api.NewService(cat, led, pos, eng, sc, hub, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}
