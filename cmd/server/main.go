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

	"github.com/cubeplus/trading-engine/internal/auth"
	"github.com/cubeplus/trading-engine/internal/config"
	"github.com/cubeplus/trading-engine/internal/engine"
	"github.com/cubeplus/trading-engine/internal/metrics"
	"github.com/cubeplus/trading-engine/internal/portfolio"
	"github.com/cubeplus/trading-engine/internal/pricefeed"
	"github.com/cubeplus/trading-engine/internal/store"
	"github.com/cubeplus/trading-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
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
			st = store.NewCachedStore(st, rdb, 30*time.Second)
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

	// --- Price feed ---
	prices := pricefeed.NewCache()

	var feed pricefeed.Source
	if cfg.FeedMode == config.FeedLive {
		tokens := pricefeed.NewTokenManager(pricefeed.BrokerAuth{
			AuthURL:   cfg.BrokerAuthURL,
			APIKey:    cfg.BrokerAPIKey,
			Password:  cfg.BrokerPassword,
			TwoFA:     cfg.BrokerTwoFA,
			TwoFAType: cfg.BrokerTwoFAType,
		}, st)
		feed = pricefeed.NewLiveSource(prices, tokens, cfg.FeedURL, cfg.BrokerAPIKey)
		slog.Info("live price feed configured", "url", cfg.FeedURL)
	} else {
		feed = pricefeed.NewSyntheticSource(prices, cfg.FeedInterval, 0)
		slog.Info("synthetic price feed configured", "interval", cfg.FeedInterval.String())
	}

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("price feed stopped", "err", err)
		}
	}()

	// Mirror feed state into metrics.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := feed.Status()
				if status.Connected {
					metrics.FeedConnected.Set(1)
				} else {
					metrics.FeedConnected.Set(0)
				}
				metrics.FeedSymbols.Set(float64(status.SymbolsWithPrices))
			}
		}
	}()

	// --- Services ---
	eng := engine.New(st)
	valuator := portfolio.NewValuator(st, prices)
	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTL)
	tradeSvc := trade.NewService(eng, valuator, prices, feed)

	wsHub := trade.NewWSHub(prices)
	go wsHub.Run(ctx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Public market data.
		r.Get("/quotes", tradeSvc.ListQuotes)
		r.Get("/feed/status", tradeSvc.FeedStatus)

		// Sessions.
		r.Post("/auth/register", authSvc.Register)
		r.Post("/auth/login", authSvc.Login)

		// Authenticated trading.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.JWTSecret))
			r.Post("/orders/buy", tradeSvc.Buy)
			r.Post("/orders/sell", tradeSvc.Sell)
			r.Get("/portfolio", tradeSvc.GetPortfolio)
		})

		// Admin console.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.JWTSecret))
			r.Use(auth.RequireAdmin)
			r.Get("/admin/users", authSvc.ListUsers)
			r.Post("/admin/users", authSvc.CreateUser)
			r.Patch("/admin/users/{accountID}", authSvc.UpdateUser)
			r.Post("/admin/credentials", authSvc.SaveCredential)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel() // stop the feed and hub

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
