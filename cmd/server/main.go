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

	"github.com/stockarena/contest-engine/internal/auth"
	"github.com/stockarena/contest-engine/internal/contest"
	"github.com/stockarena/contest-engine/internal/leaderboard"
	"github.com/stockarena/contest-engine/internal/metrics"
	"github.com/stockarena/contest-engine/internal/pricefeed"
	"github.com/stockarena/contest-engine/internal/store"
	"github.com/stockarena/contest-engine/internal/trade"
	"github.com/stockarena/contest-engine/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
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
	var source pricefeed.Source
	if cfg := pricefeed.ConfigFromEnv(); cfg.BaseURL != "" {
		source = pricefeed.NewHTTPSource(cfg, nil)
		slog.Info("price feed upstream configured", "base_url", cfg.BaseURL)
	} else {
		slog.Warn("QUOTE_API_URL not set, using simulated prices")
		source = pricefeed.NewSimSource(time.Now().UnixNano())
	}

	pollInterval := 15 * time.Second
	if v := os.Getenv("PRICE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid PRICE_POLL_INTERVAL", "err", err)
			os.Exit(1)
		}
		pollInterval = d
	}
	feed := pricefeed.NewFeed(source, pollInterval, st.ListHeldSymbols)
	go feed.Run(ctx)

	// --- WebSocket hub ---
	hub := ws.NewHub()
	go hub.Run()

	// --- Services ---
	board := leaderboard.NewAggregator(st, feed, hub)
	go board.Run(ctx)

	contestSvc := contest.NewService(st)
	go contestSvc.RunSweeper(ctx, 30*time.Second)

	tradeSvc := trade.NewService(st, feed, board)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"contest-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for leaderboard deltas and price ticks.
		r.Get("/ws", hub.HandleWS)

		r.Route("/contests", func(r chi.Router) {
			r.Use(auth.Middleware([]byte(jwtSecret)))

			// Discovery.
			r.Get("/my-contests", contestSvc.HandleMyContests)
			r.Get("/open-public-contests", contestSvc.HandleOpenPublic)
			r.Get("/details/{id}", contestSvc.HandleDetails)

			// Lifecycle.
			r.Post("/create", contestSvc.HandleCreate)
			r.Post("/join", contestSvc.HandleJoin)
			r.Post("/join-by-code", contestSvc.HandleJoinByCode)
			r.Post("/{id}/cancel", contestSvc.HandleCancel)

			// Trading.
			r.Post("/{id}/transactions", tradeSvc.HandleExecute)
			r.Get("/{id}/transactions", tradeSvc.HandleTransactions)
			r.Get("/{id}/portfolio", tradeSvc.HandlePortfolio)
			r.Get("/{id}/leaderboard", board.HandleLeaderboard)

			// Market data.
			r.Get("/quote/{symbol}", tradeSvc.HandleQuote)
			r.Get("/search", tradeSvc.HandleSearch)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("contest-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down contest-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("contest-engine stopped")
}
