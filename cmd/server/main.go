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
	"github.com/robfig/cron/v3"

	"github.com/synthpool/margin-engine/internal/config"
	"github.com/synthpool/margin-engine/internal/custody"
	"github.com/synthpool/margin-engine/internal/ledger"
	"github.com/synthpool/margin-engine/internal/metrics"
	"github.com/synthpool/margin-engine/internal/oracle"
	"github.com/synthpool/margin-engine/internal/server"
	"github.com/synthpool/margin-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
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

	// --- Collaborators ---
	// The static source stands in for the external price aggregator; quotes
	// arrive over POST /api/v1/prices until the real feed is wired up.
	prices := oracle.NewStaticSource()
	bank := custody.NewInMemory()

	// --- Ledger ---
	lg := ledger.New(ledger.DefaultParams(), prices, bank)
	if err := restoreLedger(context.Background(), lg, bank, st); err != nil {
		slog.Error("ledger restore failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := server.NewWSHub()
	go wsHub.Run()

	// --- Pool service ---
	poolSvc := server.NewService(lg, st, bank, wsHub)

	// --- Funding scheduler ---
	sched := cron.New()
	_, err := sched.AddFunc(cfg.Funding.CronSpec, func() {
		if err := lg.UpdateAllFunding(); err != nil {
			slog.Error("funding accrual failed", "err", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, snap := range lg.Snapshot() {
			a, err := lg.AssetState(snap.Symbol)
			if err != nil {
				continue
			}
			if err := st.UpsertAssetState(ctx, &a); err != nil {
				slog.Error("persist asset state failed", "token", snap.Symbol, "err", err)
			}
		}
		slog.Info("funding rates accrued")
	})
	if err != nil {
		slog.Error("invalid FUNDING_CRON", "spec", cfg.Funding.CronSpec, "err", err)
		os.Exit(1)
	}
	sched.Start()
	cleanup = append(cleanup, func() { sched.Stop() })

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
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Account")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"margin-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", poolSvc.Routes())
	r.Post("/api/v1/prices", server.PriceUpdateHandler(prices))

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("margin-engine listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
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

	slog.Info("shutting down margin-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("margin-engine stopped")
}

// restoreLedger rebuilds the in-memory ledger from persisted records and
// tops the custodian up to the recorded balances so solvency holds from the
// first request.
func restoreLedger(ctx context.Context, lg *ledger.Ledger, bank *custody.InMemory, st store.Store) error {
	configs, err := st.ListAssetConfigs(ctx)
	if err != nil {
		return err
	}
	states, err := st.ListAssetStates(ctx)
	if err != nil {
		return err
	}
	positions, err := st.ListPositions(ctx, "")
	if err != nil {
		return err
	}
	supply, err := st.LoadStableUnitSupply(ctx)
	if err != nil {
		return err
	}

	lg.Restore(configs, states, positions, supply)
	for _, a := range states {
		// The recorded balance includes off-pool short collateral.
		recorded := a.RecordedBalance
		if floor := a.PoolAmount.Add(a.FeeReserve); recorded.LessThan(floor) {
			recorded = floor
		}
		bank.Deposit(a.Symbol, recorded)
	}
	if len(configs) > 0 {
		slog.Info("ledger restored", "assets", len(configs), "positions", len(positions),
			"stable_unit_supply", supply.String())
	}
	return nil
}
