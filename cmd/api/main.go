package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/idempotency"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/metrics"
	"github.com/punchamoorthee/walletops/internal/paystack"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const cleanupBatchSize = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.DBSource); err != nil {
		logger.Fatalf("Unable to migrate database: %v", err)
	}
	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Layers
	clk := clock.RealClock{}
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	var idemStore idempotency.Store = db.Idempotency()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Unable to connect to redis: %v", err)
		}
		idemStore = idempotency.NewRedisStore(rdb)
		logger.Infof("Idempotency records stored in redis at %s", cfg.Redis.Addr)
	}

	provider := paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, cfg.Paystack.Timeout)
	wallets := service.NewWalletService(db, clk)
	transfers := service.NewTransferService(db, wallets, clk, m)
	deposits := service.NewDepositService(db, db, wallets, provider, cfg.Paystack.SecretKey, clk, m)
	keys := service.NewKeyService(db, clk)

	handler := api.NewHandler(wallets, transfers, deposits, keys, version, clk)
	gate := auth.NewGate(auth.NewJWTVerifier(cfg.JWTAccessSecret, clk), db, clk, m)
	idem := idempotency.NewMiddleware(idemStore, auth.IdempotencyScope, cfg.IdempotencyTTL, clk, m).
		WithLease(cfg.IdempotencyLease)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, gate, idem),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Server starting on :%s (env=%s, version=%s)", cfg.Port, cfg.Env, version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Redis.Addr == "" {
		g.Go(func() error {
			db.Idempotency().StartCleanupWorker(gctx, cfg.IdempotencyCleanupInterval, cleanupBatchSize, logger.Infof, m.ObserveCleanup)
			return nil
		})
	}

	g.Go(func() error {
		deposits.RunSweeper(gctx, cfg.DepositSweepInterval, cfg.DepositAbandonAfter)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server stopped: %v", err)
	}
	logger.Info("Server stopped")
}
