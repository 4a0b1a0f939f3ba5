package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/adapter/repo"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/infra"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
)

const sweepInterval = time.Minute

// The worker runs the housekeeping sweeps the request path must not wait for:
// expiring overdue subscriptions (with their forfeit entries), timing out
// unpaid gift orders, and pruning finished track records.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	accounts := repo.NewAccountRepository(pool)
	entries := repo.NewLedgerRepository(pool)
	orders := repo.NewOrderRepository(pool)
	tracks := repo.NewTrackRepository(pool)
	engine := ledger.NewEngine(accounts, entries, logger)

	logger.Info().Dur("interval", sweepInterval).Msg("worker started")

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		sweep(ctx, logger, engine, orders, tracks)
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, logger infra.Logger, engine *ledger.Engine, orders domain.OrderRepository, tracks domain.TrackRepository) {
	now := time.Now()

	if n, err := engine.ExpireOverdue(ctx, now); err != nil {
		logger.Error().Err(err).Msg("subscription sweep failed")
	} else if n > 0 {
		logger.Info().Int("accounts", n).Msg("overdue subscriptions expired")
	}

	if n, err := orders.ExpireStale(ctx, now.Add(-domain.PendingOrderRetention)); err != nil {
		logger.Error().Err(err).Msg("pending order sweep failed")
	} else if n > 0 {
		logger.Info().Int64("orders", n).Msg("stale gift orders expired")
	}

	if n, err := tracks.PruneOlderThan(ctx, now.Add(-domain.TrackRetention)); err != nil {
		logger.Error().Err(err).Msg("track prune failed")
	} else if n > 0 {
		logger.Info().Int64("tracks", n).Msg("old track records pruned")
	}
}
