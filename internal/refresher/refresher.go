package refresher

import (
	"context"
	"time"

	"github.com/n0obHere/lago-api/pkg/wallet"
	"go.uber.org/zap"
)

const cycleTimeout = 30 * time.Second

// Engine is the slice of the wallet service the refresher drives.
type Engine interface {
	WalletsReadyToRefresh(ctx context.Context, limit int) ([]wallet.Wallet, error)
	RecomputeOngoing(ctx context.Context, walletID wallet.WalletID, totalUsageAmountCents int64, payInAdvanceUsageAmountCents int64) (wallet.Wallet, error)
}

// Refresher periodically folds current usage into wallets flagged for
// refresh. It may race with concurrent top-ups and voids; the engine's
// per-wallet serialization makes that safe.
type Refresher struct {
	engine    Engine
	usage     wallet.UsageSource
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// New wires a Refresher.
func New(engine Engine, usage wallet.UsageSource, interval time.Duration, batchSize int, logger *zap.Logger) *Refresher {
	return &Refresher{
		engine:    engine,
		usage:     usage,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled, refreshing one batch per tick.
func (refresher *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(refresher.interval)
	defer ticker.Stop()

	refresher.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			refresher.logger.Info("stopping ongoing balance refresher")
			return
		case <-ticker.C:
			refresher.runCycle(ctx)
		}
	}
}

func (refresher *Refresher) runCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	wallets, err := refresher.engine.WalletsReadyToRefresh(ctx, refresher.batchSize)
	if err != nil {
		refresher.logger.Error("failed to list wallets for refresh", zap.Error(err))
		return
	}
	if len(wallets) == 0 {
		return
	}

	refreshed := 0
	for _, walletRecord := range wallets {
		usage, err := refresher.usage.CurrentUsage(ctx, walletRecord)
		if err != nil {
			refresher.logger.Error("failed to read usage",
				zap.String("wallet_id", walletRecord.WalletID.String()),
				zap.Error(err))
			continue
		}
		if _, err := refresher.engine.RecomputeOngoing(ctx, walletRecord.WalletID, usage.TotalAmountCents, usage.PayInAdvanceAmountCents); err != nil {
			refresher.logger.Error("failed to recompute ongoing balance",
				zap.String("wallet_id", walletRecord.WalletID.String()),
				zap.Error(err))
			continue
		}
		refreshed++
	}
	refresher.logger.Debug("refresh cycle complete",
		zap.Int("candidates", len(wallets)),
		zap.Int("refreshed", refreshed))
}
