package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestRecomputeOngoingFoldsUsageAndInvoices(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	harness.invoices.totalCents = 150
	walletID := harness.addWallet(test, "wallet-recompute", 1000, 0)

	walletRecord, err := harness.service.RecomputeOngoing(context.Background(), walletID, 450, 0)
	if err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if walletRecord.OngoingUsageBalanceCents != 600 {
		test.Fatalf("expected usage 600, got %d", walletRecord.OngoingUsageBalanceCents)
	}
	if walletRecord.OngoingBalanceCents != 400 {
		test.Fatalf("expected ongoing 400, got %d", walletRecord.OngoingBalanceCents)
	}
	mustDecimalEqual(test, "4", walletRecord.CreditsOngoingBalance)
	if walletRecord.ReadyToBeRefreshed {
		test.Fatalf("expected refresh flag cleared")
	}
	if walletRecord.DepletedOngoingBalance {
		test.Fatalf("wallet with positive ongoing balance must not be depleted")
	}
	if len(harness.notifier.depleted) != 0 {
		test.Fatalf("expected no depletion notification, got %d", len(harness.notifier.depleted))
	}
}

func TestRecomputeOngoingSubtractsPayInAdvance(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	walletID := harness.addWallet(test, "wallet-advance", 1000, 0)

	walletRecord, err := harness.service.RecomputeOngoing(context.Background(), walletID, 700, 300)
	if err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if walletRecord.OngoingUsageBalanceCents != 400 {
		test.Fatalf("expected usage 400, got %d", walletRecord.OngoingUsageBalanceCents)
	}
}

func TestRecomputeOngoingClampsNegativeUsage(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	walletID := harness.addWallet(test, "wallet-clamp", 1000, 500)

	walletRecord, err := harness.service.RecomputeOngoing(context.Background(), walletID, 100, 500)
	if err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if walletRecord.OngoingUsageBalanceCents != 0 {
		test.Fatalf("expected usage clamped to zero, got %d", walletRecord.OngoingUsageBalanceCents)
	}
	if walletRecord.OngoingBalanceCents != 1000 {
		test.Fatalf("expected ongoing 1000, got %d", walletRecord.OngoingBalanceCents)
	}
}

func TestRecomputeOngoingDepletionIsEdgeTriggered(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	walletID := harness.addWallet(test, "wallet-edge", 1000, 0)

	walletRecord, err := harness.service.RecomputeOngoing(context.Background(), walletID, 1500, 0)
	if err != nil {
		test.Fatalf("recompute: %v", err)
	}
	if walletRecord.OngoingBalanceCents != -500 {
		test.Fatalf("expected ongoing -500, got %d", walletRecord.OngoingBalanceCents)
	}
	if !walletRecord.DepletedOngoingBalance {
		test.Fatalf("expected depletion flag set")
	}
	if len(harness.notifier.depleted) != 1 {
		test.Fatalf("expected exactly one depletion notification, got %d", len(harness.notifier.depleted))
	}

	// A second recompute at the same usage must not notify again.
	if _, err := harness.service.RecomputeOngoing(context.Background(), walletID, 1500, 0); err != nil {
		test.Fatalf("second recompute: %v", err)
	}
	if len(harness.notifier.depleted) != 1 {
		test.Fatalf("depletion notification must fire once per transition, got %d", len(harness.notifier.depleted))
	}
}

func TestRecomputeOngoingNeverClearsDepletion(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	walletID := harness.addWallet(test, "wallet-sticky", 1000, 0)

	if _, err := harness.service.RecomputeOngoing(context.Background(), walletID, 1200, 0); err != nil {
		test.Fatalf("first recompute: %v", err)
	}
	walletRecord, err := harness.service.RecomputeOngoing(context.Background(), walletID, 100, 0)
	if err != nil {
		test.Fatalf("second recompute: %v", err)
	}
	if walletRecord.OngoingBalanceCents != 900 {
		test.Fatalf("expected ongoing 900, got %d", walletRecord.OngoingBalanceCents)
	}
	if !walletRecord.DepletedOngoingBalance {
		test.Fatalf("recompute must not clear the depletion flag")
	}
}

func TestRecomputeOngoingNotifierFailureDoesNotFailOperation(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	harness.notifier.err = errors.New("broker unreachable")
	walletID := harness.addWallet(test, "wallet-notify-down", 1000, 0)

	walletRecord, err := harness.service.RecomputeOngoing(context.Background(), walletID, 1500, 0)
	if err != nil {
		test.Fatalf("recompute must commit despite notifier failure, got %v", err)
	}
	if !walletRecord.DepletedOngoingBalance {
		test.Fatalf("expected depletion flag set")
	}
}

func TestRecomputeOngoingInvoiceQueryFailure(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)
	harness.invoices.err = errors.New("invoicing backend down")
	walletID := harness.addWallet(test, "wallet-invoices-down", 1000, 200)

	_, err := harness.service.RecomputeOngoing(context.Background(), walletID, 450, 0)
	if err == nil {
		test.Fatalf("expected error when invoice query fails")
	}
	walletRecord := harness.store.mustWallet(test, walletID)
	if walletRecord.OngoingUsageBalanceCents != 200 {
		test.Fatalf("expected usage untouched, got %d", walletRecord.OngoingUsageBalanceCents)
	}
}

func TestRecomputeOngoingUnknownWallet(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	_, err := harness.service.RecomputeOngoing(context.Background(), mustWalletID(test, "missing"), 100, 0)
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}
