package wallet

import "context"

// RecomputeOngoing folds current usage into the wallet's running balance and
// detects depletion. Usage is the metered total plus the customer's open
// invoice amounts minus usage already paid in advance, floored at zero. The
// depletion flag is edge-triggered: it is set, and a notification scheduled,
// only on the transition into a non-positive ongoing balance, and it is never
// cleared here.
func (service *Service) RecomputeOngoing(ctx context.Context, walletID WalletID, totalUsageAmountCents int64, payInAdvanceUsageAmountCents int64) (Wallet, error) {
	walletRecord, err := service.store.GetWallet(ctx, walletID)
	if err != nil {
		return Wallet{}, err
	}
	openInvoicesCents, err := service.invoices.OpenInvoicesAmountCents(ctx, walletRecord.CustomerID)
	if err != nil {
		return Wallet{}, WrapError(operationRecompute, "invoices", "query", err)
	}
	usageCents := totalUsageAmountCents + openInvoicesCents - payInAdvanceUsageAmountCents
	if usageCents < 0 {
		usageCents = 0
	}

	depletionTriggered := false
	operationError := service.withWalletRetry(ctx, func(ctx context.Context, transactionStore Store) error {
		depletionTriggered = false
		locked, err := transactionStore.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		locked.setUsage(usageCents)
		locked.ReadyToBeRefreshed = false
		if locked.OngoingBalanceCents <= 0 && !locked.DepletedOngoingBalance {
			locked.DepletedOngoingBalance = true
			depletionTriggered = true
		}
		if err := transactionStore.UpdateWalletBalances(ctx, locked); err != nil {
			return err
		}
		walletRecord = locked
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationRecompute,
		WalletID:    walletID,
		AmountCents: usageCents,
		Error:       operationError,
	})
	if operationError != nil {
		return Wallet{}, operationError
	}
	if depletionTriggered {
		service.notify(ctx, operationRecompute, func(ctx context.Context) error {
			return service.notifier.NotifyWalletDepleted(ctx, walletRecord)
		})
	}
	return walletRecord, nil
}

// notify schedules a post-commit notification. Delivery is at-least-once on
// the transport; a scheduling failure must not fail the committed operation,
// so it is only logged.
func (service *Service) notify(ctx context.Context, operation string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operation,
			Status:    operationStatusError,
			Error:     WrapError(operation, "notifier", "publish", err),
		})
	}
}
