package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the wallet ledger domain logic over a Store. Every
// balance-affecting operation runs as one store transaction serialized per
// wallet; version conflicts are retried within a bounded budget before being
// surfaced to the caller as retryable.
type Service struct {
	store           Store
	billing         BillingScheduler
	notifier        Notifier
	invoices        InvoiceQuery
	nowFn           func() int64
	logger          OperationLogger
	conflictRetries int
	conflictBackoff time.Duration
}

// NewService wires a Service.
func NewService(store Store, billing BillingScheduler, notifier Notifier, invoices InvoiceQuery, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if billing == nil {
		return nil, fmt.Errorf("%w: billing scheduler dependency is nil", ErrInvalidServiceConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier dependency is nil", ErrInvalidServiceConfig)
	}
	if invoices == nil {
		return nil, fmt.Errorf("%w: invoice query dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		billing:         billing,
		notifier:        notifier,
		invoices:        invoices,
		nowFn:           now,
		conflictRetries: defaultConflictRetries,
		conflictBackoff: 25 * time.Millisecond,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetWallet returns the wallet as currently stored.
func (service *Service) GetWallet(ctx context.Context, walletID WalletID) (Wallet, error) {
	return service.store.GetWallet(ctx, walletID)
}

// ListTransactions lists ledger entries for a wallet before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, walletID WalletID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if _, err := service.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, walletID, beforeUnixUTC, limit)
}

// WalletsReadyToRefresh lists wallets flagged for an ongoing-balance refresh.
func (service *Service) WalletsReadyToRefresh(ctx context.Context, limit int) ([]Wallet, error) {
	return service.store.ListWalletsReadyToRefresh(ctx, limit)
}

// Increase appends a settled granted entry and applies its balance effect in
// the same atomic unit. Zero amounts are a silent no-op. When resetConsumed
// is set the wallet's unreconciled usage is forgiven against the grant.
func (service *Service) Increase(ctx context.Context, walletID WalletID, credits CreditAmount, invoiceRequiresSuccessfulPayment bool, resetConsumed bool, source Source, metadata Metadata) (*Transaction, error) {
	if credits.IsZero() {
		return nil, nil
	}
	var created Transaction
	operationError := service.withWalletRetry(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRecord, err := transactionStore.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if walletRecord.Terminated() {
			return ErrWalletTerminated
		}
		created = service.newTransaction(walletRecord, TransactionTypeInbound, TransactionStatusGranted, credits, invoiceRequiresSuccessfulPayment, source, metadata)
		created.Status = StatusSettled
		created.SettledAtUnixUTC = created.CreatedUnixUTC
		if err := transactionStore.InsertTransaction(ctx, created); err != nil {
			return err
		}
		walletRecord.CreditsBalance = walletRecord.CreditsBalance.Add(credits.Decimal())
		walletRecord.BalanceCents += created.AmountCents
		if resetConsumed {
			walletRecord.setUsage(0)
		} else {
			walletRecord.refreshOngoing()
		}
		walletRecord.clearDepletionIfRestored()
		walletRecord.ReadyToBeRefreshed = true
		return transactionStore.UpdateWalletBalances(ctx, walletRecord)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationIncrease,
		WalletID:      walletID,
		TransactionID: created.TransactionID,
		CreditAmount:  credits,
		AmountCents:   created.AmountCents,
		Error:         operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return &created, nil
}

// RegisterPurchase appends a pending purchased entry without touching
// balances; the effect is deferred until the billing collaborator settles the
// entry. The billing trigger is scheduled only after the entry has committed.
func (service *Service) RegisterPurchase(ctx context.Context, walletID WalletID, credits CreditAmount, invoiceRequiresSuccessfulPayment bool, source Source, metadata Metadata) (*Transaction, error) {
	if credits.IsZero() {
		return nil, nil
	}
	var created Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRecord, err := transactionStore.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if walletRecord.Terminated() {
			return ErrWalletTerminated
		}
		created = service.newTransaction(walletRecord, TransactionTypeInbound, TransactionStatusPurchased, credits, invoiceRequiresSuccessfulPayment, source, metadata)
		return transactionStore.InsertTransaction(ctx, created)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationRegisterPurchase,
		WalletID:      walletID,
		TransactionID: created.TransactionID,
		CreditAmount:  credits,
		AmountCents:   created.AmountCents,
		Error:         operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	if err := service.billing.ScheduleBillPaidCredit(ctx, created, service.nowFn()); err != nil {
		// The entry is committed; the failure to hand it to billing is
		// surfaced so the caller's job layer can retry the schedule.
		return &created, WrapError(operationRegisterPurchase, "billing", "schedule", fmt.Errorf("%w: %v", ErrBillingCollaborator, err))
	}
	return &created, nil
}

// Void appends a settled voided entry and decreases the gross balance in the
// same atomic unit. Voiding more than the credit balance fails with
// ErrInsufficientBalance and leaves the wallet unchanged.
func (service *Service) Void(ctx context.Context, walletID WalletID, credits CreditAmount, source Source, metadata Metadata) (*Transaction, error) {
	if credits.IsZero() {
		return nil, nil
	}
	var created Transaction
	operationError := service.withWalletRetry(ctx, func(ctx context.Context, transactionStore Store) error {
		walletRecord, err := transactionStore.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if walletRecord.Terminated() {
			return ErrWalletTerminated
		}
		if credits.Decimal().GreaterThan(walletRecord.CreditsBalance) {
			return ErrInsufficientBalance
		}
		created = service.newTransaction(walletRecord, TransactionTypeOutbound, TransactionStatusVoided, credits, walletRecord.InvoiceRequiresSuccessfulPayment, source, metadata)
		created.Status = StatusSettled
		created.SettledAtUnixUTC = created.CreatedUnixUTC
		if err := transactionStore.InsertTransaction(ctx, created); err != nil {
			return err
		}
		walletRecord.CreditsBalance = walletRecord.CreditsBalance.Sub(credits.Decimal())
		walletRecord.BalanceCents -= created.AmountCents
		walletRecord.refreshOngoing()
		walletRecord.clearDepletionIfRestored()
		walletRecord.ReadyToBeRefreshed = true
		return transactionStore.UpdateWalletBalances(ctx, walletRecord)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationVoid,
		WalletID:      walletID,
		TransactionID: created.TransactionID,
		CreditAmount:  credits,
		AmountCents:   created.AmountCents,
		Error:         operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return &created, nil
}

// Settle applies the deferred balance effect of a pending purchased entry
// once the billing collaborator reports successful payment. Settling an
// already settled entry is a no-op so the at-least-once job layer can retry
// freely.
func (service *Service) Settle(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	var settled Transaction
	operationError := service.withWalletRetry(ctx, func(ctx context.Context, transactionStore Store) error {
		transaction, err := transactionStore.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if transaction.Status == StatusSettled {
			settled = transaction
			return nil
		}
		if transaction.Status != StatusPending {
			return ErrTransactionClosed
		}
		walletRecord, err := transactionStore.GetWalletForUpdate(ctx, transaction.WalletID)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if err := transactionStore.UpdateTransactionStatus(ctx, transactionID, StatusPending, StatusSettled, nowUnixUTC); err != nil {
			return err
		}
		walletRecord.CreditsBalance = walletRecord.CreditsBalance.Add(transaction.CreditAmount.Decimal())
		walletRecord.BalanceCents += transaction.AmountCents
		walletRecord.refreshOngoing()
		walletRecord.clearDepletionIfRestored()
		walletRecord.ReadyToBeRefreshed = true
		if err := transactionStore.UpdateWalletBalances(ctx, walletRecord); err != nil {
			return err
		}
		settled = transaction
		settled.Status = StatusSettled
		settled.SettledAtUnixUTC = nowUnixUTC
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationSettle,
		WalletID:      settled.WalletID,
		TransactionID: transactionID,
		CreditAmount:  settled.CreditAmount,
		AmountCents:   settled.AmountCents,
		Error:         operationError,
	})
	return settled, operationError
}

// Fail marks a pending purchased entry failed after a definitive payment
// failure. No balance effect; the entry stays in the ledger.
func (service *Service) Fail(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	var failed Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		transaction, err := transactionStore.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if transaction.Status != StatusPending {
			return ErrTransactionClosed
		}
		if err := transactionStore.UpdateTransactionStatus(ctx, transactionID, StatusPending, StatusFailed, 0); err != nil {
			return err
		}
		failed = transaction
		failed.Status = StatusFailed
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationFail,
		WalletID:      failed.WalletID,
		TransactionID: transactionID,
		CreditAmount:  failed.CreditAmount,
		AmountCents:   failed.AmountCents,
		Error:         operationError,
	})
	return failed, operationError
}

func (service *Service) newTransaction(walletRecord Wallet, transactionType TransactionType, transactionStatus TransactionStatus, credits CreditAmount, invoiceRequiresSuccessfulPayment bool, source Source, metadata Metadata) Transaction {
	transactionID, _ := NewTransactionID(uuid.NewString())
	return Transaction{
		TransactionID:                    transactionID,
		WalletID:                         walletRecord.WalletID,
		Type:                             transactionType,
		Status:                           StatusPending,
		TransactionStatus:                transactionStatus,
		Source:                           source,
		AmountCents:                      walletRecord.RateAmount.CentsForCredits(credits),
		CreditAmount:                     credits,
		InvoiceRequiresSuccessfulPayment: invoiceRequiresSuccessfulPayment,
		Metadata:                         metadata,
		CreatedUnixUTC:                   service.nowFn(),
	}
}

// withWalletRetry runs fn in a store transaction, retrying version conflicts
// a bounded number of times with linear backoff before surfacing the conflict
// as a retryable failure.
func (service *Service) withWalletRetry(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	var lastErr error
	for attempt := 0; attempt <= service.conflictRetries; attempt++ {
		if attempt > 0 && service.conflictBackoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * service.conflictBackoff):
			}
		}
		lastErr = service.store.WithTx(ctx, fn)
		if !errors.Is(lastErr, ErrConcurrencyConflict) {
			return lastErr
		}
	}
	return lastErr
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
