package wallet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

const testClockUnixUTC = int64(1700000000)

type stubStore struct {
	wallets       map[string]Wallet
	transactions  []Transaction
	conflictsLeft int
	insertErr     error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{wallets: map[string]Wallet{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetWallet(_ context.Context, walletID WalletID) (Wallet, error) {
	walletRecord, ok := store.wallets[walletID.String()]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return walletRecord, nil
}

func (store *stubStore) GetWalletForUpdate(ctx context.Context, walletID WalletID) (Wallet, error) {
	return store.GetWallet(ctx, walletID)
}

func (store *stubStore) UpdateWalletBalances(_ context.Context, walletRecord Wallet) error {
	if store.conflictsLeft > 0 {
		store.conflictsLeft--
		return ErrConcurrencyConflict
	}
	stored, ok := store.wallets[walletRecord.WalletID.String()]
	if !ok {
		return ErrWalletNotFound
	}
	if stored.Version != walletRecord.Version {
		return ErrConcurrencyConflict
	}
	walletRecord.Version++
	store.wallets[walletRecord.WalletID.String()] = walletRecord
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	if store.insertErr != nil {
		return store.insertErr
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) GetTransactionForUpdate(_ context.Context, transactionID TransactionID) (Transaction, error) {
	for _, transaction := range store.transactions {
		if transaction.TransactionID == transactionID {
			return transaction, nil
		}
	}
	return Transaction{}, ErrUnknownTransaction
}

func (store *stubStore) UpdateTransactionStatus(_ context.Context, transactionID TransactionID, from Status, to Status, settledUnixUTC int64) error {
	for index, transaction := range store.transactions {
		if transaction.TransactionID != transactionID {
			continue
		}
		if transaction.Status != from {
			return ErrTransactionClosed
		}
		transaction.Status = to
		if settledUnixUTC != 0 {
			transaction.SettledAtUnixUTC = settledUnixUTC
		}
		store.transactions[index] = transaction
		return nil
	}
	return ErrUnknownTransaction
}

func (store *stubStore) ListTransactions(_ context.Context, walletID WalletID, _ int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for _, transaction := range store.transactions {
		if transaction.WalletID == walletID {
			out = append(out, transaction)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (store *stubStore) ListWalletsReadyToRefresh(_ context.Context, limit int) ([]Wallet, error) {
	var out []Wallet
	for _, walletRecord := range store.wallets {
		if walletRecord.ReadyToBeRefreshed && !walletRecord.Terminated() {
			out = append(out, walletRecord)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (store *stubStore) mustWallet(test *testing.T, walletID WalletID) Wallet {
	test.Helper()
	walletRecord, ok := store.wallets[walletID.String()]
	if !ok {
		test.Fatalf("wallet %s not found", walletID.String())
	}
	return walletRecord
}

type stubBilling struct {
	scheduled []Transaction
	err       error
}

func (billing *stubBilling) ScheduleBillPaidCredit(_ context.Context, transaction Transaction, _ int64) error {
	if billing.err != nil {
		return billing.err
	}
	billing.scheduled = append(billing.scheduled, transaction)
	return nil
}

type stubNotifier struct {
	created  []Transaction
	depleted []Wallet
	err      error
}

func (notifier *stubNotifier) NotifyTransactionCreated(_ context.Context, transaction Transaction) error {
	if notifier.err != nil {
		return notifier.err
	}
	notifier.created = append(notifier.created, transaction)
	return nil
}

func (notifier *stubNotifier) NotifyWalletDepleted(_ context.Context, walletRecord Wallet) error {
	if notifier.err != nil {
		return notifier.err
	}
	notifier.depleted = append(notifier.depleted, walletRecord)
	return nil
}

type stubInvoices struct {
	totalCents int64
	err        error
}

func (invoices *stubInvoices) OpenInvoicesAmountCents(context.Context, CustomerID) (int64, error) {
	return invoices.totalCents, invoices.err
}

type testHarness struct {
	store    *stubStore
	billing  *stubBilling
	notifier *stubNotifier
	invoices *stubInvoices
	service  *Service
}

func newTestHarness(test *testing.T, options ...ServiceOption) *testHarness {
	test.Helper()
	harness := &testHarness{
		store:    newStubStore(test),
		billing:  &stubBilling{},
		notifier: &stubNotifier{},
		invoices: &stubInvoices{},
	}
	options = append(options, WithConflictRetries(defaultConflictRetries, 0))
	service, err := NewService(
		harness.store,
		harness.billing,
		harness.notifier,
		harness.invoices,
		func() int64 { return testClockUnixUTC },
		options...,
	)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	harness.service = service
	return harness
}

// addWallet seeds the spec's reference wallet shape: rate 1.0, balances in
// cents with their credit equivalents derived at that rate.
func (harness *testHarness) addWallet(test *testing.T, id string, balanceCents int64, usageCents int64) WalletID {
	test.Helper()
	walletID := mustWalletID(test, id)
	customerID, err := NewCustomerID("customer-" + id)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	rate := mustRate(test, "1.0")
	walletRecord := Wallet{
		WalletID:                   walletID,
		CustomerID:                 customerID,
		Currency:                   "USD",
		RateAmount:                 rate,
		BalanceCents:               balanceCents,
		CreditsBalance:             rate.CreditsForCents(balanceCents),
		OngoingUsageBalanceCents:   usageCents,
		CreditsOngoingUsageBalance: rate.CreditsForCents(usageCents),
		ReadyToBeRefreshed:         true,
		CreatedUnixUTC:             testClockUnixUTC,
	}
	walletRecord.refreshOngoing()
	harness.store.wallets[walletID.String()] = walletRecord
	return walletID
}

func mustWalletID(test *testing.T, raw string) WalletID {
	test.Helper()
	walletID, err := NewWalletID(raw)
	if err != nil {
		test.Fatalf("wallet id: %v", err)
	}
	return walletID
}

func mustCredit(test *testing.T, raw string) CreditAmount {
	test.Helper()
	credits, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("credit amount: %v", err)
	}
	return credits
}

func mustRate(test *testing.T, raw string) Rate {
	test.Helper()
	rate, err := NewRate(raw)
	if err != nil {
		test.Fatalf("rate: %v", err)
	}
	return rate
}

func mustDecimalEqual(test *testing.T, want string, got decimal.Decimal) {
	test.Helper()
	expected, err := decimal.NewFromString(want)
	if err != nil {
		test.Fatalf("parse decimal %q: %v", want, err)
	}
	if !got.Equal(expected) {
		test.Fatalf("expected %s, got %s", want, got.String())
	}
}
