package wallet

import "context"

// Store is the persistence contract used by Service. Implementations must
// make WithTx atomic: the ledger entry and the balance mutation of one
// operation commit together or not at all.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// GetWallet reads a wallet without locking it.
	GetWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	// GetWalletForUpdate reads a wallet holding an exclusive row lock for the
	// duration of the surrounding transaction.
	GetWalletForUpdate(ctx context.Context, walletID WalletID) (Wallet, error)
	// UpdateWalletBalances persists the wallet's mutable fields guarded by
	// wallet.Version and bumps the version. A stale version surfaces
	// ErrConcurrencyConflict.
	UpdateWalletBalances(ctx context.Context, wallet Wallet) error

	InsertTransaction(ctx context.Context, transaction Transaction) error
	GetTransactionForUpdate(ctx context.Context, transactionID TransactionID) (Transaction, error)
	// UpdateTransactionStatus transitions status from one state to another,
	// setting settledAt when the target state is settled. A missed guard
	// surfaces ErrTransactionClosed.
	UpdateTransactionStatus(ctx context.Context, transactionID TransactionID, from Status, to Status, settledUnixUTC int64) error
	ListTransactions(ctx context.Context, walletID WalletID, beforeUnixUTC int64, limit int) ([]Transaction, error)

	ListWalletsReadyToRefresh(ctx context.Context, limit int) ([]Wallet, error)
}
