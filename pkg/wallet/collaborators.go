package wallet

import "context"

// Event names delivered to external systems. At-least-once; receivers must
// deduplicate.
const (
	EventTransactionCreated     = "wallet_transaction.created"
	EventDepletedOngoingBalance = "wallet.depleted_ongoing_balance"
)

// BillingScheduler enqueues the billing work that settles purchased credits.
// The collaborator later calls Service.Settle (or Service.Fail) with the
// transaction id.
type BillingScheduler interface {
	ScheduleBillPaidCredit(ctx context.Context, transaction Transaction, referenceUnixUTC int64) error
}

// Notifier delivers lifecycle events to external systems.
type Notifier interface {
	NotifyTransactionCreated(ctx context.Context, transaction Transaction) error
	NotifyWalletDepleted(ctx context.Context, wallet Wallet) error
}

// InvoiceQuery reports the summed amount of the customer's open, not yet
// finalized invoices. Read-only.
type InvoiceQuery interface {
	OpenInvoicesAmountCents(ctx context.Context, customerID CustomerID) (int64, error)
}

// UsageTotals is a snapshot of metered usage for one wallet.
type UsageTotals struct {
	TotalAmountCents        int64
	PayInAdvanceAmountCents int64
}

// UsageSource provides current usage figures for the refresh loop.
type UsageSource interface {
	CurrentUsage(ctx context.Context, wallet Wallet) (UsageTotals, error)
}
