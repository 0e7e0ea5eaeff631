package wallet

import "context"

// Leg names one of the three independent intents bundled in a create request.
type Leg string

const (
	LegPurchase Leg = "purchase"
	LegGrant    Leg = "grant"
	LegVoid     Leg = "void"
)

// CreateResult reports the outcome of one orchestrated request. The legs are
// independent: a failed leg never rolls back a committed sibling, so callers
// get the created entries alongside the per-leg failures.
type CreateResult struct {
	Transactions []Transaction
	LegErrors    map[Leg]error
}

// Failed reports whether any leg failed.
func (result CreateResult) Failed() bool {
	return len(result.LegErrors) > 0
}

// CreateTransactions validates a top-up/void request and applies its legs in
// fixed order: purchase, then grant, then void. Each leg commits in its own
// atomic unit. After all legs, a wallet_transaction.created notification is
// scheduled for every entry actually created. An empty Transactions list with
// no leg errors is a valid result when all requested amounts were zero.
func (service *Service) CreateTransactions(ctx context.Context, request CreateRequest) (CreateResult, error) {
	plan, err := service.planCreate(ctx, request)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationCreate,
			Error:     err,
		})
		return CreateResult{}, err
	}

	result := CreateResult{LegErrors: map[Leg]error{}}
	walletID := plan.wallet.WalletID

	if plan.hasPaid {
		created, legErr := service.RegisterPurchase(ctx, walletID, plan.paidCredits, plan.invoiceRequiresSuccessfulPayment, plan.source, plan.metadata)
		result.record(LegPurchase, created, legErr)
	}
	if plan.hasGranted {
		created, legErr := service.Increase(ctx, walletID, plan.grantedCredits, plan.invoiceRequiresSuccessfulPayment, plan.resetConsumedCredits, plan.source, plan.metadata)
		result.record(LegGrant, created, legErr)
	}
	if plan.hasVoided {
		created, legErr := service.Void(ctx, walletID, plan.voidedCredits, plan.source, plan.metadata)
		result.record(LegVoid, created, legErr)
	}

	for _, transaction := range result.Transactions {
		created := transaction
		service.notify(ctx, operationCreate, func(ctx context.Context) error {
			return service.notifier.NotifyTransactionCreated(ctx, created)
		})
	}

	service.logOperation(ctx, OperationLog{
		Operation: operationCreate,
		WalletID:  walletID,
		Status:    createStatus(result),
	})
	return result, nil
}

// record keeps a created entry even when its leg also reports an error: a
// purchase whose billing trigger could not be scheduled is still committed.
func (result *CreateResult) record(leg Leg, created *Transaction, err error) {
	if created != nil {
		result.Transactions = append(result.Transactions, *created)
	}
	if err != nil {
		result.LegErrors[leg] = err
	}
}

func createStatus(result CreateResult) string {
	if result.Failed() {
		return operationStatusError
	}
	return operationStatusOK
}
