package wallet

import "context"

// CreateRequest carries the raw top-up/void request from the API boundary.
// Credit amounts are decimal strings; empty string means the leg is absent.
type CreateRequest struct {
	WalletID                         string
	PaidCredits                      string
	GrantedCredits                   string
	VoidedCredits                    string
	ResetConsumedCredits             bool
	InvoiceRequiresSuccessfulPayment *bool
	Source                           string
	Metadata                         Metadata
}

// createPlan is a validated request bound to its resolved wallet.
type createPlan struct {
	wallet                           Wallet
	paidCredits                      CreditAmount
	grantedCredits                   CreditAmount
	voidedCredits                    CreditAmount
	hasPaid                          bool
	hasGranted                       bool
	hasVoided                        bool
	resetConsumedCredits             bool
	invoiceRequiresSuccessfulPayment bool
	source                           Source
	metadata                         Metadata
}

// planCreate is the validation gate: it resolves the wallet and normalizes
// the request without mutating anything. Zero parsed amounts stay in the plan
// and no-op downstream; they are not errors.
func (service *Service) planCreate(ctx context.Context, request CreateRequest) (createPlan, error) {
	walletID, err := NewWalletID(request.WalletID)
	if err != nil {
		return createPlan{}, err
	}
	walletRecord, err := service.store.GetWallet(ctx, walletID)
	if err != nil {
		return createPlan{}, err
	}
	if walletRecord.Terminated() {
		return createPlan{}, ErrWalletTerminated
	}

	plan := createPlan{
		wallet:               walletRecord,
		resetConsumedCredits: request.ResetConsumedCredits,
		metadata:             request.Metadata,
	}
	plan.source, err = ParseSource(request.Source)
	if err != nil {
		return createPlan{}, err
	}
	// The wallet default applies unless the request overrides it.
	plan.invoiceRequiresSuccessfulPayment = walletRecord.InvoiceRequiresSuccessfulPayment
	if request.InvoiceRequiresSuccessfulPayment != nil {
		plan.invoiceRequiresSuccessfulPayment = *request.InvoiceRequiresSuccessfulPayment
	}

	if request.PaidCredits != "" {
		plan.paidCredits, err = NewCreditAmount(request.PaidCredits)
		if err != nil {
			return createPlan{}, err
		}
		plan.hasPaid = true
	}
	if request.GrantedCredits != "" {
		plan.grantedCredits, err = NewCreditAmount(request.GrantedCredits)
		if err != nil {
			return createPlan{}, err
		}
		plan.hasGranted = true
	}
	if request.VoidedCredits != "" {
		plan.voidedCredits, err = NewCreditAmount(request.VoidedCredits)
		if err != nil {
			return createPlan{}, err
		}
		plan.hasVoided = true
	}
	if !plan.hasPaid && !plan.hasGranted && !plan.hasVoided {
		return createPlan{}, ErrEmptyRequest
	}
	return plan, nil
}
