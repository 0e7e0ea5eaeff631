package wallet

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation     string
	WalletID      WalletID
	TransactionID TransactionID
	CreditAmount  CreditAmount
	AmountCents   int64
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithConflictRetries overrides the retry budget for wallet version conflicts.
func WithConflictRetries(retries int, backoff time.Duration) ServiceOption {
	return func(service *Service) {
		if retries >= 0 {
			service.conflictRetries = retries
		}
		service.conflictBackoff = backoff
	}
}
