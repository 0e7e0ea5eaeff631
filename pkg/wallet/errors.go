package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrWalletNotFound           = errors.New("wallet not found")
	ErrWalletTerminated         = errors.New("wallet terminated")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrConcurrencyConflict      = errors.New("concurrency conflict")
	ErrUnknownTransaction       = errors.New("unknown transaction")
	ErrTransactionClosed        = errors.New("transaction closed")
	ErrBillingCollaborator      = errors.New("billing collaborator failure")
	ErrInvalidAmountFormat      = errors.New("invalid amount format")
	ErrInvalidRate              = errors.New("invalid rate")
	ErrInvalidWalletID          = errors.New("invalid wallet id")
	ErrInvalidCustomerID        = errors.New("invalid customer id")
	ErrInvalidTransactionID     = errors.New("invalid transaction id")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidStatus            = errors.New("invalid status")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidSource            = errors.New("invalid source")
	ErrEmptyRequest             = errors.New("empty request")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
