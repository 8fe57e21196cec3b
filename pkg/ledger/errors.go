package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInvalidLine           = errors.New("invalid journal line")
	ErrUnbalancedTransaction = errors.New("unbalanced transaction")
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountExists         = errors.New("account already exists")
	ErrUnknownJournalEntry   = errors.New("unknown journal entry")
	ErrLockTimeout           = errors.New("lock timeout")
	ErrInvalidAccountID      = errors.New("invalid account id")
	ErrInvalidEntryID        = errors.New("invalid entry id")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidTransactionID  = errors.New("invalid transaction id")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidLineType       = errors.New("invalid line type")
	ErrInvalidAccountNature  = errors.New("invalid account nature")
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidAccountName    = errors.New("invalid account name")
	ErrInvalidCurrency       = errors.New("invalid currency")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
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

// IsRetryable reports whether err is an infrastructure failure that a later
// attempt may clear. Validation failures and idempotency hits are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidLine),
		errors.Is(err, ErrUnbalancedTransaction),
		errors.Is(err, ErrDuplicateTransaction),
		errors.Is(err, ErrInvalidTransactionID),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidLineType),
		errors.Is(err, ErrInvalidAccountID):
		return false
	}
	return true
}
