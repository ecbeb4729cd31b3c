package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNotFound           = errors.New("not found")
	ErrTransactionAborted = errors.New("transaction aborted")
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// ValidationError rejects malformed input before any write begins.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type InsufficientStockError struct {
	ItemID    string
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (%s): available %d, requested %d",
		e.ItemName, e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NotFound(entity string, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// TransactionAbortedError means nothing from the operation was committed.
// The caller may resubmit.
type TransactionAbortedError struct {
	Op    string
	Cause error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("%s aborted: %v", e.Op, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *TransactionAbortedError) Unwrap() []error {
	return []error{ErrTransactionAborted, e.Cause}
}

// InvariantViolationError is raised when committed state breaks a ledger
// invariant. It is never corrected automatically.
type InvariantViolationError struct {
	Entity string
	ID     string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated on %s %s: %s", e.Entity, e.ID, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// IsRetryable reports whether resubmitting the same request may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionAborted) || errors.Is(err, ErrInsufficientStock)
}

// IsDomainError reports whether err already belongs to the ledger taxonomy.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransactionAborted) ||
		errors.Is(err, ErrInvariantViolation)
}
