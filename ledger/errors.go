/*
errors.go - Error taxonomy for the engine

ERROR KINDS:
  validation_error     bad or out-of-range input; caller fixes and resubmits
  not_found            referenced variety/invoice/process/counterparty absent
  invalid_state        operation on a completed or cancelled process
  insufficient_stock   stock would go below zero where that is not allowed
  transaction_failure  the atomic unit could not commit; the only retryable kind

USAGE:
  Every error returned by the Engine carries a Kind:

    if errors.Is(err, ledger.ErrNotFound) { ... }

    var stockErr *ledger.InsufficientStockError
    if errors.As(err, &stockErr) { ... stockErr.Available ... }

    switch ledger.KindOf(err) { ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KINDS AND SENTINELS
// =============================================================================

// Kind is the stable machine-readable error class.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindInvalidState       Kind = "invalid_state"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindTransactionFailure Kind = "transaction_failure"
	KindInternal           Kind = "internal"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrTransactionFailure = errors.New("transaction failure")
)

var (
	// ErrDuplicate marks a unique constraint a store enforced.
	ErrDuplicate = errors.New("duplicate")
	// ErrWriteConflict marks a transaction that lost a race to another one
	// after both had read. Stores rerun such transactions.
	ErrWriteConflict = errors.New("write conflict")
)

var sentinels = map[Kind]error{
	KindValidation:         ErrValidation,
	KindNotFound:           ErrNotFound,
	KindInvalidState:       ErrInvalidState,
	KindInsufficientStock:  ErrInsufficientStock,
	KindTransactionFailure: ErrTransactionFailure,
}

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// Error is the engine's general error. It matches its kind's sentinel with
// errors.Is and also exposes the underlying cause, if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var errs []error
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Invalid builds a validation error outside the engine.
func Invalid(format string, args ...any) error {
	return validationf(format, args...)
}

// Duplicate is Invalid for a unique constraint violation. The error also
// matches ErrDuplicate.
func Duplicate(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Err: ErrDuplicate}
}

// Conflict marks err as a lost race. It matches ErrWriteConflict and
// ErrTransactionFailure, so it surfaces as a transaction failure if a store
// stops rerunning it.
func Conflict(err error) error {
	return &Error{
		Kind:    KindTransactionFailure,
		Message: "concurrent write conflict",
		Err:     fmt.Errorf("%w: %w", ErrWriteConflict, err),
	}
}

func notFound(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", what, id)}
}

func invalidStatef(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// TransactionFailed wraps a commit or conflict error from a store. Stores use
// it once their own retries are exhausted.
func TransactionFailed(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransactionFailure, Message: "transaction could not be committed", Err: err}
}

// InsufficientStockError details a stock shortfall.
type InsufficientStockError struct {
	VarietyID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variety %s: available %s, requested %s",
		e.VarietyID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// MissingMismatchError is returned when an itemized loss breakdown does not add
// up to the recorded missing quantity.
type MissingMismatchError struct {
	ProcessID string
	Recorded  decimal.Decimal
	Itemized  decimal.Decimal
}

func (e *MissingMismatchError) Error() string {
	return fmt.Sprintf("itemized missing quantity %s kg does not match recorded missing quantity %s kg",
		e.Itemized.String(), e.Recorded.String())
}

func (e *MissingMismatchError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsRetryable returns true if the caller may retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailure)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInvalidState, KindInsufficientStock:
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
