package orders

import (
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"strings"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrAlreadyExists      = errors.New("order already exists")
	ErrVersionConflict    = errors.New("order was modified concurrently")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrPersistence        = errors.New("persistence failure")
	ErrValidation         = errors.New("invalid order submission")
	ErrUnbalancedPricing  = errors.New("pricing breakdown does not balance")
	ErrReviewRequired     = errors.New("order requires fraud review before confirmation")
	ErrPaymentNotCaptured = errors.New("payment must be captured before confirmation")
	ErrReturnNotAllowed   = errors.New("return not allowed")
	ErrNothingToRefund    = errors.New("nothing to refund")

	// ErrProductNotFound is shared with the inventory store so catalog and stock lookups agree.
	ErrProductNotFound = inventory.ErrProductNotFound
)

// IllegalTransitionError is a contract violation between a caller and the transition table.
type IllegalTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s for order %s", e.From, e.To, e.OrderID)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries every field-level reason found in a submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid order submission: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// PersistenceError wraps a durable store fault.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence wraps err unless it is nil or already a domain error callers branch on.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
