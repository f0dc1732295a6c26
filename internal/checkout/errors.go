package checkout

import (
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

var (
	ErrFraudBlocked        = errors.New("order blocked by fraud screening")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrSubmissionInFlight  = errors.New("submission with this idempotency key is already being processed")
	ErrNoReviewPending     = errors.New("order is not waiting for a fraud review")
	ErrReviewInFlight      = errors.New("a review decision for this order is already being processed")
	ErrStepLogNotFound     = errors.New("submission log not found")
	ErrQueueNotConfigured  = errors.New("asynchronous submission is not configured")
	ErrPaymentNotAvailable = errors.New("no payment gateway configured")
)

// Reason codes returned to callers. They are stable and safe to expose.
const (
	ReasonValidationFailed   = "validation_failed"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonFraudBlocked       = "fraud_blocked"
	ReasonPaymentFailed      = "payment_failed"
	ReasonIllegalTransition  = "illegal_transition"
	ReasonReservationExpired = "reservation_expired"
	ReasonRejected           = "rejected"
	ReasonNotFound           = "not_found"
	ReasonConflict           = "conflict"
	ReasonInternal           = "internal_error"
)

// ReasonCode maps an error to its reason code. Unknown errors are internal.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, orders.ErrValidation), errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, orders.ErrProductNotFound):
		return ReasonValidationFailed
	case errors.Is(err, inventory.ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, ErrFraudBlocked):
		return ReasonFraudBlocked
	case errors.Is(err, ErrPaymentFailed), errors.Is(err, orders.ErrPaymentNotCaptured):
		return ReasonPaymentFailed
	case errors.Is(err, orders.ErrIllegalTransition):
		return ReasonIllegalTransition
	case errors.Is(err, inventory.ErrReservationExpired), errors.Is(err, inventory.ErrReservationNotFound):
		return ReasonReservationExpired
	case errors.Is(err, orders.ErrReviewRequired), errors.Is(err, orders.ErrReturnNotAllowed),
		errors.Is(err, orders.ErrNothingToRefund), errors.Is(err, ErrNoReviewPending):
		return ReasonRejected
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, ErrStepLogNotFound):
		return ReasonNotFound
	case errors.Is(err, orders.ErrVersionConflict), errors.Is(err, orders.ErrAlreadyExists),
		errors.Is(err, ErrSubmissionInFlight), errors.Is(err, ErrReviewInFlight):
		return ReasonConflict
	}
	return ReasonInternal
}

// IsBusiness reports whether err is an expected outcome rather than a fault.
func IsBusiness(err error) bool {
	switch ReasonCode(err) {
	case "", ReasonInternal:
		return false
	}
	return true
}
