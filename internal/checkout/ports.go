package checkout

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"time"
)

type PaymentGateway interface {
	Capture(ctx context.Context, r payment.CaptureRequest) (payment.Receipt, error)
	Refund(ctx context.Context, r payment.RefundRequest) (payment.Receipt, error)
}

// Notifier emits order events. Delivery is fire-and-forget; a failure never
// changes the outcome of the operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, eventType string, p orders.OrderEventPayload) error
}

type CustomerDirectory interface {
	CustomerHistory(ctx context.Context, customerID string) (fraud.CustomerHistory, error)
}

type StepLogStore interface {
	SaveStepLog(ctx context.Context, l StepLog) error
	StepLog(ctx context.Context, correlationID string) (StepLog, error)
}

// IdempotencyStore guards a submission key while its pipeline runs.
type IdempotencyStore interface {
	Claim(ctx context.Context, key, owner string) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// StatusCache is a read-through cache of the current status of an order.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, s orders.Status, at time.Time) error
	Status(ctx context.Context, orderID string) (orders.Status, bool, error)
}

// SubmissionQueue hands a submission to the asynchronous pipeline.
type SubmissionQueue interface {
	EnqueueSubmission(ctx context.Context, p orders.OrderSubmittedPayload) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, orders.OrderEventPayload) error { return nil }

type nopCustomers struct{}

func (nopCustomers) CustomerHistory(context.Context, string) (fraud.CustomerHistory, error) {
	return fraud.CustomerHistory{}, nil
}

type nopStepLogs struct{}

func (nopStepLogs) SaveStepLog(context.Context, StepLog) error { return nil }

func (nopStepLogs) StepLog(context.Context, string) (StepLog, error) {
	return StepLog{}, ErrStepLogNotFound
}

type nopClaims struct{}

func (nopClaims) Claim(context.Context, string, string) (bool, error) { return true, nil }
func (nopClaims) Release(context.Context, string, string) error        { return nil }

type nopStatuses struct{}

func (nopStatuses) SetStatus(context.Context, string, orders.Status, time.Time) error { return nil }

func (nopStatuses) Status(context.Context, string) (orders.Status, bool, error) {
	return "", false, nil
}
