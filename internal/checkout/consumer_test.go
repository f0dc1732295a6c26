package checkout_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDedup struct {
	mu     sync.Mutex
	seen   map[string]bool
	forgot []string
}

func (d *memDedup) MarkOnce(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	d.forgot = append(d.forgot, id)
	return nil
}

func envelope(t *testing.T, eventID, eventType string, p orders.OrderSubmittedPayload) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	b, err := json.Marshal(orders.Envelope{EventID: eventID, EventType: eventType, EventVersion: 1, Payload: raw})
	require.NoError(t, err)
	return b
}

func TestSubmissionHandler_ProcessesOnce(t *testing.T) {
	h := newHarness(t)
	dedup := &memDedup{seen: map[string]bool{}}
	handler := checkout.NewSubmissionHandler(h.svc, dedup, nil)
	ctx := context.Background()

	msg := envelope(t, "evt-1", orders.EventOrderSubmitted, orders.OrderSubmittedPayload{
		CorrelationID: "corr-1",
		Submission:    submission("", orders.PaymentCOD, 2),
	})
	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, handler.Handle(ctx, msg))

	assert.Equal(t, 3, h.stock(t, "P").Stock)
	l, err := h.svc.Submission(ctx, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, checkout.OutcomeConfirmed, l.Outcome)
	assert.NotEmpty(t, l.OrderID)
}

func TestSubmissionHandler_BusinessRejectionIsFinal(t *testing.T) {
	h := newHarness(t)
	dedup := &memDedup{seen: map[string]bool{}}
	handler := checkout.NewSubmissionHandler(h.svc, dedup, nil)

	msg := envelope(t, "evt-2", orders.EventOrderSubmitted, orders.OrderSubmittedPayload{
		CorrelationID: "corr-2",
		Submission:    submission("", orders.PaymentCOD, 50),
	})
	require.NoError(t, handler.Handle(context.Background(), msg))
	assert.Empty(t, dedup.forgot)

	l, err := h.svc.Submission(context.Background(), "corr-2")
	require.NoError(t, err)
	assert.Equal(t, checkout.OutcomeRejected, l.Outcome)
	assert.Equal(t, checkout.ReasonInsufficientStock, l.ReasonCode)
}

func TestSubmissionHandler_FaultIsRedelivered(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) {
		c.confirm = func(context.Context, *orders.Transition) error {
			return errors.New("ledger unavailable")
		}
	})
	dedup := &memDedup{seen: map[string]bool{}}
	handler := checkout.NewSubmissionHandler(h.svc, dedup, nil)

	msg := envelope(t, "evt-3", orders.EventOrderSubmitted, orders.OrderSubmittedPayload{
		CorrelationID: "corr-3",
		Submission:    submission("", orders.PaymentCOD, 1),
	})
	require.Error(t, handler.Handle(context.Background(), msg))
	assert.Equal(t, []string{"evt-3"}, dedup.forgot)
	assert.Equal(t, 5, h.stock(t, "P").Stock)
}

func TestSubmissionHandler_IgnoresForeignAndMalformed(t *testing.T) {
	h := newHarness(t)
	handler := checkout.NewSubmissionHandler(h.svc, nil, nil)

	assert.NoError(t, handler.Handle(context.Background(), []byte("{not json")))
	other := envelope(t, "evt-4", orders.EventOrderConfirmed, orders.OrderSubmittedPayload{})
	assert.NoError(t, handler.Handle(context.Background(), other))
	assert.Equal(t, 5, h.stock(t, "P").Stock)
}
