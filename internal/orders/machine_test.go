package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixedSplitter struct{ calls int }

func (f *fixedSplitter) Splits(_ context.Context, items []orders.OrderItem) ([]orders.Split, error) {
	f.calls++
	var gross int64
	for _, it := range items {
		gross += it.TotalCents()
	}
	return []orders.Split{{
		SellerID:        "s1",
		GrossCents:      gross,
		CommissionRate:  decimal.RequireFromString("0.1"),
		CommissionCents: gross / 10,
		NetCents:        gross - gross/10,
	}}, nil
}

type env struct {
	store    *memstore.Store
	inv      *inventory.Manager
	machine  *orders.Machine
	splitter *fixedSplitter
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: memstore.New(), splitter: &fixedSplitter{}, now: t0}
	clock := func() time.Time { return e.now }
	e.store.WithClock(clock)
	e.store.PutProduct(orders.Product{ID: "P", SellerID: "s1", PriceCents: 100, Stock: 5})
	e.store.PutProduct(orders.Product{ID: "Q", SellerID: "s1", PriceCents: 250, Stock: 5})
	e.inv = inventory.NewManager(e.store, nil, inventory.WithClock(clock))
	effects := orders.DefaultEffects(orders.EffectPolicy{
		Splitter:       e.splitter,
		TrackingNumber: func() string { return "TRK1" },
	})
	e.machine = orders.NewMachine(e.store, effects, nil, orders.WithMachineClock(clock))
	return e
}

// pendingOrder reserves 2xP and 1xQ and persists a pending order holding the reservation.
func (e *env) pendingOrder(t *testing.T, method orders.PaymentMethod) *orders.Order {
	t.Helper()
	ctx := context.Background()
	r, err := e.inv.Reserve(ctx, []inventory.Line{{ProductID: "P", Quantity: 2}, {ProductID: "Q", Quantity: 1}})
	require.NoError(t, err)

	o := &orders.Order{
		ID:         "o-" + r.ID[:8],
		CustomerID: "c1",
		Items: []orders.OrderItem{
			{ProductID: "P", SellerID: "s1", UnitPriceCents: 100, Quantity: 2, Status: orders.ItemPending},
			{ProductID: "Q", SellerID: "s1", UnitPriceCents: 250, Quantity: 1, Status: orders.ItemPending},
		},
		Payment:       orders.Payment{Method: method, Status: orders.PaymentPending},
		Pricing:       orders.Pricing{Currency: "USD", SubtotalCents: 450, ShippingCents: 50, TotalCents: 500},
		Status:        orders.InitialStatus,
		History:       []orders.StatusHistoryEntry{{Status: orders.InitialStatus, At: e.now}},
		ReservationID: r.ID,
		CreatedAt:     e.now,
		UpdatedAt:     e.now,
	}
	require.NoError(t, e.store.Create(ctx, o))
	return o
}

func captured(amount int64) *orders.Payment {
	at := t0
	return &orders.Payment{ReferenceID: "pay-1", CapturedCents: amount, CapturedAt: &at}
}

func (e *env) stock(t *testing.T, id string) inventory.StockLevel {
	t.Helper()
	l, err := e.inv.StockLevel(context.Background(), id)
	require.NoError(t, err)
	return l
}

func (e *env) move(t *testing.T, id string, path ...orders.Status) *orders.Order {
	t.Helper()
	var o *orders.Order
	for _, s := range path {
		var err error
		o, err = e.machine.Transition(context.Background(), id, orders.TransitionRequest{To: s, Actor: "test"})
		require.NoError(t, err, "to %s", s)
	}
	return o
}

func TestTransition_IllegalLeavesOrderUnchanged(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)

	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusShipped})
	require.ErrorIs(t, err, orders.ErrIllegalTransition)

	got, err := e.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, got.History, 1)
}

func TestTransition_UnknownOrder(t *testing.T) {
	e := newEnv(t)
	_, err := e.machine.Transition(context.Background(), "missing", orders.TransitionRequest{To: orders.StatusConfirmed})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestConfirm_CommitsReservationAndSplits(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCard)

	got, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To:      orders.StatusConfirmed,
		Payment: captured(500),
	})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, orders.PaymentCaptured, got.Payment.Status)
	assert.True(t, got.InventoryCommitted)
	require.Len(t, got.Splits, 1)
	assert.Equal(t, got.Splits[0].GrossCents, got.Splits[0].CommissionCents+got.Splits[0].NetCents)
	require.NotNil(t, got.Shipment.EstimatedDelivery)
	assert.Equal(t, t0.Add(orders.DefaultDeliveryEstimate), *got.Shipment.EstimatedDelivery)
	for _, it := range got.Items {
		assert.Equal(t, orders.ItemConfirmed, it.Status)
	}
	require.Len(t, got.History, 2)
	assert.Equal(t, orders.StatusConfirmed, got.History[1].Status)

	p := e.stock(t, "P")
	assert.Equal(t, 3, p.Stock)
	assert.Equal(t, 0, p.Reserved)
	_, err = e.store.Reservation(context.Background(), o.ReservationID)
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}

func TestConfirm_CardRequiresCapture(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCard)

	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusConfirmed})
	require.ErrorIs(t, err, orders.ErrPaymentNotCaptured)
	assert.Equal(t, 2, e.stock(t, "P").Reserved)
}

func TestConfirm_CashOnDeliveryStaysPending(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)

	got := e.move(t, o.ID, orders.StatusConfirmed)
	assert.Equal(t, orders.PaymentPending, got.Payment.Status)
}

func TestConfirm_ReviewGate(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	o.Fraud = orders.FraudCheck{Score: 35, Level: orders.RiskMedium, RequiresReview: true}
	require.NoError(t, e.store.Update(context.Background(), o, o.Version, orders.Changes{}))

	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusConfirmed})
	require.ErrorIs(t, err, orders.ErrReviewRequired)

	got, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To:     orders.StatusConfirmed,
		Review: &orders.FraudReview{Approved: true, Reviewer: "ops", ReviewedAt: t0},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Fraud.Review)
	assert.Equal(t, "ops", got.Fraud.Review.Reviewer)
}

func TestConfirm_ExpiredReservationAborts(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	e.now = e.now.Add(inventory.DefaultTTL + time.Minute)

	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusConfirmed})
	require.ErrorIs(t, err, inventory.ErrReservationExpired)

	got, err := e.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestCancel_BeforeConfirmReleasesReservation(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	assert.Equal(t, 3, e.stock(t, "P").Stock)

	got := e.move(t, o.ID, orders.StatusCancelled)

	assert.Nil(t, got.Refund)
	p := e.stock(t, "P")
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, 0, p.Reserved)
	for _, it := range got.Items {
		assert.Equal(t, orders.ItemCancelled, it.Status)
	}
}

func TestCancel_AfterConfirmRestocksAndOpensRefund(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCard)
	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To: orders.StatusConfirmed, Payment: captured(500),
	})
	require.NoError(t, err)

	got, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To: orders.StatusCancelled, Reason: "customer request",
	})
	require.NoError(t, err)

	assert.True(t, got.InventoryRestored)
	assert.Equal(t, 5, e.stock(t, "P").Stock)
	assert.Equal(t, 5, e.stock(t, "Q").Stock)
	require.NotNil(t, got.Refund)
	assert.Equal(t, orders.RefundOpen, got.Refund.Status)
	assert.Equal(t, int64(500), got.Refund.AmountCents)

	got, err = e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To: orders.StatusRefunded, RefundReference: "rf-1",
	})
	require.NoError(t, err)
	assert.Equal(t, orders.RefundClosed, got.Refund.Status)
	assert.Equal(t, int64(500), got.Refund.RefundedCents)
	assert.Equal(t, "rf-1", got.Refund.ReferenceID)
	assert.Equal(t, orders.PaymentRefunded, got.Payment.Status)
	assert.Equal(t, got.Splits[0].GrossCents, got.Splits[0].RefundedCents)
	assert.True(t, orders.IsTerminal(got.Status))
}

func TestRefund_NothingDue(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	e.move(t, o.ID, orders.StatusCancelled)

	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusRefunded})
	assert.ErrorIs(t, err, orders.ErrNothingToRefund)
}

func TestShipAndDeliver(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	e.move(t, o.ID, orders.StatusConfirmed, orders.StatusPreparing, orders.StatusReadyToShip)

	e.now = t0.Add(time.Hour)
	got, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To: orders.StatusShipped, Carrier: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRK1", got.Shipment.TrackingNumber)
	assert.Equal(t, "acme", got.Shipment.Carrier)
	assert.Equal(t, t0.Add(time.Hour+orders.DefaultCarrierETA), *got.Shipment.EstimatedDelivery)

	e.now = t0.Add(49 * time.Hour)
	got = e.move(t, o.ID, orders.StatusInTransit, orders.StatusDelivered)
	assert.Equal(t, 48*time.Hour, got.Shipment.DeliveryDuration)
	assert.Equal(t, e.now.Add(orders.DefaultReturnWindow), *got.Shipment.ReturnEligibleUntil)
	assert.Len(t, got.History, 7)
	for _, it := range got.Items {
		assert.Equal(t, orders.ItemDelivered, it.Status)
	}
}

func TestReturnFlow(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCard)
	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To: orders.StatusConfirmed, Payment: captured(500),
	})
	require.NoError(t, err)
	e.move(t, o.ID, orders.StatusPreparing, orders.StatusReadyToShip, orders.StatusShipped, orders.StatusDelivered)

	_, err = e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To:     orders.StatusReturnRequested,
		Return: &orders.ReturnRequest{Items: []orders.ReturnItem{{ProductID: "P", Quantity: 3}}},
	})
	require.ErrorIs(t, err, orders.ErrReturnNotAllowed)

	got, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To: orders.StatusReturnRequested,
		Return: &orders.ReturnRequest{
			Reason: "damaged",
			Items:  []orders.ReturnItem{{ProductID: "P", Quantity: 1}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Return)
	assert.Equal(t, "damaged", got.Return.Reason)

	got = e.move(t, o.ID,
		orders.StatusReturnApproved,
		orders.StatusReturnPickedUp,
		orders.StatusReturnInTransit,
		orders.StatusReturnDelivered,
	)
	p, _ := got.Item("P")
	q, _ := got.Item("Q")
	assert.Equal(t, orders.ItemReturned, p.Status)
	assert.Equal(t, orders.ItemDelivered, q.Status)

	got = e.move(t, o.ID, orders.StatusRefunded)
	assert.Equal(t, int64(100), got.Refund.RefundedCents)
	assert.Equal(t, "damaged", got.Refund.Reason)
	assert.NotNil(t, got.Return.ClosedAt)
	assert.Equal(t, orders.PaymentPartiallyRefunded, got.Payment.Status)
	assert.Equal(t, int64(100), got.Splits[0].RefundedCents)
}

func TestReturn_WindowClosed(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	e.move(t, o.ID, orders.StatusConfirmed, orders.StatusPreparing, orders.StatusReadyToShip,
		orders.StatusShipped, orders.StatusDelivered)

	e.now = e.now.Add(orders.DefaultReturnWindow + time.Hour)
	_, err := e.machine.Transition(context.Background(), o.ID, orders.TransitionRequest{
		To:     orders.StatusReturnRequested,
		Return: &orders.ReturnRequest{Items: []orders.ReturnItem{{ProductID: "P", Quantity: 1}}},
	})
	assert.ErrorIs(t, err, orders.ErrReturnNotAllowed)
}

// racingStore bumps the stored version right before the first update, as a
// concurrent writer would.
type racingStore struct {
	*memstore.Store
	raced bool
	race  orders.Status
}

func (s *racingStore) Update(ctx context.Context, o *orders.Order, v int, ch orders.Changes) error {
	if !s.raced {
		s.raced = true
		cur, err := s.Store.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		cur.Status = s.race
		if err := s.Store.Update(ctx, cur, cur.Version, orders.Changes{}); err != nil {
			return err
		}
	}
	return s.Store.Update(ctx, o, v, ch)
}

func TestTransition_VersionConflictReloadsAndRechecks(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)
	e.move(t, o.ID, orders.StatusConfirmed)

	rs := &racingStore{Store: e.store, race: orders.StatusPreparing}
	m := orders.NewMachine(rs, orders.DefaultEffects(orders.EffectPolicy{}), nil)

	got, err := m.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, 4, got.Version)

	rs = &racingStore{Store: e.store, race: orders.StatusShipped}
	m = orders.NewMachine(rs, nil, nil)
	_, err = m.Transition(context.Background(), o.ID, orders.TransitionRequest{To: orders.StatusRefunded})
	assert.ErrorIs(t, err, orders.ErrIllegalTransition)
}

func TestPrepare_DoesNotMutateInput(t *testing.T) {
	e := newEnv(t)
	o := e.pendingOrder(t, orders.PaymentCOD)

	next, ch, err := e.machine.Prepare(context.Background(), o, orders.TransitionRequest{To: orders.StatusConfirmed})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Len(t, o.History, 1)
	assert.Empty(t, o.Splits)
	assert.Equal(t, orders.StatusConfirmed, next.Status)
	assert.Equal(t, o.ReservationID, ch.CommitReservation)
	assert.Equal(t, 1, e.splitter.calls)
}
