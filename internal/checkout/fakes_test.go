package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/fulfillment"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakePayments struct {
	mu         sync.Mutex
	captureErr error
	refundErr  error
	captures   []payment.CaptureRequest
	refunds    []payment.RefundRequest

	// onCapture runs before a capture is recorded, outside the lock.
	onCapture func(payment.CaptureRequest)
}

func (f *fakePayments) Capture(_ context.Context, r payment.CaptureRequest) (payment.Receipt, error) {
	if f.onCapture != nil {
		f.onCapture(r)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, r)
	if f.captureErr != nil {
		return payment.Receipt{}, f.captureErr
	}
	return payment.Receipt{ReferenceID: "cap-" + r.OrderID, AmountCents: r.AmountCents, ProcessedAt: t0}, nil
}

func (f *fakePayments) Refund(_ context.Context, r payment.RefundRequest) (payment.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, r)
	if f.refundErr != nil {
		return payment.Receipt{}, f.refundErr
	}
	return payment.Receipt{ReferenceID: "ref-" + r.OrderID, AmountCents: r.AmountCents, ProcessedAt: t0}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, _ orders.OrderEventPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type taskRecorder struct {
	mu    sync.Mutex
	tasks []fulfillment.Task
}

func (r *taskRecorder) DispatchTask(_ context.Context, t fulfillment.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

type memLogs struct {
	mu   sync.Mutex
	logs map[string]checkout.StepLog
}

func (m *memLogs) SaveStepLog(_ context.Context, l checkout.StepLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.CorrelationID] = l
	return nil
}

func (m *memLogs) StepLog(_ context.Context, id string) (checkout.StepLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return checkout.StepLog{}, checkout.ErrStepLogNotFound
	}
	return l, nil
}

type busyClaims struct{}

func (busyClaims) Claim(context.Context, string, string) (bool, error) { return false, nil }
func (busyClaims) Release(context.Context, string, string) error        { return nil }

// downClaims behaves like an unreachable claim store.
type downClaims struct{}

func (downClaims) Claim(context.Context, string, string) (bool, error) {
	return false, errors.New("claim store unreachable")
}
func (downClaims) Release(context.Context, string, string) error { return nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock   *testClock
	deps    checkout.Deps
	opts    checkout.Options
	store   *memstore.Store
	inv     *inventory.Manager
	machine *orders.Machine
	svc     *checkout.Service
	pay     *fakePayments
	notes   *recordingNotifier
	tasks   *taskRecorder
	logs    *memLogs
}

type harnessConfig struct {
	fraudScore int
	claims     checkout.IdempotencyStore
	queue      checkout.SubmissionQueue
	confirm    orders.Effect
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, o := range opts {
		o(&cfg)
	}
	tc := &testClock{now: t0}
	clock := tc.Now

	store := memstore.New().WithClock(clock)
	store.PutProduct(orders.Product{ID: "P", SKU: "SKU-P", Name: "Kettle", SellerID: "s1", PriceCents: 100, Stock: 5})
	store.PutProduct(orders.Product{ID: "Q", SKU: "SKU-Q", Name: "Mug", SellerID: "s2", PriceCents: 40, Stock: 10})

	registry, err := fraud.NewRegistry(fraud.Rule{
		Name:   "fixed",
		Weight: cfg.fraudScore,
		Evaluate: func(context.Context, *orders.Order, fraud.Context) (bool, error) {
			return true, nil
		},
	})
	require.NoError(t, err)

	calc := pricing.NewCalculator(pricing.Policy{
		Currency:                   "USD",
		TaxRate:                    decimal.RequireFromString("0.10"),
		PlatformFeeRate:            decimal.RequireFromString("0.02"),
		FreeShippingThresholdCents: 1_000_000,
		ShippingBaseFeeCents:       50,
		IncludedWeightGrams:        1000,
		MaxDiscountRate:            decimal.RequireFromString("0.30"),
	}, store, nil)

	inv := inventory.NewManager(store, nil, inventory.WithClock(clock))
	effects := orders.DefaultEffects(orders.EffectPolicy{
		Splitter: pricing.NewCommission(store, decimal.RequireFromString("0.10")),
	})
	machine := orders.NewMachine(store, effects, nil, orders.WithMachineClock(clock))
	if cfg.confirm != nil {
		machine.Register(orders.StatusConfirmed, cfg.confirm)
	}

	h := &harness{
		clock:   tc,
		store:   store,
		inv:     inv,
		machine: machine,
		pay:     &fakePayments{},
		notes:   &recordingNotifier{},
		tasks:   &taskRecorder{},
		logs:    &memLogs{logs: make(map[string]checkout.StepLog)},
	}
	h.deps = checkout.Deps{
		Orders:    store,
		Validator: orders.NewValidator(store),
		Machine:   machine,
		Inventory: inv,
		Scorer:    fraud.NewScorer(registry, fraud.DefaultPolicy(), nil),
		Pricing:   calc,
		Scheduler: fulfillment.NewScheduler(h.tasks, nil),
		Payments:  h.pay,
		Notifier:  h.notes,
		Customers: store,
		StepLogs:  h.logs,
		Claims:    cfg.claims,
		Queue:     cfg.queue,
	}
	h.opts = checkout.Options{PaymentTimeout: time.Second, ReviewHold: 6 * time.Hour}
	h.svc = checkout.NewService(h.deps, h.opts)
	return h
}

// replica is a second orchestrator over the same store, like another API instance.
func (h *harness) replica() *checkout.Service {
	return checkout.NewService(h.deps, h.opts)
}

func withFraudScore(n int) func(*harnessConfig) {
	return func(c *harnessConfig) { c.fraudScore = n }
}

func submission(key string, method orders.PaymentMethod, qty int) orders.Submission {
	return orders.Submission{
		IdempotencyKey: key,
		CustomerID:     "c1",
		Items:          []orders.SubmissionItem{{ProductID: "P", Quantity: qty}},
		Shipping: orders.Address{
			Name: "Ann", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		PaymentMethod: method,
		OriginIP:      "10.0.0.1",
	}
}

func (h *harness) stock(t *testing.T, id string) inventory.StockLevel {
	t.Helper()
	l, err := h.inv.StockLevel(context.Background(), id)
	require.NoError(t, err)
	return l
}

func stepNames(l checkout.StepLog) []string {
	out := make([]string, 0, len(l.Steps))
	for _, s := range l.Steps {
		out = append(out, s.Name)
	}
	return out
}
