package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/fulfillment"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTasks struct{}

func (nopTasks) DispatchTask(context.Context, fulfillment.Task) error { return nil }

type brokenCatalog struct{}

func (brokenCatalog) ListProducts(context.Context) ([]orders.Product, error) {
	return nil, errors.New("connection reset by peer")
}

func newTestRouter(t *testing.T, catalog ProductLister) *chi.Mux {
	t.Helper()
	store := memstore.New()
	store.PutProduct(orders.Product{ID: "P", SKU: "SKU-P", Name: "Kettle", SellerID: "s1", PriceCents: 100, Stock: 5})

	registry, err := fraud.NewRegistry()
	require.NoError(t, err)
	inv := inventory.NewManager(store, nil)
	machine := orders.NewMachine(store, orders.DefaultEffects(orders.EffectPolicy{
		Splitter: pricing.NewCommission(store, decimal.RequireFromString("0.10")),
	}), nil)

	svc := checkout.NewService(checkout.Deps{
		Orders:    store,
		Validator: orders.NewValidator(store),
		Machine:   machine,
		Inventory: inv,
		Scorer:    fraud.NewScorer(registry, fraud.DefaultPolicy(), nil),
		Pricing:   pricing.NewCalculator(pricing.DefaultPolicy(), store, nil),
		Scheduler: fulfillment.NewScheduler(nopTasks{}, nil),
		Customers: store,
	}, checkout.Options{PaymentTimeout: time.Second})

	if catalog == nil {
		catalog = store
	}
	r := NewRouter(nil)
	(&OrdersHandler{Svc: svc, Catalog: catalog}).Register(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func codSubmission(key string, qty int) orders.Submission {
	return orders.Submission{
		IdempotencyKey: key,
		CustomerID:     "c1",
		Items:          []orders.SubmissionItem{{ProductID: "P", Quantity: qty}},
		Shipping: orders.Address{
			Name: "Ann", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		PaymentMethod: orders.PaymentCOD,
	}
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestRouter(t, nil), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSubmitOrder(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := do(t, r, http.MethodPost, "/orders", codSubmission("k1", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp submitResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, checkout.OutcomeConfirmed, resp.Outcome)
	assert.NotEmpty(t, resp.CorrelationID)
	require.NotNil(t, resp.Order)
	assert.Equal(t, orders.StatusConfirmed, resp.Order.Status)
	assert.Equal(t, "192.0.2.1", resp.Order.OriginIP)

	again := do(t, r, http.MethodPost, "/orders", codSubmission("k1", 2))
	require.Equal(t, http.StatusOK, again.Code)
	var dup submitResp
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &dup))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, resp.Order.ID, dup.Order.ID)

	id := resp.Order.ID
	rec = do(t, r, http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/orders/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, statusResp{OrderID: id, Status: orders.StatusConfirmed}, st)

	rec = do(t, r, http.MethodGet, "/orders/"+id+"/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []orders.StatusHistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, orders.StatusConfirmed, hist[1].Status)

	rec = do(t, r, http.MethodGet, "/orders/"+id+"/transitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next []orders.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.Equal(t, orders.Next(orders.StatusConfirmed), next)
}

func TestSubmitOrder_Rejections(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := do(t, r, http.MethodPost, "/orders", codSubmission("k1", 50))
	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, checkout.ReasonInsufficientStock, body.Error)
	require.Len(t, body.Shortages, 1)
	assert.Equal(t, 5, body.Shortages[0].Available)
	require.NotNil(t, body.Log)
	assert.Equal(t, checkout.OutcomeRejected, body.Log.Outcome)

	bad := codSubmission("k2", 1)
	bad.CustomerID = ""
	rec = do(t, r, http.MethodPost, "/orders", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = errorResp{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, checkout.ReasonValidationFailed, body.Error)
	assert.Contains(t, body.Fields, orders.FieldError{Field: "customer_id", Reason: "required"})

	rec = do(t, r, http.MethodPost, "/orders", map[string]any{"customer_id": "c1", "surprise": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionAndCancel(t *testing.T) {
	r := newTestRouter(t, nil)
	rec := do(t, r, http.MethodPost, "/orders", codSubmission("k1", 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp submitResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp.Order.ID

	rec = do(t, r, http.MethodPost, "/orders/"+id+"/status", transitionReq{To: orders.StatusDelivered, Actor: "ops"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, checkout.ReasonIllegalTransition, body.Error)
	assert.Equal(t, orders.Next(orders.StatusConfirmed), body.Allowed)

	rec = do(t, r, http.MethodPost, "/orders/"+id+"/status", transitionReq{To: "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/orders/"+id+"/cancel", cancelReq{Reason: "changed mind", Actor: "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var o orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, orders.StatusCancelled, o.Status)

	rec = do(t, r, http.MethodPost, "/orders/"+id+"/review", reviewReq{Approved: true, Reviewer: "ops"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = errorResp{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, checkout.ReasonRejected, body.Error)
}

func TestNotFoundAndUnavailable(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := do(t, r, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/submissions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodPost, "/submissions", codSubmission("k1", 1))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInternalErrorIsOpaque(t *testing.T) {
	r := newTestRouter(t, brokenCatalog{})

	rec := do(t, r, http.MethodGet, "/products", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
	var body errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, checkout.ReasonInternal, body.Error)
	assert.NotEmpty(t, body.RequestID)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		reason string
		want   int
	}{
		{checkout.ReasonValidationFailed, http.StatusBadRequest},
		{checkout.ReasonInsufficientStock, http.StatusConflict},
		{checkout.ReasonFraudBlocked, http.StatusUnprocessableEntity},
		{checkout.ReasonPaymentFailed, http.StatusPaymentRequired},
		{checkout.ReasonNotFound, http.StatusNotFound},
		{checkout.ReasonInternal, http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.reason), tt.reason)
	}
}
