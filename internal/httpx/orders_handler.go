package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net"
	"net/http"
	"time"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 3 * time.Second
)

// ProductLister backs the catalog listing.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type OrdersHandler struct {
	Svc     *checkout.Service
	Catalog ProductLister
	Log     *zap.Logger
}

type submitResp struct {
	Order         *orders.Order `json:"order"`
	Outcome       string        `json:"outcome"`
	CorrelationID string        `json:"correlation_id"`
	Duplicate     bool          `json:"duplicate"`
}

type enqueueResp struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

type statusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

type transitionReq struct {
	To             orders.Status   `json:"to"`
	Reason         string          `json:"reason"`
	Actor          string          `json:"actor"`
	Payment        *orders.Payment `json:"payment,omitempty"`
	Carrier        string          `json:"carrier,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
}

type cancelReq struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type returnReq struct {
	Items  []orders.ReturnItem `json:"items"`
	Reason string              `json:"reason"`
	Actor  string              `json:"actor"`
}

type reviewReq struct {
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Post("/orders", h.submitOrder)
	r.Post("/submissions", h.enqueueSubmission)
	r.Get("/submissions/{id}", h.getSubmission)
	r.Get("/products", h.listProducts)

	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/status", h.getStatus)
		r.Get("/timeline", h.getTimeline)
		r.Get("/transitions", h.getTransitions)
		r.Post("/status", h.transition)
		r.Post("/cancel", h.cancelOrder)
		r.Post("/returns", h.requestReturn)
		r.Post("/refund", h.refund)
		r.Post("/review", h.review)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *OrdersHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.readSubmission(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	res, err := h.Svc.SubmitOrder(ctx, sub)
	if err != nil {
		writeError(w, r, h.Log, err, res)
		return
	}

	code := http.StatusCreated
	switch {
	case res.Duplicate:
		code = http.StatusOK
	case res.Log.Outcome == checkout.OutcomePendingReview:
		code = http.StatusAccepted
	}
	writeJSON(w, code, submitResp{
		Order:         res.Order,
		Outcome:       res.Log.Outcome,
		CorrelationID: res.Log.CorrelationID,
		Duplicate:     res.Duplicate,
	})
}

func (h *OrdersHandler) enqueueSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.readSubmission(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	id, err := h.Svc.EnqueueSubmission(ctx, sub)
	if errors.Is(err, checkout.ErrQueueNotConfigured) {
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: checkout.ReasonInternal, Message: err.Error()})
		return
	}
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	w.Header().Set("Location", "/submissions/"+id)
	writeJSON(w, http.StatusAccepted, enqueueResp{CorrelationID: id, Status: checkout.OutcomeQueued})
}

// readSubmission decodes the body and fills the origin address from the
// connection when the client did not send one.
func (h *OrdersHandler) readSubmission(w http.ResponseWriter, r *http.Request) (orders.Submission, bool) {
	var sub orders.Submission
	if err := decode(r, &sub); err != nil {
		badRequest(w, "invalid json")
		return sub, false
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && sub.IdempotencyKey == "" {
		sub.IdempotencyKey = key
	}
	if sub.OriginIP == "" {
		sub.OriginIP = clientIP(r)
	}
	return sub, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *OrdersHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	l, err := h.Svc.Submission(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	st, err := h.Svc.OrderStatus(ctx, orderID)
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: orderID, Status: st})
}

func (h *OrdersHandler) getTimeline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	hist, err := h.Svc.Timeline(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *OrdersHandler) getTransitions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	next, err := h.Svc.AllowedTransitions(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	if next == nil {
		next = []orders.Status{}
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if !req.To.Valid() {
		badRequest(w, "unknown status")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	o, err := h.Svc.TransitionStatus(ctx, chi.URLParam(r, "id"), orders.TransitionRequest{
		To:             req.To,
		Reason:         req.Reason,
		Actor:          req.Actor,
		Payment:        req.Payment,
		Carrier:        req.Carrier,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	o, err := h.Svc.CancelOrder(ctx, chi.URLParam(r, "id"), req.Reason, req.Actor)
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) requestReturn(w http.ResponseWriter, r *http.Request) {
	var req returnReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	o, err := h.Svc.RequestReturn(ctx, chi.URLParam(r, "id"), orders.ReturnRequest{
		Items:  req.Items,
		Reason: req.Reason,
	}, req.Actor)
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	o, err := h.Svc.RefundOrder(ctx, chi.URLParam(r, "id"), req.Reason, req.Actor)
	if err != nil {
		writeError(w, r, h.Log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) review(w http.ResponseWriter, r *http.Request) {
	var req reviewReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Reviewer == "" {
		badRequest(w, "reviewer is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	res, err := h.Svc.ReviewFraud(ctx, chi.URLParam(r, "id"), orders.FraudReview{
		Approved: req.Approved,
		Reviewer: req.Reviewer,
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, r, h.Log, err, res)
		return
	}
	writeJSON(w, http.StatusOK, submitResp{
		Order:         res.Order,
		Outcome:       res.Log.Outcome,
		CorrelationID: res.Log.CorrelationID,
	})
}
