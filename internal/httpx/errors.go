package httpx

import (
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"net/http"
)

type errorResp struct {
	Error         string               `json:"error"`
	Message       string               `json:"message,omitempty"`
	Fields        []orders.FieldError  `json:"fields,omitempty"`
	Shortages     []inventory.Shortage `json:"shortages,omitempty"`
	Allowed       []orders.Status      `json:"allowed,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	RequestID     string               `json:"request_id,omitempty"`
	Log           *checkout.StepLog    `json:"log,omitempty"`
}

var statusByReason = map[string]int{
	checkout.ReasonValidationFailed:   http.StatusBadRequest,
	checkout.ReasonInsufficientStock:  http.StatusConflict,
	checkout.ReasonFraudBlocked:       http.StatusUnprocessableEntity,
	checkout.ReasonPaymentFailed:      http.StatusPaymentRequired,
	checkout.ReasonIllegalTransition:  http.StatusConflict,
	checkout.ReasonReservationExpired: http.StatusConflict,
	checkout.ReasonRejected:           http.StatusUnprocessableEntity,
	checkout.ReasonNotFound:           http.StatusNotFound,
	checkout.ReasonConflict:           http.StatusConflict,
}

// StatusFor maps a reason code to the HTTP status it is reported with.
func StatusFor(reason string) int {
	if code, ok := statusByReason[reason]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// writeError reports err by reason code. Internal faults are logged and the
// body carries nothing but the request id.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error, res *checkout.Result) {
	reason := checkout.ReasonCode(err)
	body := errorResp{Error: reason, RequestID: middleware.GetReqID(r.Context())}
	if res != nil && res.Log.CorrelationID != "" {
		body.CorrelationID = res.Log.CorrelationID
	}

	if reason == checkout.ReasonInternal {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", body.RequestID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	body.Message = err.Error()
	var verr *orders.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	var serr *inventory.InsufficientStockError
	if errors.As(err, &serr) {
		body.Shortages = serr.Shortages
	}
	var terr *orders.IllegalTransitionError
	if errors.As(err, &terr) {
		body.Allowed = orders.Next(terr.From)
	}
	if res != nil && len(res.Log.Steps) > 0 {
		l := res.Log
		body.Log = &l
	}
	writeJSON(w, StatusFor(reason), body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: checkout.ReasonValidationFailed, Message: msg})
}
