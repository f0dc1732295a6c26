package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderSubmitted      = "OrderSubmitted"
	EventOrderCreated        = "OrderCreated"
	EventOrderReviewRequired = "OrderReviewRequired"
	EventOrderConfirmed      = "OrderConfirmed"
	EventOrderCancelled      = "OrderCancelled"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventOrderRefunded       = "OrderRefunded"
	EventReturnRequested     = "ReturnRequested"
	EventFulfillmentTask     = "FulfillmentTaskCreated"
)

// EventForStatus returns the notification event emitted when an order enters s.
func EventForStatus(s Status) string {
	switch s {
	case StatusConfirmed:
		return EventOrderConfirmed
	case StatusCancelled:
		return EventOrderCancelled
	case StatusRefunded:
		return EventOrderRefunded
	case StatusReturnRequested:
		return EventReturnRequested
	}
	return EventOrderStatusChanged
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id, or submission correlation id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderEventPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Status     Status `json:"status,omitempty"`
	TotalCents int64  `json:"total_cents,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

type OrderSubmittedPayload struct {
	CorrelationID string     `json:"correlation_id"`
	Submission    Submission `json:"submission"`
}
