package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"io"
	"net/http"
	"net/url"
	"time"
)

// default client timeout; callers usually pass a shorter deadline through ctx
const defaultTimeout = 10 * time.Second

var (
	// ErrDeclined is a definitive business rejection by the gateway.
	ErrDeclined    = errors.New("payment declined")
	ErrUnavailable = errors.New("payment gateway unavailable")
)

type CaptureRequest struct {
	OrderID        string               `json:"order_id"`
	CustomerID     string               `json:"customer_id"`
	Method         orders.PaymentMethod `json:"method"`
	AmountCents    int64                `json:"amount_cents"`
	Currency       string               `json:"currency"`
	IdempotencyKey string               `json:"idempotency_key"`
}

type RefundRequest struct {
	OrderID        string `json:"order_id"`
	ReferenceID    string `json:"reference_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Receipt is the gateway's answer to a successful capture or refund.
type Receipt struct {
	ReferenceID string    `json:"reference_id"`
	AmountCents int64     `json:"amount_cents"`
	ProcessedAt time.Time `json:"processed_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the payment gateway over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Capture charges the order total.
// 200 - captured
// 402 - declined
// 409 - same idempotency key with a different body
// 5xx - gateway fault
func (c *Client) Capture(ctx context.Context, r CaptureRequest) (Receipt, error) {
	// POST /v1/captures
	return c.post(ctx, r.IdempotencyKey, r, "v1", "captures")
}

// Refund returns money for a previous capture.
func (c *Client) Refund(ctx context.Context, r RefundRequest) (Receipt, error) {
	// POST /v1/refunds
	return c.post(ctx, r.IdempotencyKey, r, "v1", "refunds")
}

func (c *Client) post(ctx context.Context, idemKey string, body any, path ...string) (Receipt, error) {
	u, err := url.JoinPath(c.baseURL, path...)
	if err != nil {
		return Receipt{}, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var rc Receipt
		if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
			return Receipt{}, fmt.Errorf("decode receipt: %w", err)
		}
		if rc.ReferenceID == "" {
			return Receipt{}, errors.New("gateway receipt without reference id")
		}
		return rc, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return Receipt{}, fmt.Errorf("%w: %s", ErrDeclined, readReason(resp.Body))
	case resp.StatusCode >= 500:
		return Receipt{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return Receipt{}, fmt.Errorf("payment gateway: unexpected status %d: %s", resp.StatusCode, readReason(resp.Body))
	}
}

func readReason(r io.Reader) string {
	var er errorResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&er); err != nil {
		return "no reason given"
	}
	if er.Message != "" {
		return er.Message
	}
	return er.Code
}
