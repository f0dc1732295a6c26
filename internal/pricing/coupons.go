package pricing

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"time"
)

var ErrCouponNotFound = errors.New("coupon not found")

// Coupon is either a percentage (Percent) or a fixed amount (AmountCents) off the items total.
type Coupon struct {
	Code             string          `json:"code"`
	Percent          decimal.Decimal `json:"percent"`
	AmountCents      int64           `json:"amount_cents"`
	MinSubtotalCents int64           `json:"min_subtotal_cents"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
}

func (c Coupon) Eligible(subtotal int64, now time.Time) bool {
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return subtotal >= c.MinSubtotalCents
}

func (c Coupon) Discount(subtotal int64) int64 {
	d := c.AmountCents
	if !c.Percent.IsZero() {
		d += applyRate(subtotal, c.Percent.Div(decimal.NewFromInt(100)))
	}
	return d
}

type CouponBook interface {
	Lookup(ctx context.Context, code string) (Coupon, error)
}
