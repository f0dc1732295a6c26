package pricing

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"strings"
	"time"
)

// Policy holds the platform pricing constants. Amounts are minor units.
type Policy struct {
	Currency string

	TaxRate         decimal.Decimal
	PlatformFeeRate decimal.Decimal

	FreeShippingThresholdCents int64
	ShippingBaseFeeCents       int64
	IncludedWeightGrams        int
	SurchargePerKgCents        int64
	// ZoneMultipliers keyed by upper-case country code; missing countries use 1.
	ZoneMultipliers map[string]decimal.Decimal

	NewCustomerDiscountRate decimal.Decimal
	MaxDiscountRate         decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		Currency:                   "USD",
		TaxRate:                    decimal.RequireFromString("0.10"),
		PlatformFeeRate:            decimal.RequireFromString("0.02"),
		FreeShippingThresholdCents: 10_000,
		ShippingBaseFeeCents:       500,
		IncludedWeightGrams:        1000,
		SurchargePerKgCents:        200,
		ZoneMultipliers:            map[string]decimal.Decimal{},
		NewCustomerDiscountRate:    decimal.RequireFromString("0.05"),
		MaxDiscountRate:            decimal.RequireFromString("0.30"),
	}
}

type QuoteInput struct {
	Items       []orders.OrderItem
	Destination orders.Address
	CouponCode  string
	NewCustomer bool
}

// Calculator computes the full price breakdown of an order.
type Calculator struct {
	policy  Policy
	coupons CouponBook
	log     *zap.Logger
	now     func() time.Time
}

func NewCalculator(policy Policy, coupons CouponBook, log *zap.Logger) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.ZoneMultipliers == nil {
		policy.ZoneMultipliers = map[string]decimal.Decimal{}
	}
	return &Calculator{policy: policy, coupons: coupons, log: log, now: time.Now}
}

// Quote returns a balanced breakdown: total = items + shipping + tax + fee - discount, floored at zero.
// An unknown or ineligible coupon contributes nothing; lookup faults are returned.
func (c *Calculator) Quote(ctx context.Context, in QuoteInput) (orders.Pricing, error) {
	p := orders.Pricing{Currency: c.policy.Currency}

	var weight int
	for _, it := range in.Items {
		p.SubtotalCents += it.TotalCents()
		weight += it.WeightGrams * it.Quantity
	}
	p.ShippingCents = c.Shipping(p.SubtotalCents, weight, in.Destination.Country)
	p.TaxCents = applyRate(p.SubtotalCents, c.policy.TaxRate)
	p.PlatformFeeCents = applyRate(p.SubtotalCents, c.policy.PlatformFeeRate)

	discount, code, err := c.discount(ctx, p.SubtotalCents, in)
	if err != nil {
		return orders.Pricing{}, err
	}
	p.CouponCode = code

	gross := p.SubtotalCents + p.ShippingCents + p.TaxCents + p.PlatformFeeCents
	if discount > gross {
		discount = gross
	}
	p.DiscountCents = discount
	p.TotalCents = gross - discount
	return p, nil
}

// Shipping is free above the threshold, otherwise base fee plus a surcharge per
// started kilogram above the included weight, scaled by the destination multiplier.
func (c *Calculator) Shipping(subtotal int64, weightGrams int, country string) int64 {
	if c.policy.FreeShippingThresholdCents > 0 && subtotal > c.policy.FreeShippingThresholdCents {
		return 0
	}
	fee := c.policy.ShippingBaseFeeCents
	if extra := weightGrams - c.policy.IncludedWeightGrams; extra > 0 {
		kgs := int64((extra + 999) / 1000)
		fee += kgs * c.policy.SurchargePerKgCents
	}
	mult, ok := c.policy.ZoneMultipliers[strings.ToUpper(country)]
	if !ok {
		return fee
	}
	return applyRate(fee, mult)
}

func (c *Calculator) discount(ctx context.Context, subtotal int64, in QuoteInput) (int64, string, error) {
	var total int64
	var applied string

	if code := strings.TrimSpace(in.CouponCode); code != "" && c.coupons != nil {
		cp, err := c.coupons.Lookup(ctx, strings.ToUpper(code))
		switch {
		case errors.Is(err, ErrCouponNotFound):
			c.log.Info("coupon ignored", zap.String("coupon", code))
		case err != nil:
			return 0, "", err
		case !cp.Eligible(subtotal, c.now()):
			c.log.Info("coupon not eligible", zap.String("coupon", code))
		default:
			total += cp.Discount(subtotal)
			applied = cp.Code
		}
	}
	if in.NewCustomer {
		total += applyRate(subtotal, c.policy.NewCustomerDiscountRate)
	}

	if limit := applyRate(subtotal, c.policy.MaxDiscountRate); !c.policy.MaxDiscountRate.IsZero() && total > limit {
		total = limit
	}
	if total > subtotal {
		total = subtotal
	}
	return total, applied, nil
}

// applyRate multiplies minor units by a rate, rounding half away from zero.
func applyRate(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}
