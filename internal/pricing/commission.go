package pricing

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
	"sort"
)

// RateSource returns a seller-specific commission override, if any.
type RateSource interface {
	CommissionRate(ctx context.Context, sellerID string) (rate decimal.Decimal, ok bool, err error)
}

// Commission computes per-seller splits.
type Commission struct {
	rates       RateSource
	defaultRate decimal.Decimal
}

func NewCommission(rates RateSource, defaultRate decimal.Decimal) *Commission {
	return &Commission{rates: rates, defaultRate: defaultRate}
}

// Splits groups items by seller. Commission is rounded to the minor unit and net is
// derived by subtraction, so commission + net always equals gross.
func (c *Commission) Splits(ctx context.Context, items []orders.OrderItem) ([]orders.Split, error) {
	gross := make(map[string]int64)
	for _, it := range items {
		gross[it.SellerID] += it.TotalCents()
	}
	sellers := make([]string, 0, len(gross))
	for s := range gross {
		sellers = append(sellers, s)
	}
	sort.Strings(sellers)

	splits := make([]orders.Split, 0, len(sellers))
	for _, seller := range sellers {
		rate := c.defaultRate
		if c.rates != nil {
			r, ok, err := c.rates.CommissionRate(ctx, seller)
			if err != nil {
				return nil, fmt.Errorf("commission rate for seller %s: %w", seller, err)
			}
			if ok {
				rate = r
			}
		}
		g := gross[seller]
		commission := applyRate(g, rate)
		splits = append(splits, orders.Split{
			SellerID:        seller,
			GrossCents:      g,
			CommissionRate:  rate,
			CommissionCents: commission,
			NetCents:        g - commission,
		})
	}
	return splits, nil
}
