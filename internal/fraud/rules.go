package fraud

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"strings"
)

const (
	RuleHighValueOrder  = "high_value_order"
	RuleOrderVelocity   = "order_velocity"
	RuleNewCustomer     = "new_customer"
	RuleUnfamiliarIP    = "unfamiliar_origin_ip"
	RuleBulkQuantity    = "bulk_quantity"
	RuleCountryMismatch = "shipping_country_mismatch"
)

// DefaultRules builds the platform rule set from policy thresholds.
func DefaultRules(p Policy) []Rule {
	return []Rule{
		{
			Name:   RuleHighValueOrder,
			Weight: p.Weights.HighValue,
			Evaluate: func(_ context.Context, o *orders.Order, _ Context) (bool, error) {
				return o.ItemsTotalCents() > p.HighValueCents, nil
			},
		},
		{
			Name:   RuleOrderVelocity,
			Weight: p.Weights.Velocity,
			Evaluate: func(_ context.Context, _ *orders.Order, c Context) (bool, error) {
				if c.HistoryErr != nil {
					return false, c.HistoryErr
				}
				return c.History.OrdersLast24h > p.VelocityLimit, nil
			},
		},
		{
			Name:   RuleNewCustomer,
			Weight: p.Weights.NewCustomer,
			Evaluate: func(_ context.Context, _ *orders.Order, c Context) (bool, error) {
				if c.HistoryErr != nil {
					return false, c.HistoryErr
				}
				return c.History.OrderCount == 0, nil
			},
		},
		{
			Name:   RuleUnfamiliarIP,
			Weight: p.Weights.UnfamiliarIP,
			Evaluate: func(_ context.Context, _ *orders.Order, c Context) (bool, error) {
				if c.HistoryErr != nil {
					return false, c.HistoryErr
				}
				if c.OriginIP == "" || len(c.History.RecentOrderIPs) == 0 {
					return false, nil
				}
				for _, ip := range c.History.RecentOrderIPs {
					if ip == c.OriginIP {
						return false, nil
					}
				}
				return true, nil
			},
		},
		{
			Name:   RuleBulkQuantity,
			Weight: p.Weights.BulkQuantity,
			Evaluate: func(_ context.Context, o *orders.Order, _ Context) (bool, error) {
				for _, it := range o.Items {
					if it.Quantity > p.BulkQuantity {
						return true, nil
					}
				}
				return false, nil
			},
		},
		{
			Name:   RuleCountryMismatch,
			Weight: p.Weights.CountryMismatch,
			Evaluate: func(_ context.Context, o *orders.Order, c Context) (bool, error) {
				if c.OriginCountry == "" {
					return false, nil
				}
				return !strings.EqualFold(c.OriginCountry, o.Shipping.Country), nil
			},
		},
	}
}
