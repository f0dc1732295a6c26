package pricing

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rateMap map[string]decimal.Decimal

func (m rateMap) CommissionRate(_ context.Context, seller string) (decimal.Decimal, bool, error) {
	r, ok := m[seller]
	return r, ok, nil
}

func TestSplits_GroupBySellerWithOverrides(t *testing.T) {
	c := NewCommission(rateMap{"s2": decimal.RequireFromString("0.05")}, decimal.RequireFromString("0.10"))

	splits, err := c.Splits(context.Background(), []orders.OrderItem{
		{ProductID: "a", SellerID: "s2", UnitPriceCents: 1000, Quantity: 1},
		{ProductID: "b", SellerID: "s1", UnitPriceCents: 333, Quantity: 3},
		{ProductID: "c", SellerID: "s2", UnitPriceCents: 250, Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, splits, 2)

	assert.Equal(t, "s1", splits[0].SellerID)
	assert.Equal(t, int64(999), splits[0].GrossCents)
	assert.Equal(t, int64(100), splits[0].CommissionCents)
	assert.Equal(t, int64(899), splits[0].NetCents)

	assert.Equal(t, "s2", splits[1].SellerID)
	assert.Equal(t, int64(1500), splits[1].GrossCents)
	assert.True(t, decimal.RequireFromString("0.05").Equal(splits[1].CommissionRate))
	assert.Equal(t, int64(75), splits[1].CommissionCents)
	assert.Equal(t, int64(1425), splits[1].NetCents)
}

func TestSplits_NoLeakage(t *testing.T) {
	c := NewCommission(nil, decimal.RequireFromString("0.127"))
	var items []orders.OrderItem
	for i := 1; i <= 40; i++ {
		items = append(items, orders.OrderItem{
			ProductID:      string(rune('a' + i%26)),
			SellerID:       []string{"s1", "s2", "s3"}[i%3],
			UnitPriceCents: int64(97 * i),
			Quantity:       i%4 + 1,
		})
	}

	splits, err := c.Splits(context.Background(), items)
	require.NoError(t, err)

	var gross, parts int64
	for _, s := range splits {
		assert.Equal(t, s.GrossCents, s.CommissionCents+s.NetCents)
		gross += s.GrossCents
		parts += s.CommissionCents + s.NetCents
	}
	assert.Equal(t, gross, parts)
}
