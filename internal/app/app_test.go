package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/checkout"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedJSON = `{
  "sellers":  [{"id": "s1", "name": "Acme", "commission_rate": "0.15"}],
  "products": [{"id": "P", "sku": "SKU-P", "name": "Kettle", "seller_id": "s1", "price_cents": 2000, "stock": 4, "weight_grams": 800}],
  "coupons":  [{"code": "save10", "percent": "10", "min_subtotal_cents": 1000}]
}`

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(seedJSON), 0o600))
	return config.Config{
		Storage:        config.StorageMemory,
		ServiceName:    "order-test",
		CatalogSeed:    path,
		PaymentTimeout: time.Second,
		ReservationTTL: time.Minute,
		ReviewHold:     time.Hour,
		ReturnWindow:   14 * 24 * time.Hour,
		DeliveryETA:    5 * 24 * time.Hour,
		CarrierETA:     3 * 24 * time.Hour,
		DefaultCarrier: "standard",
		CommissionRate: decimal.RequireFromString("0.10"),
		Pricing:        pricing.DefaultPolicy(),
		Fraud:          fraud.DefaultPolicy(),
	}
}

func TestBuildMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Seed(ctx))

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Dispatch)

	res, err := a.Service.SubmitOrder(ctx, orders.Submission{
		IdempotencyKey: "k1",
		CustomerID:     "c1",
		Items:          []orders.SubmissionItem{{ProductID: "P", Quantity: 2}},
		Shipping: orders.Address{
			Name: "Ann", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		PaymentMethod: orders.PaymentCOD,
		CouponCode:    "SAVE10",
	})
	require.NoError(t, err)
	assert.Equal(t, checkout.OutcomeConfirmed, res.Log.Outcome)
	assert.Equal(t, int64(4000), res.Order.Pricing.SubtotalCents)
	assert.Equal(t, "SAVE10", res.Order.Pricing.CouponCode)
	require.Len(t, res.Order.Splits, 1)
	assert.Equal(t, int64(600), res.Order.Splits[0].CommissionCents)

	lvl, err := a.Inventory.StockLevel(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 2, lvl.Stock)
}

func TestBuildRejectsUnknownStorage(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage = "cassette"
	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestSeedMissingFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.CatalogSeed = filepath.Join(t.TempDir(), "nope.json")
	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Error(t, a.Seed(context.Background()))
}

func TestMemorySweeperReclaimsExpiredHolds(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.ReservationTTL = time.Millisecond
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Seed(ctx))
	require.True(t, a.SweepsInProcess())

	_, err = a.Inventory.Reserve(ctx, []inventory.Line{{ProductID: "P", Quantity: 3}})
	require.NoError(t, err)

	sweeper := a.Sweeper()
	require.Eventually(t, func() bool { return sweeper.RunOnce(ctx) == 1 }, time.Second, 5*time.Millisecond)

	lvl, err := a.Inventory.StockLevel(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 4, lvl.Stock)
	assert.Equal(t, 0, lvl.Reserved)
}

func TestSweepsInProcessOnlyForMemory(t *testing.T) {
	assert.True(t, (&App{Config: config.Config{Storage: config.StorageMemory}}).SweepsInProcess())
	assert.False(t, (&App{Config: config.Config{Storage: config.StoragePostgres}}).SweepsInProcess())
}
