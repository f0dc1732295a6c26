package app

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/shopspring/decimal"
	"os"
)

// Catalog is the layout of a CATALOG_SEED file.
type Catalog struct {
	Sellers  []Seller         `json:"sellers"`
	Products []orders.Product `json:"products"`
	Coupons  []pricing.Coupon `json:"coupons"`
}

type Seller struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type seeder interface {
	PutSeller(ctx context.Context, id, name string, rate *decimal.Decimal) error
	PutProduct(ctx context.Context, p orders.Product) error
	PutCoupon(ctx context.Context, c pricing.Coupon) error
}

func seedFile(ctx context.Context, s seeder, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var c Catalog
	if err := json.Unmarshal(b, &c); err != nil {
		return 0, err
	}
	return seedCatalog(ctx, s, c)
}

// seedCatalog writes sellers before products so foreign keys resolve.
func seedCatalog(ctx context.Context, s seeder, c Catalog) (int, error) {
	n := 0
	for _, sl := range c.Sellers {
		if err := s.PutSeller(ctx, sl.ID, sl.Name, sl.CommissionRate); err != nil {
			return n, err
		}
		n++
	}
	for _, p := range c.Products {
		if err := s.PutProduct(ctx, p); err != nil {
			return n, err
		}
		n++
	}
	for _, cp := range c.Coupons {
		if err := s.PutCoupon(ctx, cp); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type memSeeder struct{ s *memstore.Store }

func (m memSeeder) PutSeller(_ context.Context, id, _ string, rate *decimal.Decimal) error {
	if rate != nil {
		m.s.SetCommissionRate(id, *rate)
	}
	return nil
}

func (m memSeeder) PutProduct(_ context.Context, p orders.Product) error {
	m.s.PutProduct(p)
	return nil
}

func (m memSeeder) PutCoupon(_ context.Context, c pricing.Coupon) error {
	m.s.PutCoupon(c)
	return nil
}
