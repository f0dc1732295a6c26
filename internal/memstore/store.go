package memstore

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/shopspring/decimal"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store keeps orders, stock, reservations and reference data in process memory.
// A single mutex guards everything, so an order update and the stock movement it
// carries are applied as one unit.
type Store struct {
	mu sync.Mutex

	products     map[string]*orders.Product
	reservations map[string]inventory.Reservation
	orders       map[string]*orders.Order
	byExternalID map[string]string
	coupons      map[string]pricing.Coupon
	commission   map[string]decimal.Decimal

	now func() time.Time
}

func New() *Store {
	return &Store{
		products:     make(map[string]*orders.Product),
		reservations: make(map[string]inventory.Reservation),
		orders:       make(map[string]*orders.Order),
		byExternalID: make(map[string]string),
		coupons:      make(map[string]pricing.Coupon),
		commission:   make(map[string]decimal.Decimal),
		now:          time.Now,
	}
}

// WithClock replaces the clock used for customer history windows.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// PutProduct inserts or replaces a catalog product together with its stock counters.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = s.now().UTC()
	s.products[p.ID] = &p
}

func (s *Store) PutCoupon(c pricing.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = strings.ToUpper(c.Code)
	s.coupons[c.Code] = c
}

func (s *Store) SetCommissionRate(sellerID string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commission[sellerID] = rate
}

func (s *Store) GetProduct(_ context.Context, id string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return *p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Lookup(_ context.Context, code string) (pricing.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[strings.ToUpper(code)]
	if !ok {
		return pricing.Coupon{}, pricing.ErrCouponNotFound
	}
	return c, nil
}

func (s *Store) CommissionRate(_ context.Context, sellerID string) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.commission[sellerID]
	return r, ok, nil
}
