package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is how long a reservation holds stock before the sweeper reclaims it.
const DefaultTTL = 30 * time.Minute

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	// ErrContention is returned by a Store when the write lost a race it may retry.
	ErrContention = errors.New("stock write contention")
)

// Items maps a product id to a quantity.
type Items map[string]int

// ProductIDs returns the keys in ascending order. Stores lock rows in this order.
func (it Items) ProductIDs() []string {
	ids := make([]string, 0, len(it))
	for id := range it {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Line is one requested product quantity.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Reservation is a time-bounded hold on stock, separate from the permanent sale decrement.
type Reservation struct {
	ID        string    `json:"id"`
	Items     Items     `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// StockLevel is the pair of complementary counters kept per product.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	Reserved  int    `json:"reserved_stock"`
}

type Shortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError lists every line of a reservation that could not be covered.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
