package inventory

import (
	"context"
	"time"
)

// Store is the durable owner of product stock counters and reservation records.
// Every mutation of stock/reserved stock goes through a Store.
type Store interface {
	// Reserve verifies every item against available stock and applies all decrements
	// as one unit. On any shortage nothing is written and *InsufficientStockError is returned.
	Reserve(ctx context.Context, r Reservation) error

	// Release restores stock for every item of the reservation and removes the record.
	// It reports false when the reservation no longer exists.
	Release(ctx context.Context, id string) (bool, error)

	// Extend moves the expiry of an active reservation.
	Extend(ctx context.Context, id string, until time.Time) error

	// Reservation returns an active reservation.
	Reservation(ctx context.Context, id string) (Reservation, error)

	// ExpiredReservations returns up to limit reservation ids that expired before the given time.
	ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]string, error)

	// StockLevel returns the current counters of a product.
	StockLevel(ctx context.Context, productID string) (StockLevel, error)
}
