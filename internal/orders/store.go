package orders

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

// Changes are the inventory writes a transition needs. A Store applies them in the
// same atomic unit as the order update, so a crash can never leave the status
// changed without the matching stock movement.
type Changes struct {
	// CommitReservation promotes a reservation to a sale: reserved stock is
	// dropped, the stock decrement stays and the record is removed.
	CommitReservation string
	// ReleaseReservation restores stock held by a reservation. Missing is a no-op.
	ReleaseReservation string
	// Restock returns already committed quantities to stock.
	Restock inventory.Items
}

func (c Changes) Empty() bool {
	return c.CommitReservation == "" && c.ReleaseReservation == "" && len(c.Restock) == 0
}

type Store interface {
	// Create persists a new order at version 1. A second order with the same
	// ExternalID returns ErrAlreadyExists.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*Order, error)
	// Update writes o if the stored version still equals expectedVersion, appends the
	// history entries o has beyond the stored ones, and applies ch. On success o.Version
	// is the new version. A stale version returns ErrVersionConflict and writes nothing.
	Update(ctx context.Context, o *Order, expectedVersion int, ch Changes) error
}

// Catalog resolves products at order time.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (Product, error)
}
