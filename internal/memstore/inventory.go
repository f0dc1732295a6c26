package memstore

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"sort"
	"time"
)

func (s *Store) Reserve(_ context.Context, r inventory.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: verify every line, second pass: apply.
	var short []inventory.Shortage
	for _, id := range r.Items.ProductIDs() {
		p, ok := s.products[id]
		if !ok {
			return inventory.ErrProductNotFound
		}
		if want := r.Items[id]; p.Stock < want {
			short = append(short, inventory.Shortage{ProductID: id, Requested: want, Available: p.Stock})
		}
	}
	if len(short) > 0 {
		return &inventory.InsufficientStockError{Shortages: short}
	}

	for id, qty := range r.Items {
		p := s.products[id]
		p.Stock -= qty
		p.ReservedStock += qty
	}
	s.reservations[r.ID] = copyReservation(r)
	return nil
}

func (s *Store) Release(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(id), nil
}

func (s *Store) Extend(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return inventory.ErrReservationNotFound
	}
	r.ExpiresAt = until
	s.reservations[id] = r
	return nil
}

func (s *Store) Reservation(_ context.Context, id string) (inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	return copyReservation(r), nil
}

func (s *Store) ExpiredReservations(_ context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.reservations {
		if r.Expired(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) StockLevel(_ context.Context, productID string) (inventory.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return inventory.StockLevel{}, inventory.ErrProductNotFound
	}
	return inventory.StockLevel{ProductID: p.ID, Stock: p.Stock, Reserved: p.ReservedStock}, nil
}

func (s *Store) releaseLocked(id string) bool {
	r, ok := s.reservations[id]
	if !ok {
		return false
	}
	for pid, qty := range r.Items {
		if p, ok := s.products[pid]; ok {
			p.Stock += qty
			p.ReservedStock -= qty
		}
	}
	delete(s.reservations, id)
	return true
}

// commitLocked turns a reservation into a sale. The stock decrement stays.
func (s *Store) commitLocked(id string, now time.Time) error {
	r, ok := s.reservations[id]
	if !ok {
		return inventory.ErrReservationNotFound
	}
	if r.Expired(now) {
		return inventory.ErrReservationExpired
	}
	for pid, qty := range r.Items {
		if p, ok := s.products[pid]; ok {
			p.ReservedStock -= qty
		}
	}
	delete(s.reservations, id)
	return nil
}

func (s *Store) restockLocked(items inventory.Items) {
	for pid, qty := range items {
		if p, ok := s.products[pid]; ok {
			p.Stock += qty
		}
	}
}

func copyReservation(r inventory.Reservation) inventory.Reservation {
	items := make(inventory.Items, len(r.Items))
	for k, v := range r.Items {
		items[k] = v
	}
	r.Items = items
	return r
}
