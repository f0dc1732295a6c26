package memstore

import (
	"context"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"time"
)

const recentIPLimit = 10

func (s *Store) Create(_ context.Context, o *orders.Order) error {
	if !o.Pricing.Balanced() {
		return orders.ErrUnbalancedPricing
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return orders.ErrAlreadyExists
	}
	if o.ExternalID != "" {
		if _, ok := s.byExternalID[o.ExternalID]; ok {
			return orders.ErrAlreadyExists
		}
		s.byExternalID[o.ExternalID] = o.ID
	}
	o.Version = 1
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *Store) GetByExternalID(_ context.Context, externalID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternalID[externalID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return s.orders[id].Clone(), nil
}

func (s *Store) Update(_ context.Context, o *orders.Order, expectedVersion int, ch orders.Changes) error {
	if !o.Pricing.Balanced() {
		return orders.ErrUnbalancedPricing
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return orders.ErrVersionConflict
	}

	// The commit is the only change that can fail, so it goes first.
	if ch.CommitReservation != "" {
		if err := s.commitLocked(ch.CommitReservation, s.now()); err != nil {
			return err
		}
	}
	if ch.ReleaseReservation != "" {
		s.releaseLocked(ch.ReleaseReservation)
	}
	if len(ch.Restock) > 0 {
		s.restockLocked(ch.Restock)
	}

	o.Version = expectedVersion + 1
	s.orders[o.ID] = o.Clone()
	return nil
}

// CustomerHistory derives the customer directory view from stored orders.
func (s *Store) CustomerHistory(_ context.Context, customerID string) (fraud.CustomerHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h fraud.CustomerHistory
	since := s.now().Add(-24 * time.Hour)
	seen := make(map[string]bool)
	for _, o := range s.orders {
		if o.CustomerID != customerID {
			continue
		}
		h.OrderCount++
		if o.CreatedAt.After(since) {
			h.OrdersLast24h++
		}
		if o.OriginIP != "" && !seen[o.OriginIP] && len(h.RecentOrderIPs) < recentIPLimit {
			seen[o.OriginIP] = true
			h.RecentOrderIPs = append(h.RecentOrderIPs, o.OriginIP)
		}
	}
	return h, nil
}
