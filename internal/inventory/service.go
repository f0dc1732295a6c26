package inventory

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"time"
)

const (
	defaultReserveAttempts = 3
	defaultRetryBackoff    = 25 * time.Millisecond
)

// Manager is the reservation manager. It is the only component that creates or
// releases reservations outside of an order status transition.
type Manager struct {
	store    Store
	ttl      time.Duration
	attempts int
	backoff  time.Duration
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		m.backoff = backoff
	}
}

func NewManager(store Store, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:    store,
		ttl:      DefaultTTL,
		attempts: defaultReserveAttempts,
		backoff:  defaultRetryBackoff,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Reserve holds stock for the full list of lines or for none of them.
// Lines for the same product are merged.
func (m *Manager) Reserve(ctx context.Context, lines []Line) (Reservation, error) {
	items, err := mergeLines(lines)
	if err != nil {
		return Reservation{}, err
	}

	now := m.now().UTC()
	r := Reservation{
		ID:        m.newID(),
		Items:     items,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	for attempt := 1; ; attempt++ {
		err = m.store.Reserve(ctx, r)
		if err == nil {
			m.log.Debug("stock reserved", zap.String("reservation_id", r.ID), zap.Int("lines", len(items)))
			return r, nil
		}
		if !errors.Is(err, ErrContention) || attempt >= m.attempts {
			return Reservation{}, err
		}
		m.log.Debug("reserve contention, retrying", zap.String("reservation_id", r.ID), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return Reservation{}, ctx.Err()
		case <-time.After(m.backoff * time.Duration(attempt)):
		}
	}
}

// Release gives the held stock back. Releasing an unknown, expired or already
// released reservation is a no-op.
func (m *Manager) Release(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	released, err := m.store.Release(ctx, id)
	if err != nil {
		return fmt.Errorf("release reservation %s: %w", id, err)
	}
	if released {
		m.log.Info("reservation released", zap.String("reservation_id", id))
	}
	return nil
}

// Hold extends an active reservation so that it outlives the default TTL,
// e.g. while the order waits for a manual fraud review.
func (m *Manager) Hold(ctx context.Context, id string, d time.Duration) (time.Time, error) {
	until := m.now().UTC().Add(d)
	if err := m.store.Extend(ctx, id, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// Reservation returns an active reservation; an expired one is reported as ErrReservationExpired.
func (m *Manager) Reservation(ctx context.Context, id string) (Reservation, error) {
	r, err := m.store.Reservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if r.Expired(m.now()) {
		return r, ErrReservationExpired
	}
	return r, nil
}

func (m *Manager) StockLevel(ctx context.Context, productID string) (StockLevel, error) {
	return m.store.StockLevel(ctx, productID)
}

// Sweep releases one batch of reservations past their expiry and returns how many it released.
func (m *Manager) Sweep(ctx context.Context, batch int) (int, error) {
	ids, err := m.store.ExpiredReservations(ctx, m.now().UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	released := 0
	var errs []error
	for _, id := range ids {
		ok, err := m.store.Release(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
			continue
		}
		if ok {
			released++
			m.log.Info("expired reservation reclaimed", zap.String("reservation_id", id))
		}
	}
	return released, errors.Join(errs...)
}

func mergeLines(lines []Line) (Items, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrInvalidQuantity)
	}
	items := make(Items, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s x %d", ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
		items[l.ProductID] += l.Quantity
	}
	return items, nil
}
