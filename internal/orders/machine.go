package orders

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"go.uber.org/zap"
	"time"
)

const defaultTransitionAttempts = 3

// TransitionRequest asks for a status change. The optional fields feed the
// side effect of the destination status.
type TransitionRequest struct {
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`

	Payment         *Payment       `json:"payment,omitempty"`
	Review          *FraudReview   `json:"review,omitempty"`
	Carrier         string         `json:"carrier,omitempty"`
	TrackingNumber  string         `json:"tracking_number,omitempty"`
	Return          *ReturnRequest `json:"return,omitempty"`
	RefundReference string         `json:"refund_reference,omitempty"`
}

// Transition is the unit of work an Effect operates on.
type Transition struct {
	Order   *Order
	From    Status
	Request TransitionRequest
	At      time.Time
	Changes Changes
}

// Effect runs when an order enters a status. It mutates t.Order and may request
// inventory changes through t.Changes; returning an error aborts the transition.
type Effect func(ctx context.Context, t *Transition) error

// Machine is the only entry point that changes an order's status.
type Machine struct {
	store    Store
	effects  map[Status]Effect
	attempts int
	now      func() time.Time
	log      *zap.Logger
}

type MachineOption func(*Machine)

func WithMachineClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

func WithTransitionAttempts(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func NewMachine(store Store, effects map[Status]Effect, log *zap.Logger, opts ...MachineOption) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Machine{
		store:    store,
		effects:  make(map[Status]Effect, len(effects)),
		attempts: defaultTransitionAttempts,
		now:      time.Now,
		log:      log,
	}
	for s, e := range effects {
		m.effects[s] = e
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register attaches an effect to a destination status, replacing any previous one.
// It is not safe to call concurrently with Transition.
func (m *Machine) Register(s Status, e Effect) {
	m.effects[s] = e
}

// Prepare validates req against the transition table and computes the next revision
// of o without persisting anything. o itself is never modified.
func (m *Machine) Prepare(ctx context.Context, o *Order, req TransitionRequest) (*Order, Changes, error) {
	if !req.To.Valid() || !CanTransition(o.Status, req.To) {
		return nil, Changes{}, &IllegalTransitionError{OrderID: o.ID, From: o.Status, To: req.To}
	}

	t := &Transition{
		Order:   o.Clone(),
		From:    o.Status,
		Request: req,
		At:      m.now().UTC(),
	}
	if effect, ok := m.effects[req.To]; ok {
		if err := effect(ctx, t); err != nil {
			return nil, Changes{}, err
		}
	}

	next := t.Order
	if is, ok := itemStatusFor(req.To); ok {
		for i := range next.Items {
			next.Items[i].Status = is
		}
	}
	next.Status = req.To
	next.History = append(next.History, StatusHistoryEntry{
		Status: req.To,
		At:     t.At,
		Reason: req.Reason,
		Actor:  req.Actor,
	})
	next.UpdatedAt = t.At

	if !next.Pricing.Balanced() {
		return nil, Changes{}, ErrUnbalancedPricing
	}
	return next, t.Changes, nil
}

// Transition loads the order, applies req and persists status, history and side
// effect writes as one unit. Concurrent writers are detected by version; the loser
// reloads and re-validates against the fresh status.
func (m *Machine) Transition(ctx context.Context, orderID string, req TransitionRequest) (*Order, error) {
	log := m.log.With(zap.String("order_id", orderID), zap.String("to", string(req.To)))

	for attempt := 1; ; attempt++ {
		cur, err := m.store.Get(ctx, orderID)
		if err != nil {
			return nil, Persistence("load order", err)
		}

		next, changes, err := m.Prepare(ctx, cur, req)
		if err != nil {
			if errors.Is(err, ErrIllegalTransition) {
				log.Error("illegal status transition rejected",
					zap.String("from", string(cur.Status)),
					zap.String("actor", req.Actor),
					zap.Int("version", cur.Version),
				)
			}
			return nil, err
		}

		err = m.store.Update(ctx, next, cur.Version, changes)
		switch {
		case err == nil:
			log.Info("order status changed",
				zap.String("from", string(cur.Status)),
				zap.String("actor", req.Actor),
				zap.Int("version", next.Version),
			)
			return next, nil
		case errors.Is(err, ErrVersionConflict) && attempt < m.attempts:
			log.Debug("version conflict, reloading", zap.Int("attempt", attempt))
			continue
		case errors.Is(err, inventory.ErrReservationNotFound),
			errors.Is(err, inventory.ErrReservationExpired),
			errors.Is(err, ErrVersionConflict):
			return nil, err
		default:
			log.Error("persist transition", zap.Error(err))
			return nil, Persistence("update order", err)
		}
	}
}
