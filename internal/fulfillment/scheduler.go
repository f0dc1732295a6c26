package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"sort"
	"time"
)

var ErrNotConfirmed = errors.New("fulfillment needs a confirmed order")

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PriorityFor is the inverse of fraud risk: trusted orders ship first.
func PriorityFor(level orders.RiskLevel) Priority {
	switch level {
	case orders.RiskLow:
		return PriorityHigh
	case orders.RiskHigh:
		return PriorityLow
	}
	return PriorityNormal
}

type TaskItem struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Task is one seller's share of an order to pick, pack and hand to a carrier.
type Task struct {
	TaskID    string         `json:"task_id"`
	OrderID   string         `json:"order_id"`
	SellerID  string         `json:"seller_id"`
	Items     []TaskItem     `json:"items"`
	Priority  Priority       `json:"priority"`
	Shipping  orders.Address `json:"shipping"`
	CreatedAt time.Time      `json:"created_at"`
}

type TaskDispatcher interface {
	DispatchTask(ctx context.Context, t Task) error
}

type Scheduler struct {
	dispatcher TaskDispatcher
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewScheduler(d TaskDispatcher, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{dispatcher: d, log: log, now: time.Now, newID: uuid.NewString}
}

// Plan partitions the order by seller. Tasks come out sorted by seller id.
func (s *Scheduler) Plan(o *orders.Order) []Task {
	bySeller := make(map[string][]TaskItem)
	for _, it := range o.Items {
		bySeller[it.SellerID] = append(bySeller[it.SellerID], TaskItem{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
		})
	}
	sellers := make([]string, 0, len(bySeller))
	for id := range bySeller {
		sellers = append(sellers, id)
	}
	sort.Strings(sellers)

	prio := PriorityFor(o.Fraud.Level)
	at := s.now().UTC()
	tasks := make([]Task, 0, len(sellers))
	for _, seller := range sellers {
		tasks = append(tasks, Task{
			TaskID:    s.newID(),
			OrderID:   o.ID,
			SellerID:  seller,
			Items:     bySeller[seller],
			Priority:  prio,
			Shipping:  o.Shipping,
			CreatedAt: at,
		})
	}
	return tasks
}

// Schedule dispatches one task per seller. Every task is attempted once; failures
// are joined and returned, nothing is retried here.
func (s *Scheduler) Schedule(ctx context.Context, o *orders.Order) ([]Task, error) {
	if o.Status != orders.StatusConfirmed {
		return nil, fmt.Errorf("%w: order %s is %s", ErrNotConfirmed, o.ID, o.Status)
	}
	tasks := s.Plan(o)
	var errs []error
	for _, t := range tasks {
		if err := s.dispatcher.DispatchTask(ctx, t); err != nil {
			s.log.Warn("fulfillment task dispatch failed",
				zap.String("order_id", o.ID),
				zap.String("seller_id", t.SellerID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("seller %s: %w", t.SellerID, err))
			continue
		}
		s.log.Debug("fulfillment task dispatched",
			zap.String("order_id", o.ID),
			zap.String("task_id", t.TaskID),
			zap.String("priority", string(t.Priority)),
		)
	}
	return tasks, errors.Join(errs...)
}
