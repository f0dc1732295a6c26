package fraud

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"sync"
)

var ErrDuplicateRule = errors.New("fraud rule already registered")

// CustomerHistory is what the customer directory knows about past orders.
type CustomerHistory struct {
	OrderCount     int      `json:"order_count"`
	OrdersLast24h  int      `json:"orders_last_24h"`
	RecentOrderIPs []string `json:"recent_order_ips"`
}

// Context is the submission context rules are evaluated against.
type Context struct {
	OriginIP      string
	OriginCountry string
	History       CustomerHistory
	// HistoryErr is set when the customer directory lookup failed. Rules that
	// depend on history return it so they are recorded as skipped.
	HistoryErr error
}

// Rule is one independent, named signal. Weight is added to the score when Evaluate returns true.
type Rule struct {
	Name     string
	Weight   int
	Evaluate func(ctx context.Context, o *orders.Order, c Context) (bool, error)
}

// Registry is an open set of rules. Adding a rule never changes the scorer.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
	names map[string]struct{}
}

func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{})}
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(rule Rule) error {
	if rule.Name == "" || rule.Evaluate == nil {
		return fmt.Errorf("fraud rule needs a name and an evaluate func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[rule.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name)
	}
	r.names[rule.Name] = struct{}{}
	r.rules = append(r.rules, rule)
	return nil
}

// Rules returns a snapshot in registration order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}
