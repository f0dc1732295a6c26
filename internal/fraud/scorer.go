package fraud

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.uber.org/zap"
	"time"
)

// Weights are the score contributions of the built-in rules.
type Weights struct {
	HighValue       int
	Velocity        int
	NewCustomer     int
	UnfamiliarIP    int
	BulkQuantity    int
	CountryMismatch int
}

// Policy holds tunable platform thresholds. None of the numbers carry meaning
// beyond platform policy.
type Policy struct {
	MediumAt    int // score at which risk becomes medium
	HighAbove   int // score above which risk is high
	ReviewAbove int // score above which manual review is required
	BlockAt     int // score at which checkout is refused

	HighValueCents int64
	VelocityLimit  int
	BulkQuantity   int
	Weights        Weights
}

func DefaultPolicy() Policy {
	return Policy{
		MediumAt:       20,
		HighAbove:      50,
		ReviewAbove:    30,
		BlockAt:        80,
		HighValueCents: 1_000_000,
		VelocityLimit:  3,
		BulkQuantity:   20,
		Weights: Weights{
			HighValue:       25,
			Velocity:        30,
			NewCustomer:     10,
			UnfamiliarIP:    15,
			BulkQuantity:    15,
			CountryMismatch: 20,
		},
	}
}

func (p Policy) Level(score int) orders.RiskLevel {
	switch {
	case score > p.HighAbove:
		return orders.RiskHigh
	case score >= p.MediumAt:
		return orders.RiskMedium
	default:
		return orders.RiskLow
	}
}

type Scorer struct {
	registry *Registry
	policy   Policy
	log      *zap.Logger
	now      func() time.Time
}

func NewScorer(registry *Registry, policy Policy, log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{registry: registry, policy: policy, log: log, now: time.Now}
}

// Score evaluates every registered rule. A failing rule contributes zero and is
// listed in Skipped; it never blocks checkout.
func (s *Scorer) Score(ctx context.Context, o *orders.Order, c Context) orders.FraudCheck {
	fc := orders.FraudCheck{CheckedAt: s.now().UTC()}
	for _, rule := range s.registry.Rules() {
		hit, err := evaluate(ctx, rule, o, c)
		if err != nil {
			s.log.Warn("fraud rule skipped",
				zap.String("rule", rule.Name),
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
			fc.Skipped = append(fc.Skipped, rule.Name)
			continue
		}
		if hit {
			fc.Score += rule.Weight
			fc.Triggered = append(fc.Triggered, rule.Name)
		}
	}
	fc.Level = s.policy.Level(fc.Score)
	fc.RequiresReview = fc.Score > s.policy.ReviewAbove
	fc.Blocked = s.policy.BlockAt > 0 && fc.Score >= s.policy.BlockAt
	return fc
}

func evaluate(ctx context.Context, rule Rule, o *orders.Order, c Context) (hit bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			hit, err = false, fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Evaluate(ctx, o, c)
}
