package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxLineQuantity bounds a single line of a submission.
const MaxLineQuantity = 1000

type SubmissionItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Submission is the raw checkout payload.
type Submission struct {
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CustomerID     string           `json:"customer_id"`
	Items          []SubmissionItem `json:"items"`
	Shipping       Address          `json:"shipping"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	CouponCode     string           `json:"coupon_code,omitempty"`
	OriginIP       string           `json:"origin_ip,omitempty"`
	OriginCountry  string           `json:"origin_country,omitempty"`
}

// Lines merges duplicate product lines, keeping first-seen order.
func (s Submission) Lines() []SubmissionItem {
	idx := make(map[string]int, len(s.Items))
	out := make([]SubmissionItem, 0, len(s.Items))
	for _, it := range s.Items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// Validator checks structural completeness of a submission before any side effect.
type Validator struct {
	catalog Catalog
}

func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate returns the resolved products keyed by id, or a *ValidationError listing every
// field-level reason. Catalog faults other than not-found are returned as PersistenceError.
func (v *Validator) Validate(ctx context.Context, s Submission) (map[string]Product, error) {
	verr := &ValidationError{}

	if strings.TrimSpace(s.CustomerID) == "" {
		verr.add("customer_id", "required")
	}
	if s.PaymentMethod == "" {
		verr.add("payment_method", "required")
	} else if !s.PaymentMethod.Valid() {
		verr.add("payment_method", fmt.Sprintf("unsupported method %q", s.PaymentMethod))
	}
	validateAddress(verr, s.Shipping)

	products := make(map[string]Product, len(s.Items))
	if len(s.Items) == 0 {
		verr.add("items", "at least one item is required")
	}
	for i, it := range s.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.ProductID) == "" {
			verr.add(field+".product_id", "required")
			continue
		}
		if it.Quantity <= 0 {
			verr.add(field+".quantity", "must be a positive integer")
		} else if it.Quantity > MaxLineQuantity {
			verr.add(field+".quantity", fmt.Sprintf("must not exceed %d", MaxLineQuantity))
		}
		if _, seen := products[it.ProductID]; seen {
			continue
		}
		p, err := v.catalog.GetProduct(ctx, it.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			verr.add(field+".product_id", "unknown product "+it.ProductID)
			continue
		}
		if err != nil {
			return nil, Persistence("catalog lookup", err)
		}
		products[it.ProductID] = p
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return products, nil
}

func validateAddress(verr *ValidationError, a Address) {
	required := []struct {
		field, value string
	}{
		{"shipping.name", a.Name},
		{"shipping.line1", a.Line1},
		{"shipping.city", a.City},
		{"shipping.postal_code", a.PostalCode},
		{"shipping.country", a.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.add(r.field, "required")
		}
	}
}
