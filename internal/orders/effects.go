package orders

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/google/uuid"
	"strings"
	"time"
)

const (
	DefaultDeliveryEstimate = 5 * 24 * time.Hour
	DefaultCarrierETA       = 3 * 24 * time.Hour
	DefaultReturnWindow     = 14 * 24 * time.Hour
	DefaultCarrier          = "standard"
)

// Splitter computes per-seller commission splits for a set of items.
type Splitter interface {
	Splits(ctx context.Context, items []OrderItem) ([]Split, error)
}

// EffectPolicy configures the built-in side effects.
type EffectPolicy struct {
	DeliveryEstimate time.Duration
	CarrierETA       time.Duration
	ReturnWindow     time.Duration
	DefaultCarrier   string
	Splitter         Splitter
	TrackingNumber   func() string
}

// DefaultEffects returns the side-effect dispatch table keyed by destination status.
func DefaultEffects(p EffectPolicy) map[Status]Effect {
	if p.DeliveryEstimate <= 0 {
		p.DeliveryEstimate = DefaultDeliveryEstimate
	}
	if p.CarrierETA <= 0 {
		p.CarrierETA = DefaultCarrierETA
	}
	if p.ReturnWindow <= 0 {
		p.ReturnWindow = DefaultReturnWindow
	}
	if p.DefaultCarrier == "" {
		p.DefaultCarrier = DefaultCarrier
	}
	if p.TrackingNumber == nil {
		p.TrackingNumber = newTrackingNumber
	}
	return map[Status]Effect{
		StatusConfirmed:       p.confirmed,
		StatusShipped:         p.shipped,
		StatusDelivered:       p.delivered,
		StatusCancelled:       p.cancelled,
		StatusReturnRequested: p.returnRequested,
		StatusReturnDelivered: returnDelivered,
		StatusRefunded:        refunded,
	}
}

func (p EffectPolicy) confirmed(ctx context.Context, t *Transition) error {
	o := t.Order

	if t.Request.Review != nil {
		o.Fraud.Review = t.Request.Review
	}
	if o.Fraud.RequiresReview && (o.Fraud.Review == nil || !o.Fraud.Review.Approved) {
		return ErrReviewRequired
	}

	if pay := t.Request.Payment; pay != nil {
		o.Payment.ReferenceID = pay.ReferenceID
		o.Payment.CapturedCents = pay.CapturedCents
		o.Payment.CapturedAt = pay.CapturedAt
	}
	if o.Payment.Method.RequiresCapture() {
		if !o.Payment.Captured() {
			return ErrPaymentNotCaptured
		}
		o.Payment.Status = PaymentCaptured
	} else {
		o.Payment.Status = PaymentPending
	}

	eta := t.At.Add(p.DeliveryEstimate)
	o.Shipment.EstimatedDelivery = &eta

	// Splits are generated on the first entry only; a retried confirmation must
	// not charge commission twice.
	if len(o.Splits) == 0 && p.Splitter != nil {
		splits, err := p.Splitter.Splits(ctx, o.Items)
		if err != nil {
			return fmt.Errorf("compute splits: %w", err)
		}
		o.Splits = splits
	}

	if o.ReservationID != "" && !o.InventoryCommitted {
		t.Changes.CommitReservation = o.ReservationID
		o.InventoryCommitted = true
	}
	return nil
}

func (p EffectPolicy) shipped(_ context.Context, t *Transition) error {
	s := &t.Order.Shipment
	if s.TrackingNumber == "" {
		s.TrackingNumber = t.Request.TrackingNumber
		if s.TrackingNumber == "" {
			s.TrackingNumber = p.TrackingNumber()
		}
	}
	if t.Request.Carrier != "" {
		s.Carrier = t.Request.Carrier
	} else if s.Carrier == "" {
		s.Carrier = p.DefaultCarrier
	}
	at := t.At
	eta := at.Add(p.CarrierETA)
	s.ShippedAt = &at
	s.EstimatedDelivery = &eta
	return nil
}

func (p EffectPolicy) delivered(_ context.Context, t *Transition) error {
	o := t.Order
	at := t.At
	start := o.CreatedAt
	if o.Shipment.ShippedAt != nil {
		start = *o.Shipment.ShippedAt
	}
	until := at.Add(p.ReturnWindow)
	o.Shipment.DeliveredAt = &at
	o.Shipment.DeliveryDuration = at.Sub(start)
	o.Shipment.ReturnEligibleUntil = &until
	return nil
}

func (p EffectPolicy) cancelled(_ context.Context, t *Transition) error {
	o := t.Order
	if t.Request.Review != nil {
		o.Fraud.Review = t.Request.Review
	}

	switch {
	case o.ReservationID != "" && !o.InventoryCommitted:
		t.Changes.ReleaseReservation = o.ReservationID
	case o.InventoryCommitted && !o.InventoryRestored:
		t.Changes.Restock = inventory.Items(o.Quantities())
		o.InventoryRestored = true
	}

	if o.Payment.Captured() && o.Refund == nil {
		o.Refund = &Refund{
			AmountCents: o.Payment.CapturedCents,
			Status:      RefundOpen,
			Reason:      t.Request.Reason,
			OpenedAt:    t.At,
		}
	}
	return nil
}

func (p EffectPolicy) returnRequested(_ context.Context, t *Transition) error {
	o := t.Order
	req := t.Request.Return
	if req == nil || len(req.Items) == 0 {
		return fmt.Errorf("%w: no items to return", ErrReturnNotAllowed)
	}
	until := o.Shipment.ReturnEligibleUntil
	if until == nil || t.At.After(*until) {
		return fmt.Errorf("%w: return window closed", ErrReturnNotAllowed)
	}

	merged := make(map[string]int, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for _, ri := range req.Items {
		if ri.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrReturnNotAllowed, ri.ProductID)
		}
		if _, ok := merged[ri.ProductID]; !ok {
			order = append(order, ri.ProductID)
		}
		merged[ri.ProductID] += ri.Quantity
	}
	items := make([]ReturnItem, 0, len(order))
	for _, id := range order {
		it, ok := o.Item(id)
		if !ok {
			return fmt.Errorf("%w: product %s is not part of the order", ErrReturnNotAllowed, id)
		}
		if merged[id] > it.Quantity {
			return fmt.Errorf("%w: %d of %s requested, %d ordered", ErrReturnNotAllowed, merged[id], id, it.Quantity)
		}
		items = append(items, ReturnItem{ProductID: id, Quantity: merged[id]})
	}

	reason := req.Reason
	if reason == "" {
		reason = t.Request.Reason
	}
	o.Return = &ReturnRequest{Items: items, Reason: reason, RequestedAt: t.At}
	return nil
}

func returnDelivered(_ context.Context, t *Transition) error {
	o := t.Order
	if o.Return == nil {
		return nil
	}
	returned := make(map[string]bool, len(o.Return.Items))
	for _, ri := range o.Return.Items {
		returned[ri.ProductID] = true
	}
	for i := range o.Items {
		if returned[o.Items[i].ProductID] {
			o.Items[i].Status = ItemReturned
		}
	}
	return nil
}

func refunded(_ context.Context, t *Transition) error {
	o := t.Order
	fromReturn := t.From == StatusReturnDelivered && o.Return != nil

	due := o.RefundDue()
	if due <= 0 {
		return ErrNothingToRefund
	}

	at := t.At
	if o.Refund == nil {
		reason := t.Request.Reason
		if fromReturn && reason == "" {
			reason = o.Return.Reason
		}
		o.Refund = &Refund{AmountCents: due, Status: RefundOpen, Reason: reason, OpenedAt: at}
	}
	o.Refund.RefundedCents += due
	o.Refund.Status = RefundClosed
	o.Refund.ClosedAt = &at
	if t.Request.RefundReference != "" {
		o.Refund.ReferenceID = t.Request.RefundReference
	}
	if o.Return != nil && o.Return.ClosedAt == nil {
		o.Return.ClosedAt = &at
	}

	adjustSplits(o, fromReturn)

	if o.Refund.RefundedCents >= o.Payment.CapturedCents {
		o.Payment.Status = PaymentRefunded
	} else {
		o.Payment.Status = PaymentPartiallyRefunded
	}
	return nil
}

// adjustSplits records the refunded gross per seller. Splits are otherwise immutable.
func adjustSplits(o *Order, fromReturn bool) {
	if len(o.Splits) == 0 {
		return
	}
	bySeller := make(map[string]int64, len(o.Splits))
	if fromReturn {
		for _, ri := range o.Return.Items {
			if it, ok := o.Item(ri.ProductID); ok {
				bySeller[it.SellerID] += it.UnitPriceCents * int64(ri.Quantity)
			}
		}
	} else {
		for _, it := range o.Items {
			bySeller[it.SellerID] += it.TotalCents()
		}
	}
	for i := range o.Splits {
		s := &o.Splits[i]
		s.RefundedCents += bySeller[s.SellerID]
		if s.RefundedCents > s.GrossCents {
			s.RefundedCents = s.GrossCents
		}
	}
}

func newTrackingNumber() string {
	return "TRK" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
