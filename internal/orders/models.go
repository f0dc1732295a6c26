package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

// Product is the catalog view the order core touches. Price and stock are read at order time.
type Product struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	SellerID      string    `json:"seller_id"`
	PriceCents    int64     `json:"price_cents"`
	Stock         int       `json:"stock"`
	ReservedStock int       `json:"reserved_stock"`
	WeightGrams   int       `json:"weight_grams"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type PaymentMethod string

const (
	PaymentCard         PaymentMethod = "card"
	PaymentWallet       PaymentMethod = "wallet"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCOD          PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentWallet, PaymentBankTransfer, PaymentCOD:
		return true
	}
	return false
}

// RequiresCapture reports whether the order must be paid before it is confirmed.
func (m PaymentMethod) RequiresCapture() bool {
	return m == PaymentCard || m == PaymentWallet
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentCaptured          PaymentStatus = "captured"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
)

type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	ReferenceID   string        `json:"reference_id,omitempty"`
	CapturedCents int64         `json:"captured_cents"`
	CapturedAt    *time.Time    `json:"captured_at,omitempty"`
}

func (p Payment) Captured() bool {
	return p.ReferenceID != "" && p.CapturedCents > 0
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemConfirmed ItemStatus = "confirmed"
	ItemShipped   ItemStatus = "shipped"
	ItemDelivered ItemStatus = "delivered"
	ItemCancelled ItemStatus = "cancelled"
	ItemReturned  ItemStatus = "returned"
)

// OrderItem is a snapshot taken when the order is created. UnitPriceCents never changes afterwards.
type OrderItem struct {
	ProductID      string     `json:"product_id"`
	SKU            string     `json:"sku"`
	Name           string     `json:"name"`
	SellerID       string     `json:"seller_id"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Quantity       int        `json:"quantity"`
	WeightGrams    int        `json:"weight_grams"`
	Status         ItemStatus `json:"status"`
}

func (i OrderItem) TotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

type Pricing struct {
	Currency         string `json:"currency"`
	SubtotalCents    int64  `json:"subtotal_cents"`
	ShippingCents    int64  `json:"shipping_cents"`
	TaxCents         int64  `json:"tax_cents"`
	PlatformFeeCents int64  `json:"platform_fee_cents"`
	DiscountCents    int64  `json:"discount_cents"`
	TotalCents       int64  `json:"total_cents"`
	CouponCode       string `json:"coupon_code,omitempty"`
}

// Balanced reports whether the breakdown satisfies
// total == subtotal + shipping + tax + platform fee - discount and total >= 0.
func (p Pricing) Balanced() bool {
	return p.TotalCents >= 0 &&
		p.TotalCents == p.SubtotalCents+p.ShippingCents+p.TaxCents+p.PlatformFeeCents-p.DiscountCents
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type FraudReview struct {
	Approved   bool      `json:"approved"`
	Reviewer   string    `json:"reviewer"`
	Note       string    `json:"note,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

type FraudCheck struct {
	Score          int          `json:"score"`
	Level          RiskLevel    `json:"level"`
	Triggered      []string     `json:"triggered,omitempty"`
	Skipped        []string     `json:"skipped,omitempty"`
	RequiresReview bool         `json:"requires_review"`
	Blocked        bool         `json:"blocked"`
	CheckedAt      time.Time    `json:"checked_at"`
	Review         *FraudReview `json:"review,omitempty"`
}

// Split is the per-seller share of an order after platform commission.
type Split struct {
	SellerID        string          `json:"seller_id"`
	GrossCents      int64           `json:"gross_cents"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	CommissionCents int64           `json:"commission_cents"`
	NetCents        int64           `json:"net_cents"`
	RefundedCents   int64           `json:"refunded_cents"`
}

type StatusHistoryEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
	Actor  string    `json:"actor,omitempty"`
}

type Shipment struct {
	Carrier             string        `json:"carrier,omitempty"`
	TrackingNumber      string        `json:"tracking_number,omitempty"`
	ShippedAt           *time.Time    `json:"shipped_at,omitempty"`
	EstimatedDelivery   *time.Time    `json:"estimated_delivery,omitempty"`
	DeliveredAt         *time.Time    `json:"delivered_at,omitempty"`
	DeliveryDuration    time.Duration `json:"delivery_duration,omitempty"`
	ReturnEligibleUntil *time.Time    `json:"return_eligible_until,omitempty"`
}

type RefundStatus string

const (
	RefundOpen   RefundStatus = "open"
	RefundClosed RefundStatus = "closed"
)

type Refund struct {
	AmountCents   int64        `json:"amount_cents"`
	RefundedCents int64        `json:"refunded_cents"`
	Status        RefundStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	ReferenceID   string       `json:"reference_id,omitempty"`
	OpenedAt      time.Time    `json:"opened_at"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
}

type ReturnItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ReturnRequest struct {
	Items       []ReturnItem `json:"items"`
	Reason      string       `json:"reason"`
	RequestedAt time.Time    `json:"requested_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
}

// Order is the aggregate root. Status changes only through Machine.Transition.
type Order struct {
	ID                 string               `json:"id"`
	ExternalID         string               `json:"external_id,omitempty"`
	CustomerID         string               `json:"customer_id"`
	Items              []OrderItem          `json:"items"`
	Shipping           Address              `json:"shipping"`
	OriginIP           string               `json:"origin_ip,omitempty"`
	Payment            Payment              `json:"payment"`
	Pricing            Pricing              `json:"pricing"`
	Status             Status               `json:"status"`
	History            []StatusHistoryEntry `json:"history"`
	Fraud              FraudCheck           `json:"fraud"`
	Splits             []Split              `json:"splits,omitempty"`
	ReservationID      string               `json:"reservation_id,omitempty"`
	InventoryCommitted bool                 `json:"inventory_committed"`
	InventoryRestored  bool                 `json:"inventory_restored"`
	Shipment           Shipment             `json:"shipment"`
	Refund             *Refund              `json:"refund,omitempty"`
	Return             *ReturnRequest       `json:"return,omitempty"`
	Version            int                  `json:"version"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// Item returns the line for a product.
func (o *Order) Item(productID string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// ItemsTotalCents is Σ unit price × quantity.
func (o *Order) ItemsTotalCents() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.TotalCents()
	}
	return total
}

// Quantities returns product -> ordered quantity.
func (o *Order) Quantities() map[string]int {
	q := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		q[it.ProductID] += it.Quantity
	}
	return q
}

// Clone returns a deep copy so a transition can be prepared without touching the loaded order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.History = append([]StatusHistoryEntry(nil), o.History...)
	c.Splits = append([]Split(nil), o.Splits...)
	c.Fraud.Triggered = append([]string(nil), o.Fraud.Triggered...)
	c.Fraud.Skipped = append([]string(nil), o.Fraud.Skipped...)
	if o.Fraud.Review != nil {
		r := *o.Fraud.Review
		c.Fraud.Review = &r
	}
	if o.Refund != nil {
		r := *o.Refund
		c.Refund = &r
	}
	if o.Return != nil {
		r := *o.Return
		r.Items = append([]ReturnItem(nil), o.Return.Items...)
		c.Return = &r
	}
	return &c
}

// RefundDue is the amount still owed to the customer for a cancellation or a delivered return.
func (o *Order) RefundDue() int64 {
	switch {
	case o.Refund != nil && o.Refund.Status == RefundOpen:
		return o.Refund.AmountCents - o.Refund.RefundedCents
	case o.Return != nil && o.Return.ClosedAt == nil:
		return o.returnValueCents()
	case o.Return == nil && o.Status == StatusReturnDelivered:
		// Undeliverable parcel back at the seller: the whole capture is owed.
		return o.Payment.CapturedCents
	}
	return 0
}

func (o *Order) returnValueCents() int64 {
	var total int64
	for _, ri := range o.Return.Items {
		if it, ok := o.Item(ri.ProductID); ok {
			total += it.UnitPriceCents * int64(ri.Quantity)
		}
	}
	return total
}
