package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/fraud"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/pricing"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

const recentIPLimit = 10

const productColumns = `id, sku, name, seller_id, price_cents, stock, reserved_stock, weight_grams, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.SellerID, &p.PriceCents, &p.Stock, &p.ReservedStock, &p.WeightGrams, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	p, err := scanProduct(s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutProduct upserts a catalog entry. Stock is overwritten; reserved stock is left alone.
func (s *Store) PutProduct(ctx context.Context, p orders.Product) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO products(id, sku, name, seller_id, price_cents, stock, weight_grams)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku, name = EXCLUDED.name, seller_id = EXCLUDED.seller_id,
			price_cents = EXCLUDED.price_cents, stock = EXCLUDED.stock,
			weight_grams = EXCLUDED.weight_grams, updated_at = now()`,
		p.ID, p.SKU, p.Name, p.SellerID, p.PriceCents, p.Stock, p.WeightGrams)
	return err
}

func (s *Store) PutCoupon(ctx context.Context, c pricing.Coupon) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO coupons(code, percent, amount_cents, min_subtotal_cents, expires_at)
		VALUES ($1, $2::numeric, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			percent = EXCLUDED.percent, amount_cents = EXCLUDED.amount_cents,
			min_subtotal_cents = EXCLUDED.min_subtotal_cents, expires_at = EXCLUDED.expires_at`,
		strings.ToUpper(c.Code), c.Percent.String(), c.AmountCents, c.MinSubtotalCents, c.ExpiresAt)
	return err
}

// Lookup implements pricing.CouponBook. Codes are case-insensitive.
func (s *Store) Lookup(ctx context.Context, code string) (pricing.Coupon, error) {
	var c pricing.Coupon
	var percent string
	err := s.db.QueryRow(ctx, `
		SELECT code, percent::text, amount_cents, min_subtotal_cents, expires_at
		FROM coupons WHERE code = $1`, strings.ToUpper(code)).
		Scan(&c.Code, &percent, &c.AmountCents, &c.MinSubtotalCents, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.Coupon{}, pricing.ErrCouponNotFound
	}
	if err != nil {
		return pricing.Coupon{}, err
	}
	if c.Percent, err = decimal.NewFromString(percent); err != nil {
		return pricing.Coupon{}, fmt.Errorf("coupon %s percent: %w", c.Code, err)
	}
	return c, nil
}

func (s *Store) PutSeller(ctx context.Context, id, name string, rate *decimal.Decimal) error {
	var r *string
	if rate != nil {
		v := rate.String()
		r = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO sellers(id, name, commission_rate) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, commission_rate = EXCLUDED.commission_rate`,
		id, name, r)
	return err
}

// CommissionRate implements pricing.RateSource. ok is false when the seller has no override.
func (s *Store) CommissionRate(ctx context.Context, sellerID string) (decimal.Decimal, bool, error) {
	var rate *string
	err := s.db.QueryRow(ctx, `SELECT commission_rate::text FROM sellers WHERE id = $1`, sellerID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && rate == nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(*rate)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("seller %s commission: %w", sellerID, err)
	}
	return d, true, nil
}

// CustomerHistory implements the customer directory from stored orders.
func (s *Store) CustomerHistory(ctx context.Context, customerID string) (fraud.CustomerHistory, error) {
	var h fraud.CustomerHistory
	since := s.now().Add(-24 * time.Hour)
	if err := s.db.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE created_at > $2)
		FROM orders WHERE customer_id = $1`, customerID, since).
		Scan(&h.OrderCount, &h.OrdersLast24h); err != nil {
		return fraud.CustomerHistory{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT origin_ip FROM orders
		WHERE customer_id = $1 AND origin_ip <> ''
		GROUP BY origin_ip
		ORDER BY max(created_at) DESC
		LIMIT $2`, customerID, recentIPLimit)
	if err != nil {
		return fraud.CustomerHistory{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return fraud.CustomerHistory{}, err
		}
		h.RecentOrderIPs = append(h.RecentOrderIPs, ip)
	}
	return h, rows.Err()
}
