package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

// Create inserts the order and its initial history. A taken external id is ErrAlreadyExists.
func (s *Store) Create(ctx context.Context, o *orders.Order) error {
	if !o.Pricing.Balanced() {
		return orders.ErrUnbalancedPricing
	}
	o.Version = 1
	doc, err := encodeOrder(o)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders(id, external_id, customer_id, status, origin_ip, total_cents, version, doc, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`,
			o.ID, o.ExternalID, o.CustomerID, string(o.Status), o.OriginIP, o.Pricing.TotalCents,
			o.Version, doc, o.CreatedAt, o.UpdatedAt); err != nil {
			return err
		}
		return appendHistory(ctx, tx, o.ID, o.History, 0)
	})
	if isUniqueViolation(err) {
		return orders.ErrAlreadyExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM orders WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	var o orders.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	if o.History, err = s.history(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	var id string
	err := s.db.QueryRow(ctx, `SELECT id FROM orders WHERE external_id = $1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Update is a compare-and-set on version. The inventory changes, the new
// document and the new history rows commit together.
func (s *Store) Update(ctx context.Context, o *orders.Order, expectedVersion int, ch orders.Changes) error {
	if !o.Pricing.Balanced() {
		return orders.ErrUnbalancedPricing
	}
	next := *o
	next.Version = expectedVersion + 1
	doc, err := encodeOrder(&next)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var version int
		err := tx.QueryRow(ctx, `SELECT version FROM orders WHERE id = $1 FOR UPDATE`, o.ID).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return orders.ErrVersionConflict
		}

		if ch.CommitReservation != "" {
			if err := commitReservation(ctx, tx, ch.CommitReservation, s.now()); err != nil {
				return err
			}
		}
		if ch.ReleaseReservation != "" {
			items, _, err := takeReservation(ctx, tx, ch.ReleaseReservation)
			if err != nil {
				return err
			}
			if err := adjustStock(ctx, tx, items, 1, -1); err != nil {
				return err
			}
		}
		if len(ch.Restock) > 0 {
			if err := adjustStock(ctx, tx, ch.Restock, 1, 0); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status = $2, total_cents = $3, version = $4, doc = $5, updated_at = $6
			WHERE id = $1`,
			o.ID, string(o.Status), o.Pricing.TotalCents, next.Version, doc, o.UpdatedAt); err != nil {
			return err
		}

		var stored int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM order_status_history WHERE order_id = $1`, o.ID).Scan(&stored); err != nil {
			return err
		}
		return appendHistory(ctx, tx, o.ID, o.History, stored)
	})
	if err != nil {
		return err
	}
	o.Version = next.Version
	return nil
}

// history rows are insert-only; entries[:from] are already stored.
func appendHistory(ctx context.Context, tx pgx.Tx, orderID string, entries []orders.StatusHistoryEntry, from int) error {
	for i := from; i < len(entries); i++ {
		e := entries[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_history(order_id, seq, status, reason, actor, at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, i+1, string(e.Status), e.Reason, e.Actor, e.At); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) history(ctx context.Context, orderID string) ([]orders.StatusHistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, reason, actor, at FROM order_status_history
		WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orders.StatusHistoryEntry
	for rows.Next() {
		var e orders.StatusHistoryEntry
		var status string
		if err := rows.Scan(&status, &e.Reason, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		e.Status = orders.Status(status)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// encodeOrder stores everything but the history, which lives in its own table.
func encodeOrder(o *orders.Order) ([]byte, error) {
	doc := *o
	doc.History = nil
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	return b, nil
}
