package postgres

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/jackc/pgx/v5"
	"time"
)

// Reserve locks every product row in id order, checks all lines and only then
// writes, so a shortage on one line leaves every counter untouched.
func (s *Store) Reserve(ctx context.Context, r inventory.Reservation) error {
	ids := r.Items.ProductIDs()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return err
		}
		stock := make(map[string]int, len(ids))
		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				rows.Close()
				return err
			}
			stock[id] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var shortages []inventory.Shortage
		for _, id := range ids {
			n, ok := stock[id]
			if !ok {
				return inventory.ErrProductNotFound
			}
			if n < r.Items[id] {
				shortages = append(shortages, inventory.Shortage{ProductID: id, Requested: r.Items[id], Available: n})
			}
		}
		if len(shortages) > 0 {
			return &inventory.InsufficientStockError{Shortages: shortages}
		}

		if _, err := tx.Exec(ctx, `INSERT INTO reservations(id, created_at, expires_at) VALUES ($1, $2, $3)`,
			r.ID, r.CreatedAt, r.ExpiresAt); err != nil {
			return err
		}
		for _, id := range ids {
			q := r.Items[id]
			if _, err := tx.Exec(ctx, `
				UPDATE products SET stock = stock - $2, reserved_stock = reserved_stock + $2, updated_at = now()
				WHERE id = $1`, id, q); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO reservation_items(reservation_id, product_id, qty) VALUES ($1, $2, $3)`,
				r.ID, id, q); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Release(ctx context.Context, id string) (bool, error) {
	var released bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		items, ok, err := takeReservation(ctx, tx, id)
		if err != nil || !ok {
			return err
		}
		released = true
		return adjustStock(ctx, tx, items, 1, -1)
	})
	return released, err
}

func (s *Store) Extend(ctx context.Context, id string, until time.Time) error {
	ct, err := s.db.Exec(ctx, `UPDATE reservations SET expires_at = $2 WHERE id = $1`, id, until)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrReservationNotFound
	}
	return nil
}

func (s *Store) Reservation(ctx context.Context, id string) (inventory.Reservation, error) {
	r := inventory.Reservation{ID: id, Items: inventory.Items{}}
	err := s.db.QueryRow(ctx, `SELECT created_at, expires_at FROM reservations WHERE id = $1`, id).
		Scan(&r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	if err != nil {
		return inventory.Reservation{}, err
	}

	rows, err := s.db.Query(ctx, `SELECT product_id, qty FROM reservation_items WHERE reservation_id = $1`, id)
	if err != nil {
		return inventory.Reservation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		var q int
		if err := rows.Scan(&pid, &q); err != nil {
			return inventory.Reservation{}, err
		}
		r.Items[pid] = q
	}
	return r, rows.Err()
}

// ExpiredReservations only lists candidates. Release locks each one again, so
// a reservation committed after the listing is skipped there.
func (s *Store) ExpiredReservations(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM reservations
		WHERE expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) StockLevel(ctx context.Context, productID string) (inventory.StockLevel, error) {
	l := inventory.StockLevel{ProductID: productID}
	err := s.db.QueryRow(ctx, `SELECT stock, reserved_stock FROM products WHERE id = $1`, productID).
		Scan(&l.Stock, &l.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockLevel{}, inventory.ErrProductNotFound
	}
	return l, err
}

// takeReservation deletes the reservation and returns what it held. The
// reservations row is locked before its items, the same order commitReservation uses.
func takeReservation(ctx context.Context, tx pgx.Tx, id string) (inventory.Items, bool, error) {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM reservations WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := tx.Query(ctx, `DELETE FROM reservation_items WHERE reservation_id = $1 RETURNING product_id, qty`, id)
	if err != nil {
		return nil, false, err
	}
	items := inventory.Items{}
	for rows.Next() {
		var pid string
		var q int
		if err := rows.Scan(&pid, &q); err != nil {
			rows.Close()
			return nil, false, err
		}
		items[pid] = q
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

// commitReservation drops the reserved counters of a live reservation; the stock decrement stays.
func commitReservation(ctx context.Context, tx pgx.Tx, id string, now time.Time) error {
	var expires time.Time
	err := tx.QueryRow(ctx, `SELECT expires_at FROM reservations WHERE id = $1 FOR UPDATE`, id).Scan(&expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ErrReservationNotFound
	}
	if err != nil {
		return err
	}
	if !now.Before(expires) {
		return inventory.ErrReservationExpired
	}
	items, _, err := takeReservation(ctx, tx, id)
	if err != nil {
		return err
	}
	return adjustStock(ctx, tx, items, 0, -1)
}

// adjustStock adds stockSign*q to stock and reservedSign*q to reserved stock, in product id order.
func adjustStock(ctx context.Context, tx pgx.Tx, items inventory.Items, stockSign, reservedSign int) error {
	for _, id := range items.ProductIDs() {
		q := items[id]
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, reserved_stock = reserved_stock + $3, updated_at = now()
			WHERE id = $1`, id, stockSign*q, reservedSign*q)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return inventory.ErrProductNotFound
		}
	}
	return nil
}
