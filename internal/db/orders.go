package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kinguila/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, side, kind, base_currency, quote_currency,
	quantity, remaining_quantity, filled_quantity, limit_price, average_fill_price,
	status, dynamic_pricing_enabled, original_price, price_lower_bound, price_upper_bound,
	last_price_update_at, price_update_count, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Side, &o.Kind, &o.BaseCurrency, &o.QuoteCurrency,
		&o.Quantity, &o.RemainingQuantity, &o.FilledQuantity, &o.LimitPrice, &o.AverageFillPrice,
		&o.Status, &o.DynamicPricingEnabled, &o.OriginalPrice, &o.PriceLowerBound, &o.PriceUpperBound,
		&o.LastPriceUpdateAt, &o.PriceUpdateCount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// InsertOrder inserts a new order and fills in database-assigned timestamps.
func (s *Store) InsertOrder(ctx context.Context, q Querier, o *models.Order) error {
	err := q.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, side, kind, base_currency, quote_currency,
			quantity, remaining_quantity, filled_quantity, limit_price, status,
			dynamic_pricing_enabled, original_price, price_lower_bound, price_upper_bound,
			last_price_update_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.Side, o.Kind, o.BaseCurrency, o.QuoteCurrency,
		o.Quantity, o.RemainingQuantity, o.FilledQuantity, o.LimitPrice, o.Status,
		o.DynamicPricingEnabled, o.OriginalPrice, o.PriceLowerBound, o.PriceUpperBound,
		o.LastPriceUpdateAt).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
}

// GetOrderForUpdate retrieves an order with an exclusive row lock, so a
// cancel never races an in-flight match on the same order.
func (s *Store) GetOrderForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*models.Order, error) {
	return scanOrder(q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
}

// UpdateOrderFill writes the fill progress of an order after a match.
func (s *Store) UpdateOrderFill(ctx context.Context, q Querier, id uuid.UUID,
	remaining, filled decimal.Decimal, avgPrice decimal.NullDecimal, status models.OrderStatus) error {
	tag, err := q.Exec(ctx, `
		UPDATE orders SET remaining_quantity = $2, filled_quantity = $3,
			average_fill_price = $4, status = $5, updated_at = now()
		WHERE id = $1`,
		id, remaining, filled, avgPrice, status)
	if err != nil {
		return fmt.Errorf("failed to update order fill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOrderStatus updates an order's status.
func (s *Store) SetOrderStatus(ctx context.Context, q Querier, id uuid.UUID, status models.OrderStatus) error {
	tag, err := q.Exec(ctx,
		"UPDATE orders SET status = $2, updated_at = now() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LockRestingOrders returns the open resting orders on one side of a pair's
// book in strict price-time priority, locked for the duration of the caller's
// transaction. Asks come back cheapest first, bids highest first; equal
// prices are ordered by creation time. priceBound, when set, restricts the
// walk to orders crossable by an incoming limit order at that price.
func (s *Store) LockRestingOrders(ctx context.Context, q Querier, base, quote string,
	side models.OrderSide, priceBound decimal.NullDecimal) ([]models.Order, error) {

	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE base_currency = $1 AND quote_currency = $2 AND side = $3
		AND status IN ('pending', 'partially_filled') AND limit_price IS NOT NULL`
	args := []any{base, quote, side}

	if priceBound.Valid {
		if side == models.SideSell {
			query += " AND limit_price <= $4"
		} else {
			query += " AND limit_price >= $4"
		}
		args = append(args, priceBound.Decimal)
	}
	if side == models.SideSell {
		query += " ORDER BY limit_price ASC, created_at ASC"
	} else {
		query += " ORDER BY limit_price DESC, created_at ASC"
	}
	query += " FOR UPDATE"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock resting orders: %w", err)
	}
	return collectOrders(rows)
}

// OrderFilter narrows ListOrders results.
type OrderFilter struct {
	Status        models.OrderStatus
	BaseCurrency  string
	QuoteCurrency string
	Limit         int
	Offset        int
}

// ListOrders retrieves a user's orders, newest first.
func (s *Store) ListOrders(ctx context.Context, userID int, f OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = $1"
	args := []any{userID}

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.BaseCurrency != "" && f.QuoteCurrency != "" {
		args = append(args, f.BaseCurrency, f.QuoteCurrency)
		query += fmt.Sprintf(" AND base_currency = $%d AND quote_currency = $%d", len(args)-1, len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return collectOrders(rows)
}

// Depth returns a top-of-book snapshot for a pair.
func (s *Store) Depth(ctx context.Context, base, quote string) (*models.BookDepth, error) {
	d := &models.BookDepth{}
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(limit_price), COALESCE(SUM(remaining_quantity), 0) FROM orders
		WHERE base_currency = $1 AND quote_currency = $2 AND side = 'sell'
		AND status IN ('pending', 'partially_filled')`,
		base, quote).Scan(&d.BestAsk, &d.AskQuantity)
	if err != nil {
		return nil, fmt.Errorf("failed to query ask depth: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		SELECT MAX(limit_price), COALESCE(SUM(remaining_quantity), 0) FROM orders
		WHERE base_currency = $1 AND quote_currency = $2 AND side = 'buy'
		AND status IN ('pending', 'partially_filled')`,
		base, quote).Scan(&d.BestBid, &d.BidQuantity)
	if err != nil {
		return nil, fmt.Errorf("failed to query bid depth: %w", err)
	}

	if d.BestAsk.Valid && d.BestBid.Valid {
		d.Spread = decimal.NewNullDecimal(d.BestAsk.Decimal.Sub(d.BestBid.Decimal))
		d.MidPrice = decimal.NewNullDecimal(d.BestAsk.Decimal.Add(d.BestBid.Decimal).Div(decimal.NewFromInt(2)))
	}
	return d, nil
}

// BestAskExcluding returns the lowest open ask price on a pair, ignoring one
// order. Used as the dynamic pricing fallback when VWAP has no data.
func (s *Store) BestAskExcluding(ctx context.Context, base, quote string, exclude uuid.UUID) (decimal.NullDecimal, error) {
	var best decimal.NullDecimal
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(limit_price) FROM orders
		WHERE base_currency = $1 AND quote_currency = $2 AND side = 'sell'
		AND status IN ('pending', 'partially_filled') AND id <> $3`,
		base, quote, exclude).Scan(&best)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to query best ask: %w", err)
	}
	return best, nil
}

// EligibleDynamicOrders returns the resting sell-limit orders opted into
// dynamic pricing whose last update is older than cutoff.
func (s *Store) EligibleDynamicOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE dynamic_pricing_enabled = TRUE AND side = 'sell' AND kind = 'limit'
		AND status IN ('pending', 'partially_filled')
		AND COALESCE(last_price_update_at, created_at) < $1
		ORDER BY created_at ASC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible orders: %w", err)
	}
	return collectOrders(rows)
}

// ApplyPriceUpdate applies a dynamic price change and its audit row in one
// transaction. The order is locked with SKIP LOCKED, so an order held by an
// in-flight match is skipped immediately instead of queueing behind it, and
// the price guard skips orders that changed since the sweep read them.
// Returns false when the order was skipped.
func (s *Store) ApplyPriceUpdate(ctx context.Context, upd *models.PriceUpdate) (bool, error) {
	applied := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM orders
			WHERE id = $1 AND limit_price = $2 AND status IN ('pending', 'partially_filled')
			FOR UPDATE SKIP LOCKED`,
			upd.OrderID, upd.OldPrice).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock order for price update: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE orders SET limit_price = $2, last_price_update_at = now(),
				price_update_count = price_update_count + 1, updated_at = now()
			WHERE id = $1`,
			upd.OrderID, upd.NewPrice); err != nil {
			return fmt.Errorf("failed to update order price: %w", err)
		}
		if err := s.InsertPriceUpdate(ctx, tx, upd); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// SetDynamicPricing flips an order's dynamic pricing flag and records the
// toggle in the audit trail. Enabling resets the update clock so the order
// is not repriced before the next natural interval.
func (s *Store) SetDynamicPricing(ctx context.Context, orderID uuid.UUID, enable bool, upd *models.PriceUpdate) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET dynamic_pricing_enabled = $2,
				last_price_update_at = CASE WHEN $2 THEN now() ELSE last_price_update_at END,
				updated_at = now()
			WHERE id = $1`,
			orderID, enable)
		if err != nil {
			return fmt.Errorf("failed to toggle dynamic pricing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return s.InsertPriceUpdate(ctx, tx, upd)
	})
}
