package db

import (
	"context"
	"fmt"
	"time"

	"github.com/kinguila/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tradeColumns = `id, buy_order_id, sell_order_id, buyer_id, seller_id,
	base_currency, quote_currency, quantity, price, total_amount, fee, executed_at`

func collectTrades(rows pgx.Rows) ([]models.Trade, error) {
	defer rows.Close()
	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&t.BaseCurrency, &t.QuoteCurrency, &t.Quantity, &t.Price, &t.TotalAmount, &t.Fee, &t.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// InsertTrade appends a trade to the audit trail. Trades are never updated
// or deleted.
func (s *Store) InsertTrade(ctx context.Context, q Querier, t *models.Trade) error {
	err := q.QueryRow(ctx, `
		INSERT INTO trades (id, buy_order_id, sell_order_id, buyer_id, seller_id,
			base_currency, quote_currency, quantity, price, total_amount, fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING executed_at`,
		t.ID, t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID,
		t.BaseCurrency, t.QuoteCurrency, t.Quantity, t.Price, t.TotalAmount, t.Fee).Scan(&t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// TradesForOrder retrieves the executions an order participated in.
func (s *Store) TradesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE buy_order_id = $1 OR sell_order_id = $1 ORDER BY executed_at ASC",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order trades: %w", err)
	}
	return collectTrades(rows)
}

// TradesSince retrieves a pair's trades executed after the given time,
// oldest first. Feeds the VWAP calculation.
func (s *Store) TradesSince(ctx context.Context, base, quote string, since time.Time) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE base_currency = $1 AND quote_currency = $2 AND executed_at >= $3
		ORDER BY executed_at ASC`,
		base, quote, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades in window: %w", err)
	}
	return collectTrades(rows)
}

// InsertPriceUpdate appends a price mutation record to the audit trail.
func (s *Store) InsertPriceUpdate(ctx context.Context, q Querier, upd *models.PriceUpdate) error {
	err := q.QueryRow(ctx, `
		INSERT INTO price_updates (id, order_id, user_id, old_price, new_price, change_percent, reason, vwap_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		upd.ID, upd.OrderID, upd.UserID, upd.OldPrice, upd.NewPrice,
		upd.ChangePercent, upd.Reason, upd.VWAPReference).Scan(&upd.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert price update: %w", err)
	}
	return nil
}

// PriceUpdatesForOrder retrieves an order's price mutation history.
func (s *Store) PriceUpdatesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.PriceUpdate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, user_id, old_price, new_price, change_percent, reason, vwap_reference, created_at
		FROM price_updates WHERE order_id = $1 ORDER BY created_at ASC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get price updates: %w", err)
	}
	defer rows.Close()

	var updates []models.PriceUpdate
	for rows.Next() {
		var u models.PriceUpdate
		err := rows.Scan(&u.ID, &u.OrderID, &u.UserID, &u.OldPrice, &u.NewPrice,
			&u.ChangePercent, &u.Reason, &u.VWAPReference, &u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price update: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}
