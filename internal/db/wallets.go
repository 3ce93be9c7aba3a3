package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/kinguila/exchange/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// EnsureWallet creates a zero-balance wallet row if one does not exist.
func (s *Store) EnsureWallet(ctx context.Context, q Querier, userID int, currency string) error {
	_, err := q.Exec(ctx,
		"INSERT INTO wallets (user_id, currency) VALUES ($1, $2) ON CONFLICT (user_id, currency) DO NOTHING",
		userID, currency)
	if err != nil {
		return fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return nil
}

// GetWallet retrieves a wallet row.
func (s *Store) GetWallet(ctx context.Context, q Querier, userID int, currency string) (*models.Wallet, error) {
	return s.getWallet(ctx, q, userID, currency, false)
}

// GetWalletForUpdate retrieves a wallet row with an exclusive row lock.
// Reservation creation serializes per (user, currency) on this lock so two
// concurrent orders cannot both observe the same available balance.
func (s *Store) GetWalletForUpdate(ctx context.Context, q Querier, userID int, currency string) (*models.Wallet, error) {
	return s.getWallet(ctx, q, userID, currency, true)
}

func (s *Store) getWallet(ctx context.Context, q Querier, userID int, currency string, forUpdate bool) (*models.Wallet, error) {
	query := "SELECT user_id, currency, available, reserved, updated_at FROM wallets WHERE user_id = $1 AND currency = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}
	w := &models.Wallet{}
	err := q.QueryRow(ctx, query, userID, currency).Scan(
		&w.UserID, &w.Currency, &w.Available, &w.Reserved, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// SetWalletBalances overwrites both sub-balances of a wallet row. Callers
// must hold the row lock from GetWalletForUpdate.
func (s *Store) SetWalletBalances(ctx context.Context, q Querier, userID int, currency string, available, reserved decimal.Decimal) error {
	tag, err := q.Exec(ctx,
		"UPDATE wallets SET available = $3, reserved = $4, updated_at = now() WHERE user_id = $1 AND currency = $2",
		userID, currency, available, reserved)
	if err != nil {
		return fmt.Errorf("failed to update wallet balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreditAvailable adds amount to a wallet's available balance, creating the
// wallet row if needed. Used to pay out trade proceeds.
func (s *Store) CreditAvailable(ctx context.Context, q Querier, userID int, currency string, amount decimal.Decimal) error {
	_, err := q.Exec(ctx, `
		INSERT INTO wallets (user_id, currency, available) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency)
		DO UPDATE SET available = wallets.available + EXCLUDED.available, updated_at = now()`,
		userID, currency, amount)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}
