package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/kinguila/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const reservationColumns = "id, user_id, currency, amount, released_amount, reference_id, status, created_at, updated_at"

func scanReservation(row pgx.Row) (*models.FundReservation, error) {
	r := &models.FundReservation{}
	err := row.Scan(&r.ID, &r.UserID, &r.Currency, &r.Amount, &r.ReleasedAmount,
		&r.ReferenceID, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	return r, nil
}

// InsertReservation inserts a new fund reservation.
func (s *Store) InsertReservation(ctx context.Context, q Querier, r *models.FundReservation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO fund_reservations (id, user_id, currency, amount, released_amount, reference_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.UserID, r.Currency, r.Amount, r.ReleasedAmount, r.ReferenceID, r.Status)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// GetReservationForUpdate retrieves a reservation with an exclusive row lock.
func (s *Store) GetReservationForUpdate(ctx context.Context, q Querier, id uuid.UUID) (*models.FundReservation, error) {
	return scanReservation(q.QueryRow(ctx,
		"SELECT "+reservationColumns+" FROM fund_reservations WHERE id = $1 FOR UPDATE", id))
}

// GetReservationByReference retrieves the reservation backing an order.
func (s *Store) GetReservationByReference(ctx context.Context, q Querier, referenceID uuid.UUID) (*models.FundReservation, error) {
	return scanReservation(q.QueryRow(ctx,
		"SELECT "+reservationColumns+" FROM fund_reservations WHERE reference_id = $1 ORDER BY created_at DESC LIMIT 1",
		referenceID))
}

// UpdateReservation sets a reservation's cumulative released amount and status.
func (s *Store) UpdateReservation(ctx context.Context, q Querier, id uuid.UUID, released decimal.Decimal, status models.ReservationStatus) error {
	tag, err := q.Exec(ctx,
		"UPDATE fund_reservations SET released_amount = $2, status = $3, updated_at = now() WHERE id = $1",
		id, released, status)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
