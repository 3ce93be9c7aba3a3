// Package ledger implements the fund reservation manager: the sole gate
// through which order flow mutates wallet balances. A reservation moves
// funds from available to reserved without transferring ownership; the
// matching engine later consumes the hold (settling funds to a
// counterparty) or releases it back to the owner.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/kinguila/exchange/internal/db"
	"github.com/kinguila/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when a wallet cannot cover a reservation.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Manager creates, releases, and consumes holds against wallet rows. Every
// method runs on the caller's Querier so the hold and the balance mutation
// commit (or roll back) together with whatever the caller is doing.
type Manager struct {
	store *db.Store
}

// NewManager creates a new reservation manager
func NewManager(store *db.Store) *Manager {
	return &Manager{store: store}
}

// Reserve atomically checks available funds and creates an active hold of
// amount against the user's wallet, tied to referenceID. The wallet row is
// locked first, so concurrent reservations by the same user serialize and
// can never double-spend the same available balance.
func (m *Manager) Reserve(ctx context.Context, q db.Querier, userID int, currency string,
	amount decimal.Decimal, referenceID uuid.UUID) (*models.FundReservation, error) {

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("reservation amount must be positive")
	}

	wallet, err := m.store.GetWalletForUpdate(ctx, q, userID, currency)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}
	if wallet.Available.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	err = m.store.SetWalletBalances(ctx, q, userID, currency,
		wallet.Available.Sub(amount), wallet.Reserved.Add(amount))
	if err != nil {
		return nil, err
	}

	r := &models.FundReservation{
		ID:             uuid.New(),
		UserID:         userID,
		Currency:       currency,
		Amount:         amount,
		ReleasedAmount: decimal.Zero,
		ReferenceID:    referenceID,
		Status:         models.ReservationActive,
	}
	if err := m.store.InsertReservation(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Release refunds amount from the hold back to the owner's available balance.
func (m *Manager) Release(ctx context.Context, q db.Querier, reservationID uuid.UUID, amount decimal.Decimal) error {
	return m.unwind(ctx, q, reservationID, amount, true)
}

// Consume settles amount out of the hold without refunding it: the wallet's
// reserved balance drops and the funds leave the owner. The matching engine
// pairs every Consume with a Credit to the counterparty.
func (m *Manager) Consume(ctx context.Context, q db.Querier, reservationID uuid.UUID, amount decimal.Decimal) error {
	return m.unwind(ctx, q, reservationID, amount, false)
}

func (m *Manager) unwind(ctx context.Context, q db.Querier, reservationID uuid.UUID,
	amount decimal.Decimal, refund bool) error {

	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("release amount must be positive")
	}

	r, err := m.store.GetReservationForUpdate(ctx, q, reservationID)
	if err != nil {
		return err
	}
	if amount.GreaterThan(r.Outstanding()) {
		return fmt.Errorf("release of %s exceeds outstanding %s on reservation %s",
			amount, r.Outstanding(), r.ID)
	}

	wallet, err := m.store.GetWalletForUpdate(ctx, q, r.UserID, r.Currency)
	if err != nil {
		return err
	}
	available := wallet.Available
	if refund {
		available = available.Add(amount)
	}
	err = m.store.SetWalletBalances(ctx, q, r.UserID, r.Currency, available, wallet.Reserved.Sub(amount))
	if err != nil {
		return err
	}

	released := r.ReleasedAmount.Add(amount)
	status := models.ReservationPartiallyReleased
	if released.Equal(r.Amount) {
		status = models.ReservationFullyReleased
	}
	return m.store.UpdateReservation(ctx, q, r.ID, released, status)
}

// Cancel releases the entire outstanding amount back to the owner.
// Idempotent: cancelling an already fully released reservation is a no-op.
// Returns the amount refunded and its currency.
func (m *Manager) Cancel(ctx context.Context, q db.Querier, reservationID uuid.UUID) (decimal.Decimal, string, error) {
	r, err := m.store.GetReservationForUpdate(ctx, q, reservationID)
	if err != nil {
		return decimal.Zero, "", err
	}
	outstanding := r.Outstanding()
	if outstanding.IsZero() {
		return decimal.Zero, r.Currency, nil
	}

	wallet, err := m.store.GetWalletForUpdate(ctx, q, r.UserID, r.Currency)
	if err != nil {
		return decimal.Zero, "", err
	}
	err = m.store.SetWalletBalances(ctx, q, r.UserID, r.Currency,
		wallet.Available.Add(outstanding), wallet.Reserved.Sub(outstanding))
	if err != nil {
		return decimal.Zero, "", err
	}

	// A hold cancelled before anything settled is marked cancelled; one that
	// already saw fills ends up fully released.
	status := models.ReservationFullyReleased
	if r.ReleasedAmount.IsZero() {
		status = models.ReservationCancelled
	}
	if err := m.store.UpdateReservation(ctx, q, r.ID, r.Amount, status); err != nil {
		return decimal.Zero, "", err
	}
	return outstanding, r.Currency, nil
}

// Credit adds funds to a user's available balance, creating the wallet if
// needed. Used to pay out trade proceeds.
func (m *Manager) Credit(ctx context.Context, q db.Querier, userID int, currency string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("credit amount must be positive")
	}
	return m.store.CreditAvailable(ctx, q, userID, currency, amount)
}
