// Package book holds the pure order book math: planning fills for an
// incoming order against a price-time-sorted slice of resting orders, and
// estimating the quote cost of a market buy. Nothing here touches storage;
// the matching engine applies the resulting plan inside its transaction.
package book

import (
	"errors"

	"github.com/kinguila/exchange/internal/models"

	"github.com/shopspring/decimal"
)

// ErrEmptyBook is returned when a cost estimate is requested against a book
// with no resting orders.
var ErrEmptyBook = errors.New("order book is empty")

// Fill is one planned execution against a resting order. Price is always
// the resting (maker) order's price: the taker receives price improvement
// when crossing a better-priced maker, never the reverse.
type Fill struct {
	Resting  *models.Order
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// PlanMatches walks resting orders in the order given (callers supply them
// in strict price-time priority) and plans fills until quantity is
// exhausted or the book runs out. Each fill consumes
// min(remaining, resting.RemainingQuantity). No two fills overlap the same
// resting quantity.
func PlanMatches(quantity decimal.Decimal, resting []models.Order) []Fill {
	var fills []Fill
	remaining := quantity

	for i := range resting {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		r := &resting[i]
		if !r.Status.Open() || r.RemainingQuantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := decimal.Min(remaining, r.RemainingQuantity)
		fills = append(fills, Fill{
			Resting:  r,
			Quantity: take,
			Price:    r.LimitPrice.Decimal,
		})
		remaining = remaining.Sub(take)
	}
	return fills
}

// EstimateQuoteCost computes the quote amount a market buy of quantity
// could spend, walking asks best price first. Any remainder the book cannot
// satisfy is priced at the worst walked ask times fallbackMultiplier.
// Each level is rounded up to 8 places independently, matching how
// settlement rounds each fill, so the resulting reservation always covers
// the sum of the individually rounded fill totals.
func EstimateQuoteCost(quantity decimal.Decimal, asks []models.Order, fallbackMultiplier decimal.Decimal) (decimal.Decimal, error) {
	cost := decimal.Zero
	remaining := quantity
	worstAsk := decimal.Zero

	for i := range asks {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		a := &asks[i]
		if !a.Status.Open() || a.RemainingQuantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := decimal.Min(remaining, a.RemainingQuantity)
		cost = cost.Add(take.Mul(a.LimitPrice.Decimal).RoundCeil(8))
		worstAsk = a.LimitPrice.Decimal
		remaining = remaining.Sub(take)
	}

	if worstAsk.IsZero() {
		return decimal.Zero, ErrEmptyBook
	}
	if remaining.GreaterThan(decimal.Zero) {
		cost = cost.Add(remaining.Mul(worstAsk).Mul(fallbackMultiplier).RoundCeil(8))
	}
	return cost, nil
}
