package pricing

import (
	"github.com/kinguila/exchange/internal/models"

	"github.com/shopspring/decimal"
)

// VWAP is the volume-weighted average price over a set of trades. Price is
// null when there were no trades.
type VWAP struct {
	Price       decimal.NullDecimal `json:"vwap"`
	TotalVolume decimal.Decimal     `json:"total_volume"`
	TradeCount  int                 `json:"trade_count"`
}

// CalculateVWAP computes sum(price × quantity) / sum(quantity) over the
// given trades. Pure aggregation, no side effects.
func CalculateVWAP(trades []models.Trade) VWAP {
	if len(trades) == 0 {
		return VWAP{TotalVolume: decimal.Zero}
	}

	notional := decimal.Zero
	volume := decimal.Zero
	for i := range trades {
		notional = notional.Add(trades[i].Price.Mul(trades[i].Quantity))
		volume = volume.Add(trades[i].Quantity)
	}
	if volume.IsZero() {
		return VWAP{TotalVolume: decimal.Zero}
	}
	return VWAP{
		Price:       decimal.NewNullDecimal(notional.Div(volume).Round(8)),
		TotalVolume: volume,
		TradeCount:  len(trades),
	}
}

// Bounds returns the fixed price band around an original price:
// original ± bandPercent%. Set once at order creation, never recomputed.
func Bounds(original, bandPercent decimal.Decimal) (lower, upper decimal.Decimal) {
	delta := original.Mul(bandPercent).Div(decimal.NewFromInt(100))
	return original.Sub(delta).Round(8), original.Add(delta).Round(8)
}
