package book

import (
	"testing"
	"time"

	"github.com/kinguila/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ask(price, remaining string, age time.Duration) models.Order {
	return models.Order{
		ID:                uuid.New(),
		Side:              models.SideSell,
		Kind:              models.KindLimit,
		BaseCurrency:      "EUR",
		QuoteCurrency:     "AOA",
		Quantity:          dec(remaining),
		RemainingQuantity: dec(remaining),
		LimitPrice:        decimal.NewNullDecimal(dec(price)),
		Status:            models.StatusPending,
		CreatedAt:         time.Now().Add(-age),
	}
}

func TestPlanMatches_PriceTimePriority(t *testing.T) {
	// Resting asks as LockRestingOrders returns them: cheapest first,
	// earliest first among equal prices.
	resting := []models.Order{
		ask("100", "5", 2*time.Second),
		ask("100", "5", time.Second),
		ask("101", "10", 3*time.Second),
	}

	fills := PlanMatches(dec("12"), resting)

	if len(fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(fills))
	}
	if !fills[0].Price.Equal(dec("100")) || !fills[1].Price.Equal(dec("100")) {
		t.Errorf("expected both 100-priced asks consumed first, got %s then %s", fills[0].Price, fills[1].Price)
	}
	if fills[0].Resting != &resting[0] {
		t.Error("expected the earliest ask at 100 to fill first")
	}
	if !fills[2].Price.Equal(dec("101")) {
		t.Errorf("expected last fill at 101, got %s", fills[2].Price)
	}
	if !fills[2].Quantity.Equal(dec("2")) {
		t.Errorf("expected 2 remaining against the 101 ask, got %s", fills[2].Quantity)
	}
}

func TestPlanMatches_MakerPrice(t *testing.T) {
	resting := []models.Order{ask("95", "10", time.Second)}

	fills := PlanMatches(dec("4"), resting)

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	// The taker crosses a better-priced maker and trades at the maker price.
	if !fills[0].Price.Equal(dec("95")) {
		t.Errorf("expected maker price 95, got %s", fills[0].Price)
	}
	if !fills[0].Quantity.Equal(dec("4")) {
		t.Errorf("expected fill quantity 4, got %s", fills[0].Quantity)
	}
}

func TestPlanMatches_Shortfall(t *testing.T) {
	resting := []models.Order{
		ask("100", "3", time.Second),
		ask("105", "2", time.Second),
	}

	fills := PlanMatches(dec("10"), resting)

	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.Quantity)
	}
	if !total.Equal(dec("5")) {
		t.Errorf("expected 5 filled out of 10, got %s", total)
	}
}

func TestPlanMatches_SkipsClosedOrders(t *testing.T) {
	filled := ask("100", "5", time.Second)
	filled.Status = models.StatusFilled
	filled.RemainingQuantity = decimal.Zero
	resting := []models.Order{filled, ask("101", "5", time.Second)}

	fills := PlanMatches(dec("5"), resting)

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(dec("101")) {
		t.Errorf("expected fill against the open ask at 101, got %s", fills[0].Price)
	}
}

func TestPlanMatches_EmptyBook(t *testing.T) {
	if fills := PlanMatches(dec("5"), nil); len(fills) != 0 {
		t.Errorf("expected no fills on empty book, got %d", len(fills))
	}
}

func TestEstimateQuoteCost(t *testing.T) {
	tests := []struct {
		name       string
		quantity   string
		asks       []models.Order
		multiplier string
		expect     string
		expectErr  bool
	}{
		{
			name:     "FullyCoveredByBook",
			quantity: "8",
			asks: []models.Order{
				ask("100", "5", time.Second),
				ask("110", "5", time.Second),
			},
			multiplier: "1.1",
			expect:     "830", // 5×100 + 3×110
		},
		{
			name:     "ShortfallUsesFallback",
			quantity: "10",
			asks: []models.Order{
				ask("100", "5", time.Second),
				ask("110", "2", time.Second),
			},
			multiplier: "1.1",
			// 5×100 + 2×110 + 3×110×1.1
			expect: "1083",
		},
		{
			name:     "RoundsEachLevelUp",
			quantity: "0.2",
			asks: []models.Order{
				ask("1150.00000005", "0.1", 2*time.Second),
				ask("1150.00000005", "0.1", time.Second),
			},
			multiplier: "1.1",
			// Each 0.1 level costs 115.000000005, rounded up per level so
			// the hold covers both fills settled at 115.00000001 each.
			expect: "230.00000002",
		},
		{
			name:     "DustLevelNeverEstimatesZero",
			quantity: "0.0001",
			asks: []models.Order{
				ask("0.00001", "1", time.Second),
			},
			multiplier: "1.1",
			expect:     "0.00000001",
		},
		{
			name:       "EmptyBook",
			quantity:   "5",
			asks:       nil,
			multiplier: "1.1",
			expectErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := EstimateQuoteCost(dec(tt.quantity), tt.asks, dec(tt.multiplier))
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cost.Equal(dec(tt.expect)) {
				t.Errorf("expected cost %s, got %s", tt.expect, cost)
			}
		})
	}
}
