package pricing

import (
	"testing"

	"github.com/kinguila/exchange/internal/models"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(price, quantity string) models.Trade {
	return models.Trade{Price: dec(price), Quantity: dec(quantity)}
}

func TestCalculateVWAP(t *testing.T) {
	tests := []struct {
		name       string
		trades     []models.Trade
		wantPrice  string
		wantVolume string
		wantCount  int
		wantNull   bool
	}{
		{
			name:     "NoTrades",
			trades:   nil,
			wantNull: true,
		},
		{
			name: "SingleTrade",
			trades: []models.Trade{
				trade("1150", "10"),
			},
			wantPrice:  "1150",
			wantVolume: "10",
			wantCount:  1,
		},
		{
			name: "VolumeWeighted",
			trades: []models.Trade{
				trade("1100", "10"),
				trade("1200", "30"),
			},
			// (1100×10 + 1200×30) / 40 = 1175
			wantPrice:  "1175",
			wantVolume: "40",
			wantCount:  2,
		},
		{
			name: "RoundsToEightPlaces",
			trades: []models.Trade{
				trade("1000", "1"),
				trade("1001", "2"),
			},
			// 3002/3 = 1000.66666666...
			wantPrice:  "1000.66666667",
			wantVolume: "3",
			wantCount:  2,
		},
		{
			name: "ZeroVolumeTrades",
			trades: []models.Trade{
				trade("1150", "0"),
			},
			wantNull: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateVWAP(tt.trades)
			if tt.wantNull {
				if got.Price.Valid {
					t.Fatalf("expected null price, got %s", got.Price.Decimal)
				}
				return
			}
			if !got.Price.Valid {
				t.Fatal("expected a price, got null")
			}
			if !got.Price.Decimal.Equal(dec(tt.wantPrice)) {
				t.Errorf("price: expected %s, got %s", tt.wantPrice, got.Price.Decimal)
			}
			if !got.TotalVolume.Equal(dec(tt.wantVolume)) {
				t.Errorf("volume: expected %s, got %s", tt.wantVolume, got.TotalVolume)
			}
			if got.TradeCount != tt.wantCount {
				t.Errorf("count: expected %d, got %d", tt.wantCount, got.TradeCount)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	lower, upper := Bounds(dec("1200"), dec("20"))
	if !lower.Equal(dec("960")) {
		t.Errorf("lower: expected 960, got %s", lower)
	}
	if !upper.Equal(dec("1440")) {
		t.Errorf("upper: expected 1440, got %s", upper)
	}

	lower, upper = Bounds(dec("100"), dec("0"))
	if !lower.Equal(dec("100")) || !upper.Equal(dec("100")) {
		t.Errorf("zero band: expected [100, 100], got [%s, %s]", lower, upper)
	}
}
