package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name     string
		side     OrderSide
		kind     OrderKind
		expectOK bool
		expect   OrderShape
	}{
		{name: "MarketBuy", side: SideBuy, kind: KindMarket, expectOK: true, expect: ShapeMarketBuy},
		{name: "MarketSell", side: SideSell, kind: KindMarket, expectOK: true, expect: ShapeMarketSell},
		{name: "LimitSell", side: SideSell, kind: KindLimit, expectOK: true, expect: ShapeLimitSell},
		{name: "LimitBuyUnsupported", side: SideBuy, kind: KindLimit, expectOK: false},
		{name: "UnknownSide", side: "short", kind: KindLimit, expectOK: false},
		{name: "UnknownKind", side: SideSell, kind: "stop", expectOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, ok := ShapeOf(tt.side, tt.kind)
			if ok != tt.expectOK {
				t.Fatalf("expected ok=%v, got %v", tt.expectOK, ok)
			}
			if ok && shape != tt.expect {
				t.Errorf("expected shape %v, got %v", tt.expect, shape)
			}
		})
	}
}

func TestOrderStatus_Open(t *testing.T) {
	open := []OrderStatus{StatusPending, StatusPartiallyFilled}
	for _, s := range open {
		if !s.Open() {
			t.Errorf("expected %s to be open", s)
		}
	}
	terminal := []OrderStatus{StatusFilled, StatusCancelled}
	for _, s := range terminal {
		if s.Open() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
}

func TestFundReservation_Outstanding(t *testing.T) {
	r := FundReservation{
		Amount:         decimal.RequireFromString("10"),
		ReleasedAmount: decimal.RequireFromString("3.5"),
	}
	if !r.Outstanding().Equal(decimal.RequireFromString("6.5")) {
		t.Errorf("expected outstanding 6.5, got %s", r.Outstanding())
	}
}
