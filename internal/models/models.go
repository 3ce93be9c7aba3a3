package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// OrderSide is the direction of an order.
type OrderSide string

// OrderKind distinguishes limit from market orders.
type OrderKind string

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"

	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"

	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
)

// Open reports whether an order in this status can still trade or be cancelled.
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusPartiallyFilled
}

// OrderShape is the tagged variant of the side/kind combinations this
// exchange supports. Buy orders are market-only: a limit buy has no shape.
type OrderShape int

const (
	ShapeMarketBuy OrderShape = iota
	ShapeMarketSell
	ShapeLimitSell
)

// ShapeOf maps a side/kind pair to its shape. ok is false for the
// unsupported limit-buy combination or unknown values.
func ShapeOf(side OrderSide, kind OrderKind) (OrderShape, bool) {
	switch {
	case side == SideBuy && kind == KindMarket:
		return ShapeMarketBuy, true
	case side == SideSell && kind == KindMarket:
		return ShapeMarketSell, true
	case side == SideSell && kind == KindLimit:
		return ShapeLimitSell, true
	}
	return 0, false
}

// Order is a request to exchange Quantity of BaseCurrency for QuoteCurrency.
type Order struct {
	ID                    uuid.UUID           `json:"id"`
	UserID                int                 `json:"user_id"`
	Side                  OrderSide           `json:"side"`
	Kind                  OrderKind           `json:"kind"`
	BaseCurrency          string              `json:"base_currency"`
	QuoteCurrency         string              `json:"quote_currency"`
	Quantity              decimal.Decimal     `json:"quantity"`
	RemainingQuantity     decimal.Decimal     `json:"remaining_quantity"`
	FilledQuantity        decimal.Decimal     `json:"filled_quantity"`
	LimitPrice            decimal.NullDecimal `json:"limit_price"`
	AverageFillPrice      decimal.NullDecimal `json:"average_fill_price"`
	Status                OrderStatus         `json:"status"`
	DynamicPricingEnabled bool                `json:"dynamic_pricing_enabled"`
	OriginalPrice         decimal.NullDecimal `json:"original_price"`
	PriceLowerBound       decimal.NullDecimal `json:"price_lower_bound"`
	PriceUpperBound       decimal.NullDecimal `json:"price_upper_bound"`
	LastPriceUpdateAt     *time.Time          `json:"last_price_update_at"`
	PriceUpdateCount      int                 `json:"price_update_count"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// Shape returns the order's tagged variant.
func (o *Order) Shape() (OrderShape, bool) {
	return ShapeOf(o.Side, o.Kind)
}

// Trade is an immutable execution record linking a resting and an incoming order.
type Trade struct {
	ID            uuid.UUID       `json:"id"`
	BuyOrderID    uuid.UUID       `json:"buy_order_id"`
	SellOrderID   uuid.UUID       `json:"sell_order_id"`
	BuyerID       int             `json:"buyer_id"`
	SellerID      int             `json:"seller_id"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Fee           decimal.Decimal `json:"fee"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// ReservationStatus is the lifecycle state of a fund reservation.
type ReservationStatus string

const (
	ReservationActive            ReservationStatus = "active"
	ReservationPartiallyReleased ReservationStatus = "partially_released"
	ReservationFullyReleased     ReservationStatus = "fully_released"
	ReservationCancelled         ReservationStatus = "cancelled"
)

// FundReservation is a hold against a user's available balance, tied to an
// order. ReleasedAmount is cumulative and counts both refunds back to the
// owner and amounts settled away to a counterparty.
type FundReservation struct {
	ID             uuid.UUID         `json:"id"`
	UserID         int               `json:"user_id"`
	Currency       string            `json:"currency"`
	Amount         decimal.Decimal   `json:"amount"`
	ReleasedAmount decimal.Decimal   `json:"released_amount"`
	ReferenceID    uuid.UUID         `json:"reference_id"`
	Status         ReservationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Outstanding is the amount still held by this reservation.
func (r *FundReservation) Outstanding() decimal.Decimal {
	return r.Amount.Sub(r.ReleasedAmount)
}

// Wallet is the per-user per-currency balance row, the single source of
// truth for funds. Orders reference reservations, never balances directly.
type Wallet struct {
	UserID    int             `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Reasons recorded on price update audit rows and sweep reports.
const (
	PriceReasonVWAP            = "vwap_calculation"
	PriceReasonBestAsk         = "best_ask_adjustment"
	PriceReasonNoMarketData    = "no_market_data"
	PriceReasonNoUpdateNeeded  = "no_update_needed"
	PriceReasonDynamicEnabled  = "dynamic_pricing_enabled"
	PriceReasonDynamicDisabled = "dynamic_pricing_disabled"
)

// PriceUpdate is an append-only audit row for a price mutation on an order.
type PriceUpdate struct {
	ID            uuid.UUID           `json:"id"`
	OrderID       uuid.UUID           `json:"order_id"`
	UserID        int                 `json:"user_id"`
	OldPrice      decimal.Decimal     `json:"old_price"`
	NewPrice      decimal.Decimal     `json:"new_price"`
	ChangePercent decimal.Decimal     `json:"change_percent"`
	Reason        string              `json:"reason"`
	VWAPReference decimal.NullDecimal `json:"vwap_reference"`
	CreatedAt     time.Time           `json:"created_at"`
}

// BookDepth is a snapshot of the top of the book for a currency pair.
type BookDepth struct {
	BestBid     decimal.NullDecimal `json:"best_bid"`
	BestAsk     decimal.NullDecimal `json:"best_ask"`
	BidQuantity decimal.Decimal     `json:"bid_quantity"`
	AskQuantity decimal.Decimal     `json:"ask_quantity"`
	Spread      decimal.NullDecimal `json:"spread"`
	MidPrice    decimal.NullDecimal `json:"mid_price"`
}
