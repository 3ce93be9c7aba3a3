// Package engine implements the matching engine: order placement with
// atomic fund reservation, price-time matching at maker prices, settlement
// through the reservation manager, and cancellation under row locks. A
// single placement is one transaction: reservation, trades, and book
// mutations all commit or none do.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kinguila/exchange/internal/book"
	"github.com/kinguila/exchange/internal/db"
	"github.com/kinguila/exchange/internal/ledger"
	"github.com/kinguila/exchange/internal/models"
	"github.com/kinguila/exchange/internal/pricing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config holds the matching engine knobs, fixed at construction.
type Config struct {
	// MarketBuyFallbackMultiplier pads the cost estimate for the part of a
	// market buy the book cannot satisfy.
	MarketBuyFallbackMultiplier decimal.Decimal
	// FeeRate is applied to the quote leg of each trade; the seller
	// receives proceeds net of fee.
	FeeRate decimal.Decimal
	// PriceBandPercent is the half-width of the dynamic pricing band set on
	// limit orders at creation.
	PriceBandPercent decimal.Decimal
	// PageSize is the default ListOrders page size.
	PageSize int
}

// Engine accepts orders, reserves funds, and leaves the book consistent.
type Engine struct {
	store *db.Store
	funds *ledger.Manager
	cfg   Config
	log   zerolog.Logger
}

// New creates a matching engine.
func New(store *db.Store, funds *ledger.Manager, cfg Config, log zerolog.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Engine{store: store, funds: funds, cfg: cfg, log: log}
}

// PlaceOrderRequest is a validated-on-entry order submission.
type PlaceOrderRequest struct {
	UserID         int
	Side           models.OrderSide
	Kind           models.OrderKind
	BaseCurrency   string
	QuoteCurrency  string
	Quantity       decimal.Decimal
	Price          decimal.NullDecimal
	DynamicPricing bool
}

// PlaceOrderResult reports the outcome of a placement.
type PlaceOrderResult struct {
	Order            *models.Order   `json:"order"`
	ReservedAmount   decimal.Decimal `json:"reserved_amount"`
	ReservedCurrency string          `json:"reserved_currency"`
	Trades           []models.Trade  `json:"trades"`
}

func validate(req *PlaceOrderRequest) (models.OrderShape, error) {
	shape, ok := models.ShapeOf(req.Side, req.Kind)
	if !ok {
		return 0, ErrUnsupportedOrderShape
	}
	if req.BaseCurrency == "" || req.QuoteCurrency == "" || req.BaseCurrency == req.QuoteCurrency {
		return 0, ErrInvalidCurrencyPair
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidQuantity
	}
	switch req.Kind {
	case models.KindLimit:
		if !req.Price.Valid || req.Price.Decimal.LessThanOrEqual(decimal.Zero) {
			return 0, ErrPriceRequired
		}
	case models.KindMarket:
		if req.Price.Valid {
			return 0, ErrPriceForbidden
		}
	}
	if req.DynamicPricing && shape != models.ShapeLimitSell {
		return 0, ErrUnsupportedOrderShape
	}
	return shape, nil
}

// PlaceOrder validates the request, reserves the required funds, matches
// against the opposing book in price-time priority, and rests any limit
// remainder. Conflicting transactions are retried once under fresh locks.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	shape, err := validate(&req)
	if err != nil {
		return nil, err
	}

	result, err := e.placeOnce(ctx, req, shape)
	if isRetryableTxError(err) {
		e.log.Warn().Err(err).Msg("placement conflict, retrying once")
		result, err = e.placeOnce(ctx, req, shape)
	}
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("order_id", result.Order.ID.String()).
		Int("user_id", req.UserID).
		Str("side", string(req.Side)).
		Str("kind", string(req.Kind)).
		Str("status", string(result.Order.Status)).
		Int("trades", len(result.Trades)).
		Msg("order placed")
	return result, nil
}

func (e *Engine) placeOnce(ctx context.Context, req PlaceOrderRequest, shape models.OrderShape) (*PlaceOrderResult, error) {
	var result *PlaceOrderResult
	err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = e.placeInTx(ctx, tx, req, shape)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) placeInTx(ctx context.Context, tx pgx.Tx, req PlaceOrderRequest, shape models.OrderShape) (*PlaceOrderResult, error) {
	opposing := models.SideSell
	if req.Side == models.SideSell {
		opposing = models.SideBuy
	}
	// Limit orders only cross resting orders priced at or better than
	// their own limit; market orders take the whole book.
	priceBound := decimal.NullDecimal{}
	if req.Kind == models.KindLimit {
		priceBound = req.Price
	}
	resting, err := e.store.LockRestingOrders(ctx, tx, req.BaseCurrency, req.QuoteCurrency, opposing, priceBound)
	if err != nil {
		return nil, err
	}

	if req.Kind == models.KindMarket && len(resting) == 0 {
		return nil, ErrNoLiquidity
	}

	orderID := uuid.New()
	reserveCurrency := req.BaseCurrency
	reserveAmount := req.Quantity
	if shape == models.ShapeMarketBuy {
		reserveCurrency = req.QuoteCurrency
		reserveAmount, err = book.EstimateQuoteCost(req.Quantity, resting, e.cfg.MarketBuyFallbackMultiplier)
		if err != nil {
			return nil, ErrNoLiquidity
		}
	}

	reservation, err := e.funds.Reserve(ctx, tx, req.UserID, reserveCurrency, reserveAmount, orderID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                orderID,
		UserID:            req.UserID,
		Side:              req.Side,
		Kind:              req.Kind,
		BaseCurrency:      req.BaseCurrency,
		QuoteCurrency:     req.QuoteCurrency,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		FilledQuantity:    decimal.Zero,
		LimitPrice:        req.Price,
		Status:            models.StatusPending,
	}
	if req.Kind == models.KindLimit {
		lower, upper := pricing.Bounds(req.Price.Decimal, e.cfg.PriceBandPercent)
		order.OriginalPrice = req.Price
		order.PriceLowerBound = decimal.NewNullDecimal(lower)
		order.PriceUpperBound = decimal.NewNullDecimal(upper)
		order.DynamicPricingEnabled = req.DynamicPricing
		if req.DynamicPricing {
			now := time.Now()
			order.LastPriceUpdateAt = &now
		}
	}
	if err := e.store.InsertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	trades, consumed, err := e.settleFills(ctx, tx, order, reservation, book.PlanMatches(req.Quantity, resting))
	if err != nil {
		return nil, err
	}

	// Market orders never rest: refund whatever the fills did not consume
	// and close the unfilled remainder instead of leaving it on the book.
	if req.Kind == models.KindMarket {
		leftover := reservation.Amount.Sub(consumed)
		if leftover.GreaterThan(decimal.Zero) {
			if err := e.funds.Release(ctx, tx, reservation.ID, leftover); err != nil {
				return nil, err
			}
		}
		if order.RemainingQuantity.GreaterThan(decimal.Zero) {
			order.Status = models.StatusCancelled
		}
	}

	if err := e.store.UpdateOrderFill(ctx, tx, order.ID, order.RemainingQuantity,
		order.FilledQuantity, order.AverageFillPrice, order.Status); err != nil {
		return nil, err
	}

	return &PlaceOrderResult{
		Order:            order,
		ReservedAmount:   reservation.Amount,
		ReservedCurrency: reservation.Currency,
		Trades:           trades,
	}, nil
}

// settleFills applies a match plan: one trade per fill, both orders'
// quantities and statuses updated, and funds moved through the reservation
// manager. consumed is the total drawn from the incoming order's
// reservation. Fills are applied in plan order, preserving price-time
// priority in the trade records.
func (e *Engine) settleFills(ctx context.Context, tx pgx.Tx, incoming *models.Order,
	incomingRes *models.FundReservation, fills []book.Fill) ([]models.Trade, decimal.Decimal, error) {

	trades := make([]models.Trade, 0, len(fills))
	consumed := decimal.Zero

	for _, f := range fills {
		total := f.Price.Mul(f.Quantity).Round(8)
		fee := total.Mul(e.cfg.FeeRate).Round(8)

		restingRes, err := e.store.GetReservationByReference(ctx, tx, f.Resting.ID)
		if err != nil {
			return nil, decimal.Zero, err
		}

		var buyOrder, sellOrder *models.Order
		if incoming.Side == models.SideBuy {
			buyOrder, sellOrder = incoming, f.Resting
			// Buyer spends quote from the incoming hold, seller's base hold
			// settles to the buyer.
			if err := e.settleLeg(ctx, tx, incomingRes, total, sellOrder.UserID, incoming.QuoteCurrency, total.Sub(fee)); err != nil {
				return nil, decimal.Zero, err
			}
			if err := e.settleLeg(ctx, tx, restingRes, f.Quantity, buyOrder.UserID, incoming.BaseCurrency, f.Quantity); err != nil {
				return nil, decimal.Zero, err
			}
			consumed = consumed.Add(total)
		} else {
			buyOrder, sellOrder = f.Resting, incoming
			if err := e.settleLeg(ctx, tx, restingRes, total, sellOrder.UserID, incoming.QuoteCurrency, total.Sub(fee)); err != nil {
				return nil, decimal.Zero, err
			}
			if err := e.settleLeg(ctx, tx, incomingRes, f.Quantity, buyOrder.UserID, incoming.BaseCurrency, f.Quantity); err != nil {
				return nil, decimal.Zero, err
			}
			consumed = consumed.Add(f.Quantity)
		}

		trade := models.Trade{
			ID:            uuid.New(),
			BuyOrderID:    buyOrder.ID,
			SellOrderID:   sellOrder.ID,
			BuyerID:       buyOrder.UserID,
			SellerID:      sellOrder.UserID,
			BaseCurrency:  incoming.BaseCurrency,
			QuoteCurrency: incoming.QuoteCurrency,
			Quantity:      f.Quantity,
			Price:         f.Price,
			TotalAmount:   total,
			Fee:           fee,
		}
		if err := e.store.InsertTrade(ctx, tx, &trade); err != nil {
			return nil, decimal.Zero, err
		}
		trades = append(trades, trade)

		applyFill(f.Resting, f.Quantity, total)
		if err := e.store.UpdateOrderFill(ctx, tx, f.Resting.ID, f.Resting.RemainingQuantity,
			f.Resting.FilledQuantity, f.Resting.AverageFillPrice, f.Resting.Status); err != nil {
			return nil, decimal.Zero, err
		}
		applyFill(incoming, f.Quantity, total)
	}

	return trades, consumed, nil
}

// settleLeg consumes amount from a hold and credits the counterparty.
// A dust fill can round a quote leg to zero at 8 places; such a leg moves
// nothing and is skipped rather than rejected.
func (e *Engine) settleLeg(ctx context.Context, tx pgx.Tx, res *models.FundReservation,
	amount decimal.Decimal, toUser int, currency string, credit decimal.Decimal) error {

	if amount.GreaterThan(decimal.Zero) {
		if err := e.funds.Consume(ctx, tx, res.ID, amount); err != nil {
			return err
		}
	}
	if credit.GreaterThan(decimal.Zero) {
		return e.funds.Credit(ctx, tx, toUser, currency, credit)
	}
	return nil
}

// applyFill mutates an order's fill progress for one execution.
func applyFill(o *models.Order, quantity, total decimal.Decimal) {
	prevNotional := decimal.Zero
	if o.AverageFillPrice.Valid {
		prevNotional = o.AverageFillPrice.Decimal.Mul(o.FilledQuantity)
	}
	o.RemainingQuantity = o.RemainingQuantity.Sub(quantity)
	o.FilledQuantity = o.FilledQuantity.Add(quantity)
	o.AverageFillPrice = decimal.NewNullDecimal(
		prevNotional.Add(total).Div(o.FilledQuantity).Round(8))
	if o.RemainingQuantity.IsZero() {
		o.Status = models.StatusFilled
	} else {
		o.Status = models.StatusPartiallyFilled
	}
}

// CancelOrderResult reports the funds returned by a cancellation.
type CancelOrderResult struct {
	ReleasedAmount   decimal.Decimal `json:"released_amount"`
	ReleasedCurrency string          `json:"released_currency"`
}

// CancelOrder cancels an open order owned by the caller, releasing the
// reservation for the unfilled remainder. The order row is locked before
// the status check, so a cancel never lands on an order that a concurrent
// match just filled.
func (e *Engine) CancelOrder(ctx context.Context, callerID int, orderID uuid.UUID) (*CancelOrderResult, error) {
	result, err := e.cancelOnce(ctx, callerID, orderID)
	if isRetryableTxError(err) {
		e.log.Warn().Err(err).Msg("cancellation conflict, retrying once")
		result, err = e.cancelOnce(ctx, callerID, orderID)
	}
	if err != nil {
		return nil, err
	}
	e.log.Info().
		Str("order_id", orderID.String()).
		Int("user_id", callerID).
		Str("released", result.ReleasedAmount.String()).
		Str("currency", result.ReleasedCurrency).
		Msg("order cancelled")
	return result, nil
}

func (e *Engine) cancelOnce(ctx context.Context, callerID int, orderID uuid.UUID) (*CancelOrderResult, error) {
	var result *CancelOrderResult
	err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		o, err := e.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if o.UserID != callerID {
			return ErrNotOwner
		}
		if !o.Status.Open() {
			return ErrAlreadyTerminal
		}

		reservation, err := e.store.GetReservationByReference(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		released, currency, err := e.funds.Cancel(ctx, tx, reservation.ID)
		if err != nil {
			return err
		}
		if err := e.store.SetOrderStatus(ctx, tx, o.ID, models.StatusCancelled); err != nil {
			return err
		}
		result = &CancelOrderResult{ReleasedAmount: released, ReleasedCurrency: currency}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OrderDetail is an order with its executions and reservation summary.
type OrderDetail struct {
	Order       *models.Order           `json:"order"`
	Trades      []models.Trade          `json:"trades"`
	Reservation *models.FundReservation `json:"reservation"`
}

// GetOrder retrieves an order with embedded trades and its reservation.
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	trades, err := e.store.TradesForOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	reservation, err := e.store.GetReservationByReference(ctx, e.store.Pool(), o.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	return &OrderDetail{Order: o, Trades: trades, Reservation: reservation}, nil
}

// ListOrders retrieves a page of the caller's orders.
func (e *Engine) ListOrders(ctx context.Context, callerID int, status models.OrderStatus, base, quote string, page int) ([]models.Order, error) {
	if page < 1 {
		page = 1
	}
	return e.store.ListOrders(ctx, callerID, db.OrderFilter{
		Status:        status,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Limit:         e.cfg.PageSize,
		Offset:        (page - 1) * e.cfg.PageSize,
	})
}

// Depth returns the top-of-book snapshot for a pair.
func (e *Engine) Depth(ctx context.Context, base, quote string) (*models.BookDepth, error) {
	return e.store.Depth(ctx, base, quote)
}

// isRetryableTxError reports whether err is a serialization failure or
// deadlock worth one retry under fresh locks.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
