// Package pricing implements the VWAP calculator and the dynamic pricing
// engine that periodically nudges resting sell orders toward the recent
// market average, bounded by a fixed band around each order's original price.
package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kinguila/exchange/internal/db"
	"github.com/kinguila/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrOrderNotFound is returned when the order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOwner is returned when the caller does not own the order.
	ErrNotOwner = errors.New("order not owned by caller")
	// ErrNotEligible is returned when dynamic pricing cannot apply to the
	// order: only open sell-limit orders may carry it.
	ErrNotEligible = errors.New("order not eligible for dynamic pricing")
)

// Store is the storage surface the pricing engine needs. *db.Store
// implements it.
type Store interface {
	EligibleDynamicOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	TradesSince(ctx context.Context, base, quote string, since time.Time) ([]models.Trade, error)
	BestAskExcluding(ctx context.Context, base, quote string, exclude uuid.UUID) (decimal.NullDecimal, error)
	ApplyPriceUpdate(ctx context.Context, upd *models.PriceUpdate) (bool, error)
	SetDynamicPricing(ctx context.Context, orderID uuid.UUID, enable bool, upd *models.PriceUpdate) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// Config is the immutable pricing configuration, fixed at construction.
type Config struct {
	// VWAPWindow is the trailing trade window fed into the VWAP.
	VWAPWindow time.Duration
	// MinTradeCount and MinVolume gate how much recent activity the VWAP
	// needs before it drives a price.
	MinTradeCount int
	MinVolume     decimal.Decimal
	// CompetitiveMargin is the fractional discount applied below the
	// reference price, e.g. 0.01 prices 1% under.
	CompetitiveMargin decimal.Decimal
	// MinChangePercent suppresses updates smaller than this.
	MinChangePercent decimal.Decimal
	// MaxChangePercent suppresses updates larger than this per sweep.
	MaxChangePercent decimal.Decimal
	// UpdateInterval is how long an order must go untouched before the
	// sweep considers it again.
	UpdateInterval time.Duration
	// SweepConcurrency bounds how many orders a sweep reprices at once.
	SweepConcurrency int
}

// Engine is the dynamic pricing engine.
type Engine struct {
	store Store
	cfg   Config
	log   zerolog.Logger
}

// NewEngine creates a dynamic pricing engine with a fixed configuration.
func NewEngine(store Store, cfg Config, log zerolog.Logger) *Engine {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	return &Engine{store: store, cfg: cfg, log: log}
}

// Suggestion is the outcome of a price computation for one order.
type Suggestion struct {
	Price         decimal.Decimal
	Reason        string
	VWAPReference decimal.NullDecimal
	// HasData is false when neither the VWAP window nor the book offered a
	// reference price; the order is left untouched.
	HasData bool
}

// ComputeSuggestedPrice derives a target price for a resting sell order:
// VWAP less the competitive margin when the window has enough activity,
// otherwise the best competing ask less the margin, otherwise no change.
// The result is always clamped into the order's price band.
func (e *Engine) ComputeSuggestedPrice(ctx context.Context, o *models.Order) (Suggestion, error) {
	since := time.Now().Add(-e.cfg.VWAPWindow)
	trades, err := e.store.TradesSince(ctx, o.BaseCurrency, o.QuoteCurrency, since)
	if err != nil {
		return Suggestion{}, err
	}

	oneMinusMargin := decimal.NewFromInt(1).Sub(e.cfg.CompetitiveMargin)

	v := CalculateVWAP(trades)
	if v.Price.Valid && v.TradeCount >= e.cfg.MinTradeCount && v.TotalVolume.GreaterThanOrEqual(e.cfg.MinVolume) {
		return Suggestion{
			Price:         e.clamp(o, v.Price.Decimal.Mul(oneMinusMargin)),
			Reason:        models.PriceReasonVWAP,
			VWAPReference: v.Price,
			HasData:       true,
		}, nil
	}

	ask, err := e.store.BestAskExcluding(ctx, o.BaseCurrency, o.QuoteCurrency, o.ID)
	if err != nil {
		return Suggestion{}, err
	}
	if ask.Valid {
		return Suggestion{
			Price:   e.clamp(o, ask.Decimal.Mul(oneMinusMargin)),
			Reason:  models.PriceReasonBestAsk,
			HasData: true,
		}, nil
	}

	return Suggestion{Reason: models.PriceReasonNoMarketData}, nil
}

func (e *Engine) clamp(o *models.Order, price decimal.Decimal) decimal.Decimal {
	if o.PriceLowerBound.Valid && price.LessThan(o.PriceLowerBound.Decimal) {
		price = o.PriceLowerBound.Decimal
	}
	if o.PriceUpperBound.Valid && price.GreaterThan(o.PriceUpperBound.Decimal) {
		price = o.PriceUpperBound.Decimal
	}
	return price.Round(8)
}

// UpdateOrderPrice computes a suggestion for one order and applies it when
// the change clears the minimum threshold and stays under the per-update
// cap. Returns the record and whether it was applied; (nil, false) means no
// market data existed, while a skipped threshold check returns the record
// unapplied with reason no_update_needed.
func (e *Engine) UpdateOrderPrice(ctx context.Context, o *models.Order) (*models.PriceUpdate, bool, error) {
	if !o.LimitPrice.Valid {
		return nil, false, nil
	}
	s, err := e.ComputeSuggestedPrice(ctx, o)
	if err != nil {
		return nil, false, err
	}
	if !s.HasData {
		return nil, false, nil
	}

	old := o.LimitPrice.Decimal
	changePct := s.Price.Sub(old).Div(old).Mul(decimal.NewFromInt(100)).Round(6)
	upd := &models.PriceUpdate{
		ID:            uuid.New(),
		OrderID:       o.ID,
		UserID:        o.UserID,
		OldPrice:      old,
		NewPrice:      s.Price,
		ChangePercent: changePct,
		Reason:        s.Reason,
		VWAPReference: s.VWAPReference,
	}
	if changePct.Abs().LessThan(e.cfg.MinChangePercent) ||
		changePct.Abs().GreaterThan(e.cfg.MaxChangePercent) {
		upd.Reason = models.PriceReasonNoUpdateNeeded
		return upd, false, nil
	}

	applied, err := e.store.ApplyPriceUpdate(ctx, upd)
	if err != nil {
		return nil, false, err
	}
	return upd, applied, nil
}

// SweepDetail reports what the sweep did to one order.
type SweepDetail struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OldPrice      decimal.Decimal     `json:"old_price"`
	NewPrice      decimal.NullDecimal `json:"new_price"`
	ChangePercent decimal.NullDecimal `json:"change_percent"`
	Reason        string              `json:"reason"`
	Updated       bool                `json:"updated"`
}

// SweepResult summarizes one pricing sweep.
type SweepResult struct {
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Details   []SweepDetail `json:"details"`
}

// Sweep reprices every eligible order. Each order's update is independent:
// a failure on one is logged and skipped, never aborting the batch.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := time.Now().Add(-e.cfg.UpdateInterval)
	orders, err := e.store.EligibleDynamicOrders(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result = SweepResult{Processed: len(orders)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SweepConcurrency)

	for i := range orders {
		o := orders[i]
		g.Go(func() error {
			upd, applied, err := e.UpdateOrderPrice(gctx, &o)
			if err != nil {
				e.log.Error().Err(err).Str("order_id", o.ID.String()).Msg("pricing sweep: order update failed")
				return nil
			}
			detail := SweepDetail{OrderID: o.ID, OldPrice: o.LimitPrice.Decimal, Updated: applied}
			if upd != nil {
				detail.Reason = upd.Reason
				if applied {
					detail.NewPrice = decimal.NewNullDecimal(upd.NewPrice)
					detail.ChangePercent = decimal.NewNullDecimal(upd.ChangePercent)
				}
			} else {
				detail.Reason = models.PriceReasonNoMarketData
			}
			mu.Lock()
			if applied {
				result.Updated++
			}
			result.Details = append(result.Details, detail)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Info().Int("processed", result.Processed).Int("updated", result.Updated).Msg("pricing sweep complete")
	return &result, nil
}

// Toggle flips dynamic pricing on an order. Owner-only; applies only to
// open sell-limit orders. The toggle itself is recorded in the audit trail
// with a zero price delta.
func (e *Engine) Toggle(ctx context.Context, callerID int, orderID uuid.UUID, enable bool) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.UserID != callerID {
		return nil, ErrNotOwner
	}
	if o.Side != models.SideSell || o.Kind != models.KindLimit || !o.Status.Open() {
		return nil, ErrNotEligible
	}

	reason := models.PriceReasonDynamicEnabled
	if !enable {
		reason = models.PriceReasonDynamicDisabled
	}
	upd := &models.PriceUpdate{
		ID:            uuid.New(),
		OrderID:       o.ID,
		UserID:        o.UserID,
		OldPrice:      o.LimitPrice.Decimal,
		NewPrice:      o.LimitPrice.Decimal,
		ChangePercent: decimal.Zero,
		Reason:        reason,
	}
	if err := e.store.SetDynamicPricing(ctx, o.ID, enable, upd); err != nil {
		return nil, err
	}
	return e.store.GetOrder(ctx, o.ID)
}
