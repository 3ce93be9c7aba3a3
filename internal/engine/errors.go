package engine

import "errors"

// Validation and funds errors are returned synchronously to the caller
// before any state change; conflict errors surface after one internal retry.
var (
	ErrInvalidCurrencyPair   = errors.New("base and quote currency must differ")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrPriceRequired         = errors.New("limit orders require a positive price")
	ErrPriceForbidden        = errors.New("market orders must not carry a price")
	ErrUnsupportedOrderShape = errors.New("buy orders are market-only")
	ErrNoLiquidity           = errors.New("no liquidity for market order")
	ErrOrderNotFound         = errors.New("order not found")
	ErrNotOwner              = errors.New("order not owned by caller")
	ErrAlreadyTerminal       = errors.New("order already filled or cancelled")
)
