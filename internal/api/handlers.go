package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kinguila/exchange/internal/auth"
	"github.com/kinguila/exchange/internal/engine"
	"github.com/kinguila/exchange/internal/ledger"
	"github.com/kinguila/exchange/internal/models"
	"github.com/kinguila/exchange/internal/pricing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type ctxKey string

// UserIDKey carries the authenticated caller's id through the request context.
const UserIDKey ctxKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine  *engine.Engine
	Pricing *pricing.Engine
	Auth    *auth.Service
	Log     zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(eng *engine.Engine, pr *pricing.Engine, authService *auth.Service, log zerolog.Logger) *Handler {
	return &Handler{Engine: eng, Pricing: pr, Auth: authService, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": msg})
}

// writeEngineError maps the engine/ledger/pricing error taxonomy onto HTTP
// responses with stable error kinds.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidCurrencyPair):
		writeError(w, http.StatusBadRequest, "InvalidCurrencyPair", err.Error())
	case errors.Is(err, engine.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "InvalidQuantity", err.Error())
	case errors.Is(err, engine.ErrPriceRequired):
		writeError(w, http.StatusBadRequest, "PriceRequiredForLimit", err.Error())
	case errors.Is(err, engine.ErrPriceForbidden):
		writeError(w, http.StatusBadRequest, "PriceForbiddenForMarket", err.Error())
	case errors.Is(err, engine.ErrUnsupportedOrderShape):
		writeError(w, http.StatusBadRequest, "UnsupportedOrderShape", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "InsufficientFunds", err.Error())
	case errors.Is(err, engine.ErrNoLiquidity):
		writeError(w, http.StatusUnprocessableEntity, "NoLiquidity", err.Error())
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, pricing.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, engine.ErrNotOwner), errors.Is(err, pricing.ErrNotOwner):
		writeError(w, http.StatusForbidden, "NotOwner", err.Error())
	case errors.Is(err, engine.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "AlreadyTerminal", err.Error())
	case errors.Is(err, pricing.ErrNotEligible):
		writeError(w, http.StatusBadRequest, "NotEligible", err.Error())
	default:
		h.Log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "SystemFailure", "internal error")
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Validation", "username and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SystemFailure", "failed to register user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "username": user.Username})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and resolves the caller id.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(UserIDKey).(int)
	return id, ok
}

// PlaceOrderRequest is the order placement payload. Quantity and price are
// decimal strings or JSON numbers.
type PlaceOrderRequest struct {
	Side           string           `json:"side"`
	Kind           string           `json:"kind"`
	BaseCurrency   string           `json:"base_currency"`
	QuoteCurrency  string           `json:"quote_currency"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	DynamicPricing bool             `json:"dynamic_pricing"`
}

// PlaceOrder handles order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid request body")
		return
	}

	price := decimal.NullDecimal{}
	if req.Price != nil {
		price = decimal.NewNullDecimal(*req.Price)
	}
	result, err := h.Engine.PlaceOrder(r.Context(), engine.PlaceOrderRequest{
		UserID:         userID,
		Side:           models.OrderSide(req.Side),
		Kind:           models.OrderKind(req.Kind),
		BaseCurrency:   req.BaseCurrency,
		QuoteCurrency:  req.QuoteCurrency,
		Quantity:       req.Quantity,
		Price:          price,
		DynamicPricing: req.DynamicPricing,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid order id")
		return
	}

	result, err := h.Engine.CancelOrder(r.Context(), userID, orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetOrder retrieves an order with embedded trades and reservation summary.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid order id")
		return
	}

	detail, err := h.Engine.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListOrders retrieves a page of the caller's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}
	orders, err := h.Engine.ListOrders(r.Context(), userID,
		models.OrderStatus(r.URL.Query().Get("status")),
		r.URL.Query().Get("base"), r.URL.Query().Get("quote"), page)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderBookDepth returns the top-of-book snapshot for a pair.
func (h *Handler) GetOrderBookDepth(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	quote := r.URL.Query().Get("quote")
	if base == "" || quote == "" {
		writeError(w, http.StatusBadRequest, "Validation", "base and quote query parameters required")
		return
	}

	depth, err := h.Engine.Depth(r.Context(), base, quote)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

// ToggleDynamicPricing flips dynamic pricing on one of the caller's orders.
func (h *Handler) ToggleDynamicPricing(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid order id")
		return
	}

	var req struct {
		Enable bool `json:"enable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid request body")
		return
	}

	order, err := h.Pricing.Toggle(r.Context(), userID, orderID, req.Enable)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current_price":  order.LimitPrice,
		"original_price": order.OriginalPrice,
	})
}

// RunPricingSweep triggers a dynamic pricing sweep. Internal trigger; the
// scheduler in cmd/server drives it in production.
func (h *Handler) RunPricingSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Pricing.Sweep(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
