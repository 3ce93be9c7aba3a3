package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kinguila/exchange/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestHandler() *Handler {
	return NewHandler(nil, nil, auth.NewService(nil, testSecret, time.Hour), zerolog.Nop())
}

func signToken(t *testing.T, userID int, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     exp.Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func authedRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(context.WithValue(req.Context(), UserIDKey, 1))
}

func TestJWTAuthMiddleware(t *testing.T) {
	h := newTestHandler()
	var gotUserID int
	protected := h.JWTAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = callerID(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{
			name:       "MissingHeader",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "GarbageToken",
			header:     "Bearer not-a-token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "ExpiredToken",
			header:     "Bearer " + signToken(t, 42, time.Now().Add(-time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "ValidToken",
			header:     "Bearer " + signToken(t, 42, time.Now().Add(time.Hour)),
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "ValidTokenWithoutBearerPrefix",
			header:     signToken(t, 42, time.Now().Add(time.Hour)),
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUserID = 0
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, 42, gotUserID)
			}
		})
	}
}

func TestRegister_InvalidBody(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{name: "MalformedJSON", body: "{not json"},
		{name: "MissingUsername", body: `{"password": "secret"}`},
		{name: "MissingPassword", body: `{"username": "alice"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			h.Register(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Validation", resp["error"])
		})
	}
}

func TestPlaceOrder_Unauthenticated(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	h := newTestHandler()

	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, authedRequest(http.MethodPost, "/orders", []byte("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrder_InvalidID(t *testing.T) {
	h := newTestHandler()
	router := chi.NewRouter()
	router.Delete("/orders/{id}", h.CancelOrder)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/orders/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_InvalidID(t *testing.T) {
	h := newTestHandler()
	router := chi.NewRouter()
	router.Get("/orders/{id}", h.GetOrder)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderBookDepth_MissingPair(t *testing.T) {
	h := newTestHandler()

	tests := []string{"/orderbook/depth", "/orderbook/depth?base=EUR", "/orderbook/depth?quote=AOA"}
	for _, target := range tests {
		rec := httptest.NewRecorder()
		h.GetOrderBookDepth(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestToggleDynamicPricing_InvalidRequests(t *testing.T) {
	h := newTestHandler()
	router := chi.NewRouter()
	router.Post("/orders/{id}/dynamic-pricing", h.ToggleDynamicPricing)

	t.Run("InvalidID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/orders/nope/dynamic-pricing", []byte(`{"enable": true}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost,
			"/orders/8d9e6f1a-0b2c-4d3e-9f4a-5b6c7d8e9f0a/dynamic-pricing", []byte("{not json")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
