package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kinguila/exchange/internal/api"
	"github.com/kinguila/exchange/internal/auth"
	"github.com/kinguila/exchange/internal/config"
	"github.com/kinguila/exchange/internal/db"
	"github.com/kinguila/exchange/internal/engine"
	"github.com/kinguila/exchange/internal/ledger"
	"github.com/kinguila/exchange/internal/pricing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type depthBroadcaster struct {
	engine    *engine.Engine
	clients   map[*wsClient]bool
	clientsMu sync.RWMutex
}

func (b *depthBroadcaster) broadcast(ctx context.Context, base, quote string) {
	depth, err := b.engine.Depth(ctx, base, quote)
	if err != nil {
		log.Error().Err(err).Msg("failed to load depth for broadcast")
		return
	}
	data, err := json.Marshal(map[string]any{"base": base, "quote": quote, "depth": depth})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal depth")
		return
	}

	b.clientsMu.RLock()
	stale := []*wsClient{}
	for client := range b.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	b.clientsMu.RUnlock()

	if len(stale) > 0 {
		b.clientsMu.Lock()
		for _, client := range stale {
			delete(b.clients, client)
		}
		b.clientsMu.Unlock()
	}
}

func (b *depthBroadcaster) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &wsClient{conn: conn}
	b.clientsMu.Lock()
	b.clients[client] = true
	b.clientsMu.Unlock()

	b.broadcast(r.Context(), "EUR", "AOA")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			b.clientsMu.Lock()
			delete(b.clients, client)
			b.clientsMu.Unlock()
			break
		}
	}
}

// Main entry point: sets up the store, engines, and HTTP server, and runs
// the periodic pricing sweep.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.NewStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	if cfg.Database.Migrate {
		if err := store.Migrate(ctx, cfg.Database.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	funds := ledger.NewManager(store)
	matching := engine.New(store, funds, engine.Config{
		MarketBuyFallbackMultiplier: decimal.NewFromFloat(cfg.Trading.MarketBuyFallbackMultiplier),
		FeeRate:                     decimal.NewFromFloat(cfg.Trading.FeeRate),
		PriceBandPercent:            decimal.NewFromFloat(cfg.Trading.PriceBandPercent),
		PageSize:                    cfg.Trading.PageSize,
	}, log.Logger)
	pricer := pricing.NewEngine(store, pricing.Config{
		VWAPWindow:        cfg.Pricing.VWAPWindow,
		MinTradeCount:     cfg.Pricing.MinTradeCount,
		MinVolume:         decimal.NewFromFloat(cfg.Pricing.MinVolume),
		CompetitiveMargin: decimal.NewFromFloat(cfg.Pricing.CompetitiveMargin),
		MinChangePercent:  decimal.NewFromFloat(cfg.Pricing.MinChangePercent),
		MaxChangePercent:  decimal.NewFromFloat(cfg.Pricing.MaxChangePercent),
		UpdateInterval:    cfg.Pricing.UpdateInterval,
		SweepConcurrency:  cfg.Pricing.SweepConcurrency,
	}, log.Logger)
	authService := auth.NewService(store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(matching, pricer, authService, log.Logger)
	broadcaster := &depthBroadcaster{engine: matching, clients: make(map[*wsClient]bool)}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", broadcaster.handleWebSocket)
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/orderbook/depth", handler.GetOrderBookDepth)

	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.ListOrders)
		r.Get("/orders/{id}", handler.GetOrder)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Post("/orders/{id}/dynamic-pricing", handler.ToggleDynamicPricing)
		r.Post("/pricing/sweep", handler.RunPricingSweep)
	})

	// Periodic pricing sweep and depth broadcast.
	go func() {
		sweep := time.NewTicker(cfg.Pricing.UpdateInterval)
		push := time.NewTicker(5 * time.Second)
		defer sweep.Stop()
		defer push.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				if _, err := pricer.Sweep(ctx); err != nil {
					log.Error().Err(err).Msg("pricing sweep failed")
				}
			case <-push.C:
				broadcaster.broadcast(ctx, "EUR", "AOA")
			}
		}
	}()

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
