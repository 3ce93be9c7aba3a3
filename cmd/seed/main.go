package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kinguila/exchange/internal/config"
	"github.com/kinguila/exchange/internal/db"
	"github.com/kinguila/exchange/internal/engine"
	"github.com/kinguila/exchange/internal/ledger"
	"github.com/kinguila/exchange/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// bcrypt hash of "password"
const seedPasswordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

func ensureUser(ctx context.Context, store *db.Store, username string) int {
	var id int
	err := store.Pool().QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
	if err == nil {
		return id
	}
	err = store.Pool().QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id",
		username, seedPasswordHash).Scan(&id)
	if err != nil {
		log.Fatal().Err(err).Str("username", username).Msg("failed to create user")
	}
	return id
}

func fundWallet(ctx context.Context, store *db.Store, userID int, currency, amount string) {
	_, err := store.Pool().Exec(ctx, `
		INSERT INTO wallets (user_id, currency, available) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency) DO UPDATE SET available = EXCLUDED.available, updated_at = now()`,
		userID, currency, decimal.RequireFromString(amount))
	if err != nil {
		log.Fatal().Err(err).Int("user_id", userID).Str("currency", currency).Msg("failed to fund wallet")
	}
}

// Seed the database with test users, funded wallets, and resting sell offers.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	store, err := db.NewStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	if err := store.Migrate(ctx, cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	var orderCount int
	if err := store.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM orders").Scan(&orderCount); err != nil {
		log.Fatal().Err(err).Msg("failed to check orders")
	}
	if orderCount > 0 {
		fmt.Printf("Database already has %d orders. No need to seed.\n", orderCount)
		os.Exit(0)
	}

	trader1 := ensureUser(ctx, store, "trader1")
	trader2 := ensureUser(ctx, store, "trader2")

	fundWallet(ctx, store, trader1, "EUR", "1000")
	fundWallet(ctx, store, trader1, "AOA", "0")
	fundWallet(ctx, store, trader2, "EUR", "0")
	fundWallet(ctx, store, trader2, "AOA", "2000000")

	funds := ledger.NewManager(store)
	matching := engine.New(store, funds, engine.Config{
		MarketBuyFallbackMultiplier: decimal.NewFromFloat(cfg.Trading.MarketBuyFallbackMultiplier),
		FeeRate:                     decimal.NewFromFloat(cfg.Trading.FeeRate),
		PriceBandPercent:            decimal.NewFromFloat(cfg.Trading.PriceBandPercent),
		PageSize:                    cfg.Trading.PageSize,
	}, log.Logger)

	// Resting EUR/AOA sell offers from trader1, placed through the engine so
	// reservations and balances stay consistent.
	offers := []struct {
		quantity string
		price    string
		dynamic  bool
	}{
		{"100", "1150", true},
		{"50", "1180", false},
		{"200", "1225", false},
	}
	for _, o := range offers {
		result, err := matching.PlaceOrder(ctx, engine.PlaceOrderRequest{
			UserID:         trader1,
			Side:           models.SideSell,
			Kind:           models.KindLimit,
			BaseCurrency:   "EUR",
			QuoteCurrency:  "AOA",
			Quantity:       decimal.RequireFromString(o.quantity),
			Price:          decimal.NewNullDecimal(decimal.RequireFromString(o.price)),
			DynamicPricing: o.dynamic,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to place seed offer")
		}
		fmt.Printf("Seeded sell offer %s: %s EUR @ %s AOA\n", result.Order.ID, o.quantity, o.price)
	}

	fmt.Println("Successfully seeded the database!")
}
