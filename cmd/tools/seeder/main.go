package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-cart/internal/catalog"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/obs"
)

type seedProduct struct {
	ID       string
	Name     string
	Category string
	Price    string
	Stock    int
}

var products = []seedProduct{
	{"milk-1l", "Toned Milk 1L", "dairy", "30.00", 200},
	{"curd-400g", "Fresh Curd 400g", "dairy", "45.00", 120},
	{"paneer-200g", "Paneer 200g", "dairy", "90.00", 80},
	{"bread-brown", "Brown Bread", "bakery", "35.50", 150},
	{"eggs-12", "Farm Eggs (12)", "bakery", "84.00", 100},
	{"rice-5kg", "Basmati Rice 5kg", "staples", "525.00", 60},
	{"atta-5kg", "Whole Wheat Atta 5kg", "staples", "240.00", 70},
	{"dal-1kg", "Toor Dal 1kg", "staples", "160.00", 90},
	{"sugar-1kg", "Sugar 1kg", "staples", "48.00", 110},
	{"oil-1l", "Sunflower Oil 1L", "staples", "145.00", 85},
	{"tomato-1kg", "Tomatoes 1kg", "produce", "40.00", 140},
	{"onion-1kg", "Onions 1kg", "produce", "35.00", 160},
	{"banana-6", "Bananas (6)", "produce", "50.00", 130},
	{"apple-1kg", "Shimla Apples 1kg", "produce", "180.00", 75},
	{"tea-250g", "Assam Tea 250g", "beverages", "125.00", 95},
	{"coffee-200g", "Filter Coffee 200g", "beverages", "210.00", 65},
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(envOrDefault("LOG_FORMAT", "console"), envOrDefault("LOG_LEVEL", "info"))

	uri := strings.TrimSpace(os.Getenv("MONGO_URI"))
	if uri == "" {
		logger.Fatal().Msg("MONGO_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := docstore.Connect(ctx, uri, envOrDefault("MONGO_DATABASE", "toko"))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect mongo")
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }()

	store := docstore.NewMongo(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure indexes")
	}

	svc, err := catalog.NewService(catalog.ServiceConfig{Docs: store, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog service")
	}
	seeded := seedCatalog(ctx, svc, logger)
	logger.Info().Int("products", seeded).Msg("seeding completed")
}

func seedCatalog(ctx context.Context, svc *catalog.Service, logger zerolog.Logger) int {
	n := 0
	for _, p := range products {
		_, err := svc.Upsert(ctx, catalog.Product{
			ID:       p.ID,
			Name:     p.Name,
			Category: p.Category,
			Price:    decimal.RequireFromString(p.Price),
			Stock:    p.Stock,
		})
		if err != nil {
			logger.Error().Err(err).Str("product_id", p.ID).Msg("seed product")
			continue
		}
		n++
	}
	return n
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
