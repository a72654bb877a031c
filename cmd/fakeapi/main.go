// Command fakeapi runs the in-memory fake backend (identity routes under
// /auth/v1 and the nutrition API under /api) for local development:
//
//	FAKEAPI_SEED_USER=me@example.com FAKEAPI_SEED_PASSWORD=secret1 go run ./cmd/fakeapi
//	NUTRITION_API_URL=http://localhost:8000/api \
//	NUTRITION_AUTH_URL=http://localhost:8000/auth/v1 nutrition login --email me@example.com
//
// State is lost when the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/nutrition-client/internal/fakeapi"
	"github.com/sakif/nutrition-client/internal/model"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := run(logger); err != nil {
		logger.Error("fake backend failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	port := 8000
	if portStr := os.Getenv("PORT"); portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid PORT value %q", portStr)
		}
	}

	// A fresh secret per run is fine: tokens do not outlive the process.
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET not set; using a random secret for this run")
	}

	cfg := fakeapi.Config{
		JWTSecret:           secret,
		APIKey:              os.Getenv("FAKEAPI_API_KEY"),
		RequireConfirmation: os.Getenv("FAKEAPI_REQUIRE_CONFIRMATION") == "true",
	}
	if ttl := os.Getenv("FAKEAPI_TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid FAKEAPI_TOKEN_TTL %q: %w", ttl, err)
		}
		cfg.TokenTTL = d
	}

	srv, err := fakeapi.New(cfg, logger)
	if err != nil {
		return err
	}

	if email := os.Getenv("FAKEAPI_SEED_USER"); email != "" {
		id, err := srv.CreateUser(email, os.Getenv("FAKEAPI_SEED_PASSWORD"), "")
		if err != nil {
			return fmt.Errorf("seeding user: %w", err)
		}
		logger.Info("seeded user", slog.String("email", email), slog.String("userID", id))
	}
	if err := seedFoods(srv); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx, fmt.Sprintf(":%d", port))
}

// seedFoods adds a few catalogue entries so a fresh backend is browsable.
func seedFoods(srv *fakeapi.Server) error {
	fiber := func(v float64) *float64 { return &v }
	foods := []model.FoodInput{
		{Name: "Apple", CaloriesPer100g: 52, ProteinPer100g: 0.3, CarbsPer100g: 14, FatPer100g: 0.2, FiberPer100g: fiber(2.4)},
		{Name: "Chicken breast", CaloriesPer100g: 165, ProteinPer100g: 31, CarbsPer100g: 0, FatPer100g: 3.6},
		{Name: "Egg", CaloriesPer100g: 155, ProteinPer100g: 13, CarbsPer100g: 1.1, FatPer100g: 11},
		{Name: "Oats", CaloriesPer100g: 389, ProteinPer100g: 16.9, CarbsPer100g: 66.3, FatPer100g: 6.9, FiberPer100g: fiber(10.6)},
		{Name: "White rice (cooked)", CaloriesPer100g: 130, ProteinPer100g: 2.7, CarbsPer100g: 28, FatPer100g: 0.3, FiberPer100g: fiber(0.4)},
	}
	for _, f := range foods {
		if _, err := srv.SeedFood(f); err != nil {
			return fmt.Errorf("seeding food %q: %w", f.Name, err)
		}
	}
	return nil
}
