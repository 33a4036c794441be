// cmd/migrate/main.go
//
// Applies the embedded registry migrations and exits.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/socialcdn/image-pipeline/internal/registry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := registry.OpenPool(ctx, dsn, 5)
	if err != nil {
		logger.Error("open registry", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := registry.Migrate(ctx, pool); err != nil {
		logger.Error("apply migrations", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
