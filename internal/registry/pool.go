package registry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	poolBackoffBase  = 1 * time.Second
	poolBackoffScale = 1.618
)

// OpenPool connects a pgx pool with backoff, then verifies it with
// bounded pings. The worker refuses to start without a reachable
// registry; the circuit breaker handles outages after that.
func OpenPool(ctx context.Context, dsn string, retries int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse registry dsn: %w", err)
	}

	var pool *pgxpool.Pool
	var lastErr error
	for i := 0; i < retries; i++ {
		if pool, err = pgxpool.NewWithConfig(ctx, cfg); err == nil {
			break
		}
		lastErr = err
		time.Sleep(time.Duration(float64(poolBackoffBase) * math.Pow(poolBackoffScale, float64(i))))
	}
	if pool == nil {
		return nil, fmt.Errorf("connect registry after %d attempts: %w", retries, lastErr)
	}

	for i := 0; i < retries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		time.Sleep(time.Duration(float64(poolBackoffBase) * math.Pow(poolBackoffScale, float64(i))))
	}
	pool.Close()
	return nil, fmt.Errorf("ping registry after %d attempts: %w", retries, lastErr)
}
