// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialcdn/image-pipeline/internal/breaker"
	"github.com/socialcdn/image-pipeline/internal/bus"
	"github.com/socialcdn/image-pipeline/internal/img"
	"github.com/socialcdn/image-pipeline/internal/pipeline"
	"github.com/socialcdn/image-pipeline/internal/queue"
	"github.com/socialcdn/image-pipeline/internal/registry"
	"github.com/socialcdn/image-pipeline/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"registry_backend", cfg.RegistryBackend,
		"queue_backend", cfg.QueueBackend,
		"storage_backend", cfg.StorageBackend,
		"target_sizes", cfg.TargetSizes,
		"concurrency", cfg.Concurrency,
		"cdn_host", cfg.CDNHost)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, cleanup, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "open registry", err)
	}
	defer cleanup()

	cb := breaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	guarded := registry.Guard(reg, cb)

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "open storage", err)
	}

	q, pub, closeBus, err := buildQueue(cfg, logger)
	if err != nil {
		fatal(logger, "open queue", err)
	}
	defer closeBus()

	rec := pipeline.NewReconciler(guarded, store, q, logger, pipeline.ReconcilerConfig{
		GraceWindow: cfg.GraceWindow,
		RetryWindow: cfg.RetryWindow,
		HardLimit:   cfg.HardLimit,
		OrphanAge:   cfg.OrphanAge,
		TargetSizes: cfg.TargetSizes,
		CDNHost:     cfg.CDNHost,
	})
	go rec.Start(ctx, cfg.ReconcileInterval)
	logger.Info("reconciler started", "interval", cfg.ReconcileInterval)

	health := pipeline.NewHealth(guarded, cb, rec, logger)
	httpDone := serveHTTP(ctx, cfg.HTTPAddr, health, logger)

	pool := pipeline.NewPool(guarded, store, q,
		img.NewFetcher(cfg.FetchTimeout, cfg.MaxSource),
		img.NewTranscoder(cfg.JPEGQuality),
		pub, logger,
		pipeline.PoolConfig{
			Concurrency:   cfg.Concurrency,
			CDNHost:       cfg.CDNHost,
			BackoffBase:   cfg.BackoffBase,
			ResultSubject: cfg.ResultSubject,
		})

	logger.Info("worker pool running", "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	pool.Run(ctx)

	<-httpDone
	logger.Info("worker stopped")
}

func buildRegistry(ctx context.Context, cfg config, logger *slog.Logger) (registry.Registry, func(), error) {
	switch cfg.RegistryBackend {
	case "memory":
		logger.Warn("using in-memory registry, state is lost on restart")
		return registry.NewMemory(), func() {}, nil
	case "postgres":
		pool, err := registry.OpenPool(ctx, cfg.DatabaseURL, 5)
		if err != nil {
			return nil, nil, err
		}
		if cfg.MigrateOnStart {
			if err := registry.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("migrations applied")
		}
		return registry.NewPostgres(pool), pool.Close, nil
	default:
		return nil, nil, errors.New("REGISTRY_BACKEND must be postgres or memory")
	}
}

func buildStorage(ctx context.Context, cfg config, logger *slog.Logger) (storage.Client, error) {
	switch cfg.StorageBackend {
	case "memory":
		logger.Warn("using in-memory storage, objects are lost on restart")
		return storage.NewMemory(), nil
	case "s3":
		return storage.OpenS3(ctx, cfg.S3)
	default:
		return nil, errors.New("STORAGE_BACKEND must be s3 or memory")
	}
}

func buildQueue(cfg config, logger *slog.Logger) (queue.JobQueue, pipeline.Publisher, func(), error) {
	switch cfg.QueueBackend {
	case "memory":
		logger.Warn("using in-process queue, messages are lost on restart")
		return queue.NewChannel(0), nil, func() {}, nil
	case "nats":
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
		q, err := bus.NewQueue(nc, cfg.JobSubject, cfg.WorkerQueue)
		if err != nil {
			nc.Close()
			return nil, nil, nil, err
		}
		return q, nc, nc.Close, nil
	default:
		return nil, nil, nil, errors.New("QUEUE_BACKEND must be nats or memory")
	}
}

// serveHTTP exposes /healthz and /metrics until ctx is canceled.
func serveHTTP(ctx context.Context, addr string, health *pipeline.Health, logger *slog.Logger) <-chan struct{} {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	done := make(chan struct{})

	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
		}
	}()
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}()
	return done
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
