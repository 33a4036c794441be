package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/socialcdn/image-pipeline/internal/img"
	"github.com/socialcdn/image-pipeline/internal/storage"
)

type config struct {
	RegistryBackend string // postgres | memory
	DatabaseURL     string
	MigrateOnStart  bool

	QueueBackend string // nats | memory
	NATSURL      string
	JobSubject   string
	WorkerQueue  string

	StorageBackend string // s3 | memory
	S3             storage.S3Config

	ResultSubject string
	CDNHost       string
	TargetSizes   []int
	Concurrency   int
	JPEGQuality   int
	FetchTimeout  time.Duration
	MaxSource     int64
	BackoffBase   time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	ReconcileInterval time.Duration
	GraceWindow       time.Duration
	RetryWindow       time.Duration
	HardLimit         time.Duration
	OrphanAge         time.Duration

	HTTPAddr string
}

func loadConfig() (config, error) {
	cfg := config{
		RegistryBackend: getenv("REGISTRY_BACKEND", "postgres"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		MigrateOnStart:  getenvBool("MIGRATE_ON_START", false),

		QueueBackend: getenv("QUEUE_BACKEND", "nats"),
		NATSURL:      getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:   getenv("JOB_SUBJECT", "images.jobs"),
		WorkerQueue:  getenv("WORKER_QUEUE", "image-workers"),

		StorageBackend: getenv("STORAGE_BACKEND", "s3"),
		S3: storage.S3Config{
			Bucket:       getenv("AWS_S3_BUCKET", ""),
			Region:       getenv("AWS_S3_REGION", "us-east-1"),
			AccessKey:    getenv("AWS_ACCESS_KEY_ID", ""),
			SecretKey:    getenv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:     getenv("AWS_S3_ENDPOINT", ""),
			UsePathStyle: getenvBool("AWS_S3_USE_PATH_STYLE", false),
		},

		ResultSubject: getenv("RESULT_SUBJECT", "images.asset.done"),
		CDNHost:       getenv("CDN_HOST", ""),
	}

	if cfg.RegistryBackend == "postgres" && cfg.DatabaseURL == "" {
		return config{}, fmt.Errorf("DATABASE_URL is required for the postgres registry")
	}
	if cfg.CDNHost == "" {
		return config{}, fmt.Errorf("CDN_HOST is required")
	}
	if cfg.StorageBackend == "s3" && cfg.S3.Bucket == "" {
		return config{}, fmt.Errorf("AWS_S3_BUCKET is required for s3 storage")
	}

	sizes, err := parseSizes(getenv("TARGET_SIZES", "256,512"))
	if err != nil {
		return config{}, fmt.Errorf("parse TARGET_SIZES: %w", err)
	}
	cfg.TargetSizes = sizes

	if cfg.Concurrency, err = getenvInt("WORKER_CONCURRENCY", runtime.GOMAXPROCS(0)); err != nil {
		return config{}, err
	}
	if cfg.JPEGQuality, err = getenvInt("JPEG_QUALITY", img.DefaultQuality); err != nil {
		return config{}, err
	}
	if cfg.BreakerThreshold, err = getenvInt("BREAKER_THRESHOLD", 3); err != nil {
		return config{}, err
	}

	maxSource, err := getenvInt("MAX_SOURCE_BYTES", 0)
	if err != nil {
		return config{}, err
	}
	cfg.MaxSource = int64(maxSource)
	if cfg.MaxSource == 0 {
		cfg.MaxSource = img.DefaultMaxBytes
	}

	if cfg.FetchTimeout, err = getenvDuration("FETCH_TIMEOUT", img.DefaultFetchTimeout); err != nil {
		return config{}, err
	}
	if cfg.BackoffBase, err = getenvDuration("RETRY_BACKOFF_BASE", 2*time.Second); err != nil {
		return config{}, err
	}
	if cfg.BreakerCooldown, err = getenvDuration("BREAKER_COOLDOWN", time.Minute); err != nil {
		return config{}, err
	}
	if cfg.ReconcileInterval, err = getenvDuration("RECONCILE_INTERVAL", 48*time.Hour); err != nil {
		return config{}, err
	}
	if cfg.GraceWindow, err = getenvDuration("RECONCILE_GRACE_WINDOW", 2*time.Hour); err != nil {
		return config{}, err
	}
	if cfg.RetryWindow, err = getenvDuration("RECONCILE_RETRY_WINDOW", 24*time.Hour); err != nil {
		return config{}, err
	}
	if cfg.HardLimit, err = getenvDuration("PROCESSING_HARD_LIMIT", 30*time.Minute); err != nil {
		return config{}, err
	}
	if cfg.OrphanAge, err = getenvDuration("ORPHAN_ASSET_AGE", 7*24*time.Hour); err != nil {
		return config{}, err
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
	return cfg, nil
}

// parseSizes parses a comma-separated list of edge lengths.
func parseSizes(raw string) ([]int, error) {
	var sizes []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, err := strconv.Atoi(part)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("invalid size %q", part)
		}
		sizes = append(sizes, size)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("at least one size is required")
	}
	return sizes, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func getenvInt(key string, defaultValue int) (int, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", key, v)
	}
	return v, nil
}

func getenvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got %s)", key, d)
	}
	return d, nil
}
