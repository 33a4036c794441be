package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("CDN_HOST", "cdn.example.com")
	t.Setenv("AWS_S3_BUCKET", "images")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected NATS URL: %s", cfg.NATSURL)
	}
	if cfg.JobSubject != "images.jobs" || cfg.WorkerQueue != "image-workers" {
		t.Fatalf("unexpected subjects: %s %s", cfg.JobSubject, cfg.WorkerQueue)
	}
	if len(cfg.TargetSizes) != 2 || cfg.TargetSizes[0] != 256 || cfg.TargetSizes[1] != 512 {
		t.Fatalf("unexpected target sizes: %v", cfg.TargetSizes)
	}
	if cfg.Concurrency < 1 {
		t.Fatalf("unexpected concurrency: %d", cfg.Concurrency)
	}
	if cfg.BackoffBase != 2*time.Second {
		t.Fatalf("unexpected backoff base: %s", cfg.BackoffBase)
	}
	if cfg.GraceWindow != 2*time.Hour || cfg.HardLimit != 30*time.Minute {
		t.Fatalf("unexpected reconcile windows: %s %s", cfg.GraceWindow, cfg.HardLimit)
	}
}

func TestLoadConfigMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CDN_HOST", "cdn.example.com")
	t.Setenv("AWS_S3_BUCKET", "images")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}

	// The memory registry does not need a database.
	t.Setenv("REGISTRY_BACKEND", "memory")
	if _, err := loadConfig(); err != nil {
		t.Fatalf("memory registry should not require DATABASE_URL: %v", err)
	}
}

func TestLoadConfigMissingCDNHost(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("CDN_HOST", "")
	t.Setenv("AWS_S3_BUCKET", "images")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error when CDN_HOST is missing")
	}
}

func TestLoadConfigInvalidSizes(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("CDN_HOST", "cdn.example.com")
	t.Setenv("AWS_S3_BUCKET", "images")
	t.Setenv("TARGET_SIZES", "256,bogus")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for invalid TARGET_SIZES")
	}
}

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("128, 256,512")
	if err != nil {
		t.Fatalf("parseSizes returned error: %v", err)
	}
	if len(sizes) != 3 || sizes[1] != 256 {
		t.Fatalf("unexpected sizes: %v", sizes)
	}

	if _, err := parseSizes(""); err == nil {
		t.Fatal("expected error for empty size list")
	}
	if _, err := parseSizes("-10"); err == nil {
		t.Fatal("expected error for negative size")
	}
}
