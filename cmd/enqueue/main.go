// cmd/enqueue/main.go
//
// Operator CLI: registers assets and queues processing jobs, the same
// path the enqueue API takes. Takes a single asset via flags or a batch
// file with one asset per line:
//
//	source_type source_id media_id source_url [sizes]
//
// With -dry-run it validates and prints without writing anything.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/socialcdn/image-pipeline/internal/asset"
	"github.com/socialcdn/image-pipeline/internal/bus"
	"github.com/socialcdn/image-pipeline/internal/pipeline"
	"github.com/socialcdn/image-pipeline/internal/registry"
)

type config struct {
	DatabaseURL string
	NATSURL     string
	JobSubject  string
	WorkerQueue string

	SourceType string
	SourceID   string
	MediaID    string
	SourceURL  string
	Sizes      string
	BatchFile  string
	DryRun     bool
}

type request struct {
	id    asset.Identity
	url   string
	sizes []int
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	requests, err := buildRequests(cfg)
	if err != nil {
		fatal(logger, "invalid arguments", err)
	}

	if cfg.DryRun {
		for _, req := range requests {
			logger.Info("dry run, nothing enqueued",
				"asset", req.id.String(), "url", req.url, "sizes", req.sizes)
		}
		logger.Info("dry run complete", "total", len(requests))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := registry.OpenPool(ctx, cfg.DatabaseURL, 3)
	if err != nil {
		fatal(logger, "open registry", err)
	}
	defer pool.Close()

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	defer nc.Close()

	q, err := bus.NewQueue(nc, cfg.JobSubject, cfg.WorkerQueue)
	if err != nil {
		fatal(logger, "open job queue", err)
	}

	enq := pipeline.NewEnqueuer(registry.NewPostgres(pool), q, logger)

	var enqueued, skipped, failed int
	for _, req := range requests {
		res, err := enq.Enqueue(ctx, req.id, req.url, req.sizes)
		if err != nil {
			logger.Error("enqueue failed", "asset", req.id.String(), "err", err)
			failed++
			continue
		}
		if res.Created {
			enqueued++
		} else {
			logger.Info("job already active, skipped",
				"asset", req.id.String(), "job_id", res.JobID)
			skipped++
		}
	}

	logger.Info("enqueue complete",
		"total", len(requests), "enqueued", enqueued, "skipped", skipped, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenv("DATABASE_URL", ""),
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:  getenv("JOB_SUBJECT", "images.jobs"),
		WorkerQueue: getenv("WORKER_QUEUE", "image-workers"),
	}

	flag.StringVar(&cfg.SourceType, "source-type", "", "Source type (profile_avatar or post_thumbnail)")
	flag.StringVar(&cfg.SourceID, "source-id", "", "Upstream source id (user id or post id)")
	flag.StringVar(&cfg.MediaID, "media-id", "", "Media id within the source (defaults to 'avatar' for avatars)")
	flag.StringVar(&cfg.SourceURL, "url", "", "URL of the original image")
	flag.StringVar(&cfg.Sizes, "sizes", "256,512", "Comma-separated target edge lengths")
	flag.StringVar(&cfg.BatchFile, "file", "", "Batch file with one asset per line (overrides single-asset flags)")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "Validate and print without enqueuing")
	flag.Parse()

	return cfg
}

func buildRequests(cfg config) ([]request, error) {
	defaultSizes, err := parseSizes(cfg.Sizes)
	if err != nil {
		return nil, err
	}

	if cfg.BatchFile != "" {
		return readBatch(cfg.BatchFile, defaultSizes)
	}

	req, err := newRequest(cfg.SourceType, cfg.SourceID, cfg.MediaID, cfg.SourceURL, defaultSizes)
	if err != nil {
		return nil, err
	}
	return []request{req}, nil
}

func newRequest(sourceType, sourceID, mediaID, url string, sizes []int) (request, error) {
	id := asset.Identity{
		SourceType: asset.SourceType(sourceType),
		SourceID:   sourceID,
		MediaID:    mediaID,
	}
	if id.SourceType == asset.SourceProfileAvatar && id.MediaID == "" {
		id.MediaID = asset.AvatarMediaID
	}
	if err := id.Validate(); err != nil {
		return request{}, err
	}
	if url == "" {
		return request{}, fmt.Errorf("source url is required for %s", id.String())
	}
	return request{id: id, url: url, sizes: sizes}, nil
}

func readBatch(path string, defaultSizes []int) ([]request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var requests []request
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s:%d: expected 'source_type source_id media_id url [sizes]'", path, line)
		}

		sizes := defaultSizes
		if len(fields) >= 5 {
			if sizes, err = parseSizes(fields[4]); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}

		req, err := newRequest(fields[0], fields[1], fields[2], fields[3], sizes)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		requests = append(requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("%s contains no assets", path)
	}
	return requests, nil
}

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

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
