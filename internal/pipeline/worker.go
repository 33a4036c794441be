package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialcdn/image-pipeline/internal/asset"
	"github.com/socialcdn/image-pipeline/internal/img"
	"github.com/socialcdn/image-pipeline/internal/queue"
	"github.com/socialcdn/image-pipeline/internal/registry"
	"github.com/socialcdn/image-pipeline/internal/storage"
	"github.com/socialcdn/image-pipeline/pkg/schema"
)

// Publisher is the outbound event surface. bus.Client satisfies it; a
// nil publisher disables events.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

const registryOpTimeout = 10 * time.Second

// PoolConfig carries the tunables for one worker pool.
type PoolConfig struct {
	Concurrency     int
	WorkerID        string
	CDNHost         string
	BackoffBase     time.Duration
	StorageAttempts int
	ResultSubject   string
}

func (c *PoolConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.StorageAttempts <= 0 {
		c.StorageAttempts = 3
	}
}

// Pool pulls queued jobs, drives them through download, transcode and
// upload, and commits results to the registry. Jobs are claimed in the
// registry, so duplicate queue deliveries are harmless.
type Pool struct {
	reg        registry.Registry
	store      storage.Client
	q          queue.JobQueue
	fetcher    *img.Fetcher
	transcoder *img.Transcoder
	pub        Publisher
	logger     *slog.Logger
	cfg        PoolConfig
	wg         sync.WaitGroup
}

func NewPool(reg registry.Registry, store storage.Client, q queue.JobQueue,
	fetcher *img.Fetcher, transcoder *img.Transcoder, pub Publisher,
	logger *slog.Logger, cfg PoolConfig) *Pool {

	cfg.applyDefaults()
	return &Pool{
		reg:        reg,
		store:      store,
		q:          q,
		fetcher:    fetcher,
		transcoder: transcoder,
		pub:        pub,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run blocks, processing jobs until ctx is canceled, then drains
// in-flight work before returning.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", p.cfg.WorkerID, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		msg, err := p.q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue failed", "worker_id", workerID, "err", err)
			continue
		}
		p.process(ctx, msg.JobID, workerID)
	}
}

// process runs one claim-download-transcode-upload-commit cycle. A
// failure on one job never takes the worker down.
func (p *Pool) process(ctx context.Context, rawJobID, workerID string) {
	logger := p.logger.With("job_id", rawJobID, "worker_id", workerID)

	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		logger.Warn("dropping message with invalid job id")
		return
	}

	claimCtx, cancel := context.WithTimeout(ctx, registryOpTimeout)
	job, err := p.reg.ClaimJob(claimCtx, jobID, workerID)
	cancel()
	if errors.Is(err, asset.ErrAlreadyClaimed) {
		return
	}
	if err != nil {
		// Circuit open or registry down: no registry write happened, so
		// the job is untouched; the reconciler republishes it later.
		logger.Warn("claim failed", "err", err)
		return
	}

	activeJobs.Inc()
	defer activeJobs.Dec()

	a, err := p.reg.GetAsset(ctx, job.AssetID)
	if errors.Is(err, asset.ErrNotFound) {
		logger.Warn("job references deleted asset")
		if _, failErr := p.reg.FailJob(ctx, job.ID, "asset record deleted", false); failErr != nil {
			logger.Error("fail orphan job", "err", failErr)
		}
		return
	}
	if err != nil {
		logger.Warn("load asset failed, leaving job to the watchdog", "err", err)
		return
	}

	logger = logger.With("asset", a.Identity.String())
	start := time.Now()
	p.lifecycle(job, a, schema.StageClaimed, workerID, nil)

	variants, results, procErr := p.run(ctx, job, a)
	if procErr != nil {
		logger.Error("job failed", "err", procErr, "failure_type", asset.Classify(procErr))
		p.fail(ctx, job, a, procErr, start)
		return
	}

	commitCtx, cancel := context.WithTimeout(ctx, registryOpTimeout)
	err = p.reg.CompleteJob(commitCtx, job.ID, variants)
	cancel()
	if err != nil {
		// Uploads are durable; the reconciler will observe them and
		// repair the registry. No data is lost.
		logger.Error("registry commit failed after upload", "err", err)
		jobsProcessed.WithLabelValues("commit_lost").Inc()
		return
	}

	jobsProcessed.WithLabelValues("completed").Inc()
	p.done(job, a, results, start, nil)
	logger.Info("job completed",
		"derivatives", len(results), "processing_time_ms", time.Since(start).Milliseconds())
}

// run executes the fallible stages and returns the variants ready to
// commit.
func (p *Pool) run(ctx context.Context, job *asset.Job, a *asset.Asset) (asset.Variants, []schema.DerivativeResult, error) {
	p.lifecycle(job, a, schema.StageDownload, "", nil)
	src, err := p.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		return nil, nil, err
	}

	p.lifecycle(job, a, schema.StageTranscode, "", nil)
	transcodeStart := time.Now()
	derivatives, err := p.transcoder.Transcode(src, job.TargetSizes)
	if err != nil {
		return nil, nil, err
	}
	transcodeDuration.Observe(time.Since(transcodeStart).Seconds())

	p.lifecycle(job, a, schema.StageUpload, "", nil)
	variants := make(asset.Variants, len(derivatives))
	results := make([]schema.DerivativeResult, 0, len(derivatives))
	for _, d := range derivatives {
		key := asset.StorageKey(a.Identity, d.Size, d.ContentHash, job.OutputFormat)
		if err := p.upload(ctx, key, d.Data); err != nil {
			return nil, nil, err
		}

		cdnURL := asset.CDNURL(p.cfg.CDNHost, a.Identity, d.Size, job.OutputFormat)
		variants[d.Size] = asset.Variant{
			CDNPath:     key,
			CDNURL:      cdnURL,
			ContentHash: d.ContentHash,
			FileSize:    int64(len(d.Data)),
			Width:       d.Width,
			Height:      d.Height,
		}
		results = append(results, schema.DerivativeResult{
			Size:        d.Size,
			ContentHash: d.ContentHash,
			StorageKey:  key,
			CDNURL:      cdnURL,
			FileSize:    int64(len(d.Data)),
			Width:       d.Width,
			Height:      d.Height,
		})
	}
	return variants, results, nil
}

// upload writes one derivative and confirms the write with a Head
// round-trip; a put that cannot be read back does not count.
func (p *Pool) upload(ctx context.Context, key string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.StorageAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond); err != nil {
				return &asset.StorageError{Key: key, Err: err}
			}
		}

		if err := p.store.Put(ctx, key, data, "image/jpeg"); err != nil {
			lastErr = err
			continue
		}
		info, err := p.store.Head(ctx, key)
		if err != nil {
			lastErr = &asset.StorageError{Key: key, Err: fmt.Errorf("verify upload: %w", err)}
			continue
		}
		if info.Size != int64(len(data)) {
			lastErr = &asset.StorageError{Key: key,
				Err: fmt.Errorf("verify upload: stored %d bytes, expected %d", info.Size, len(data))}
			continue
		}
		return nil
	}
	return lastErr
}

// fail records the attempt and schedules a requeue with backoff when
// retries remain.
func (p *Pool) fail(ctx context.Context, job *asset.Job, a *asset.Asset, cause error, start time.Time) {
	retryable := asset.Retryable(cause)

	failCtx, cancel := context.WithTimeout(ctx, registryOpTimeout)
	updated, err := p.reg.FailJob(failCtx, job.ID, cause.Error(), retryable)
	cancel()
	if err != nil {
		p.logger.Error("record job failure", "job_id", job.ID, "err", err)
		return
	}

	jobsProcessed.WithLabelValues("failed").Inc()
	p.lifecycle(updated, a, schema.StageFailed, updated.WorkerID, cause)
	p.done(updated, a, nil, start, cause)

	if !retryable || updated.RetryCount >= updated.MaxRetries {
		return
	}

	delay := retryBackoff(p.cfg.BackoffBase, updated.RetryCount)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := sleepCtx(ctx, delay); err != nil {
			return
		}
		if err := p.reg.RequeueJob(ctx, updated.ID); err != nil {
			p.logger.Error("requeue job", "job_id", updated.ID, "err", err)
			return
		}
		msg := schema.JobQueued{JobID: updated.ID.String(), HappenedAt: time.Now().Unix()}
		if err := p.q.Enqueue(ctx, msg); err != nil {
			p.logger.Error("republish job", "job_id", updated.ID, "err", err)
			return
		}
		p.lifecycle(updated, a, schema.StageRequeued, "", nil)
		p.logger.Info("job requeued", "job_id", updated.ID,
			"retry_count", updated.RetryCount, "delay", delay)
	}()
}

// retryBackoff is base * 2^retries with +-50% jitter.
func retryBackoff(base time.Duration, retries int) time.Duration {
	d := base << uint(retries)
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) lifecycle(job *asset.Job, a *asset.Asset, stage schema.ProcessingStage, workerID string, cause error) {
	if p.pub == nil {
		return
	}
	event := schema.AssetLifecycleEvent{
		JobID:      job.ID.String(),
		AssetID:    a.ID.String(),
		SourceType: string(a.Identity.SourceType),
		SourceID:   a.Identity.SourceID,
		MediaID:    a.Identity.MediaID,
		Stage:      stage,
		RetryCount: job.RetryCount,
		WorkerID:   workerID,
		HappenedAt: time.Now().Unix(),
	}
	if cause != nil {
		event.Error = cause.Error()
		event.FailureType = asset.Classify(cause)
	}
	if err := p.pub.PublishJSON(p.cfg.ResultSubject+".lifecycle", event); err != nil {
		p.logger.Error("publish lifecycle event failed", "stage", stage, "err", err)
	}
}

func (p *Pool) done(job *asset.Job, a *asset.Asset, results []schema.DerivativeResult, start time.Time, cause error) {
	if p.pub == nil {
		return
	}
	status := string(asset.JobCompleted)
	if cause != nil {
		status = string(asset.JobFailed)
	}
	event := schema.AssetDone{
		JobID:            job.ID.String(),
		AssetID:          a.ID.String(),
		SourceType:       string(a.Identity.SourceType),
		SourceID:         a.Identity.SourceID,
		MediaID:          a.Identity.MediaID,
		SourceURL:        job.SourceURL,
		Status:           status,
		RetryCount:       job.RetryCount,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Results:          results,
		HappenedAt:       time.Now().Unix(),
	}
	if cause != nil {
		event.Error = cause.Error()
		event.FailureType = asset.Classify(cause)
	}
	if err := p.pub.PublishJSON(p.cfg.ResultSubject, event); err != nil {
		p.logger.Error("publish result failed", "job_id", job.ID, "err", err)
	}
}
