package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/socialcdn/image-pipeline/internal/asset"
	"github.com/socialcdn/image-pipeline/internal/queue"
	"github.com/socialcdn/image-pipeline/internal/registry"
	"github.com/socialcdn/image-pipeline/internal/storage"
	"github.com/socialcdn/image-pipeline/pkg/schema"
)

// ReconcilerConfig carries the sweep windows. One consistent set of
// defaults, all overridable.
type ReconcilerConfig struct {
	GraceWindow time.Duration // how long pending/processing may sit before probing storage
	RetryWindow time.Duration // how far back failed jobs are still requeued
	HardLimit   time.Duration // processing longer than this means a crashed worker
	OrphanAge   time.Duration // unreferenced non-completed assets older than this are removed
	TargetSizes []int         // fallback when a stuck asset has no active job
	CDNHost     string
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 2 * time.Hour
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = 24 * time.Hour
	}
	if c.HardLimit <= 0 {
		c.HardLimit = 30 * time.Minute
	}
	if c.OrphanAge <= 0 {
		c.OrphanAge = 7 * 24 * time.Hour
	}
}

// Summary is the result of one reconciliation run, kept for the health
// surface.
type Summary struct {
	RanAt          time.Time
	StuckScanned   int
	Repaired       int
	Republished    int
	OrphansDeleted int
	Requeued       int
	Expired        int
	AssetsDeleted  int
	Errors         int
}

// Reconciler periodically moves registry state toward agreement with
// observed storage contents. It only ever repairs toward storage; it
// never deletes uploaded objects.
type Reconciler struct {
	reg    registry.Registry
	store  storage.Client
	q      queue.JobQueue
	logger *slog.Logger
	cfg    ReconcilerConfig
	now    func() time.Time

	mu      sync.Mutex
	lastRun *Summary
}

func NewReconciler(reg registry.Registry, store storage.Client, q queue.JobQueue,
	logger *slog.Logger, cfg ReconcilerConfig) *Reconciler {

	cfg.applyDefaults()
	return &Reconciler{
		reg:    reg,
		store:  store,
		q:      q,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LastRun returns the most recent summary, if any run has finished.
func (r *Reconciler) LastRun() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRun == nil {
		return Summary{}, false
	}
	return *r.lastRun, true
}

// Start runs the reconciler on a fixed period until ctx is canceled.
func (r *Reconciler) Start(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error("reconciliation run failed", "err", err)
			}
		}
	}
}

// Run executes one full sweep. Individual item failures are counted and
// logged, not fatal; a registry-level failure aborts the run.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	now := r.now()
	summary := Summary{RanAt: now}

	if err := r.repairStuck(ctx, now, &summary); err != nil {
		return summary, err
	}
	if err := r.expireCrashed(ctx, now, &summary); err != nil {
		return summary, err
	}
	if err := r.deleteOrphanJobs(ctx, &summary); err != nil {
		return summary, err
	}
	if err := r.requeueFailed(ctx, now, &summary); err != nil {
		return summary, err
	}

	deleted, err := r.reg.DeleteOrphanAssets(ctx, now.Add(-r.cfg.OrphanAge))
	if err != nil {
		return summary, err
	}
	summary.AssetsDeleted = int(deleted)

	r.mu.Lock()
	r.lastRun = &summary
	r.mu.Unlock()

	r.logger.Info("reconciliation finished",
		"stuck_scanned", summary.StuckScanned,
		"repaired", summary.Repaired,
		"republished", summary.Republished,
		"orphan_jobs_deleted", summary.OrphansDeleted,
		"requeued", summary.Requeued,
		"expired", summary.Expired,
		"assets_deleted", summary.AssetsDeleted,
		"errors", summary.Errors)
	return summary, nil
}

// repairStuck finds assets sitting in pending/processing past the grace
// window and checks whether their derivatives already exist in storage.
// If every expected size is present, the upload succeeded and only the
// registry commit was lost; the asset is repaired to completed. If the
// asset has a queued job whose message evidently went missing, the
// message is republished instead.
func (r *Reconciler) repairStuck(ctx context.Context, now time.Time, summary *Summary) error {
	stuck, err := r.reg.StuckAssets(ctx, now.Add(-r.cfg.GraceWindow))
	if err != nil {
		return err
	}
	summary.StuckScanned = len(stuck)

	for _, a := range stuck {
		sizes := r.cfg.TargetSizes
		var activeJob *asset.Job
		if job, err := r.reg.ActiveJob(ctx, a.ID); err == nil {
			activeJob = job
			sizes = job.TargetSizes
		} else if !errors.Is(err, asset.ErrNotFound) {
			summary.Errors++
			continue
		}
		if len(sizes) == 0 {
			continue
		}

		variants, ok := r.observeVariants(ctx, a, sizes)
		if ok {
			if err := r.reg.RepairAsset(ctx, a.ID, variants); err != nil {
				r.logger.Error("repair asset", "asset_id", a.ID, "err", err)
				summary.Errors++
				continue
			}
			reconcileRepaired.Inc()
			summary.Repaired++
			r.logger.Info("repaired asset from storage", "asset", a.Identity.String(), "asset_id", a.ID)
			continue
		}

		// Nothing in storage: if a queued job is this old, its queue
		// message was lost. Publish a fresh one.
		if activeJob != nil && activeJob.Status == asset.JobQueued {
			msg := schema.JobQueued{JobID: activeJob.ID.String(), HappenedAt: now.Unix()}
			if err := r.q.Enqueue(ctx, msg); err != nil {
				summary.Errors++
				continue
			}
			summary.Republished++
		}
	}
	return nil
}

// observeVariants probes storage for every expected size. All sizes
// must be present; a partial upload is not a completed asset.
func (r *Reconciler) observeVariants(ctx context.Context, a *asset.Asset, sizes []int) (asset.Variants, bool) {
	variants := make(asset.Variants, len(sizes))
	for _, size := range sizes {
		keys, err := r.store.List(ctx, asset.KeyPrefix(a.Identity, size))
		if err != nil || len(keys) == 0 {
			return nil, false
		}
		// Content-addressed keys: any key under the prefix is a valid
		// derivative. Pick deterministically if several exist.
		sort.Strings(keys)
		key := keys[0]

		info, err := r.store.Head(ctx, key)
		if err != nil {
			return nil, false
		}

		hash := strings.TrimSuffix(path.Base(key), path.Ext(key))
		variants[size] = asset.Variant{
			CDNPath:     key,
			CDNURL:      asset.CDNURL(r.cfg.CDNHost, a.Identity, size, a.OutputFormat),
			ContentHash: hash,
			FileSize:    info.Size,
		}
	}
	return variants, true
}

// expireCrashed fails jobs stuck in processing past the hard wall-clock
// limit so a crashed worker cannot block reconciliation forever.
func (r *Reconciler) expireCrashed(ctx context.Context, now time.Time, summary *Summary) error {
	expired, err := r.reg.ExpiredProcessingJobs(ctx, now.Add(-r.cfg.HardLimit))
	if err != nil {
		return err
	}
	for _, job := range expired {
		if _, err := r.reg.FailJob(ctx, job.ID, "exceeded processing wall-clock limit", true); err != nil {
			summary.Errors++
			continue
		}
		summary.Expired++
		r.logger.Warn("expired crashed job", "job_id", job.ID, "worker_id", job.WorkerID)
	}
	return nil
}

func (r *Reconciler) deleteOrphanJobs(ctx context.Context, summary *Summary) error {
	orphans, err := r.reg.OrphanJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range orphans {
		if err := r.reg.DeleteJob(ctx, job.ID); err != nil {
			summary.Errors++
			continue
		}
		summary.OrphansDeleted++
	}
	return nil
}

// requeueFailed gives failed jobs with retries left another attempt, as
// long as they failed recently enough to still be worth it.
func (r *Reconciler) requeueFailed(ctx context.Context, now time.Time, summary *Summary) error {
	failed, err := r.reg.RetryableFailedJobs(ctx, now.Add(-r.cfg.RetryWindow))
	if err != nil {
		return err
	}
	for _, job := range failed {
		if err := r.reg.RequeueJob(ctx, job.ID); err != nil {
			summary.Errors++
			continue
		}
		msg := schema.JobQueued{JobID: job.ID.String(), HappenedAt: now.Unix()}
		if err := r.q.Enqueue(ctx, msg); err != nil {
			summary.Errors++
			continue
		}
		summary.Requeued++
	}
	return nil
}
