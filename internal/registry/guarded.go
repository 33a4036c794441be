package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/socialcdn/image-pipeline/internal/asset"
	"github.com/socialcdn/image-pipeline/internal/breaker"
)

// Guarded wraps a Registry with the shared circuit breaker. Every call
// checks ShouldBlock first and fails fast with asset.ErrCircuitOpen;
// infrastructure failures feed RecordFailure, everything else (including
// domain sentinels like ErrNotFound) counts as a success.
type Guarded struct {
	inner Registry
	cb    *breaker.Breaker
}

func Guard(inner Registry, cb *breaker.Breaker) *Guarded {
	return &Guarded{inner: inner, cb: cb}
}

func (g *Guarded) Breaker() *breaker.Breaker { return g.cb }

// record updates the breaker based on the call outcome. Only registry
// infrastructure errors trip it; a clean ErrNotFound proves the registry
// is reachable.
func (g *Guarded) record(err error) {
	var regErr *asset.RegistryError
	if errors.As(err, &regErr) {
		g.cb.RecordFailure()
		return
	}
	g.cb.RecordSuccess()
}

func guard1[T any](g *Guarded, call func() (T, error)) (T, error) {
	var zero T
	if g.cb.ShouldBlock() {
		return zero, asset.ErrCircuitOpen
	}
	v, err := call()
	g.record(err)
	return v, err
}

func guard0(g *Guarded, call func() error) error {
	if g.cb.ShouldBlock() {
		return asset.ErrCircuitOpen
	}
	err := call()
	g.record(err)
	return err
}

func (g *Guarded) GetOrCreateAsset(ctx context.Context, id asset.Identity, sourceURL, outputFormat string) (*asset.Asset, bool, error) {
	if g.cb.ShouldBlock() {
		return nil, false, asset.ErrCircuitOpen
	}
	a, created, err := g.inner.GetOrCreateAsset(ctx, id, sourceURL, outputFormat)
	g.record(err)
	return a, created, err
}

func (g *Guarded) GetAsset(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	return guard1(g, func() (*asset.Asset, error) { return g.inner.GetAsset(ctx, id) })
}

func (g *Guarded) GetJob(ctx context.Context, id uuid.UUID) (*asset.Job, error) {
	return guard1(g, func() (*asset.Job, error) { return g.inner.GetJob(ctx, id) })
}

func (g *Guarded) ActiveJob(ctx context.Context, assetID uuid.UUID) (*asset.Job, error) {
	return guard1(g, func() (*asset.Job, error) { return g.inner.ActiveJob(ctx, assetID) })
}

func (g *Guarded) CreateJob(ctx context.Context, job *asset.Job) error {
	return guard0(g, func() error { return g.inner.CreateJob(ctx, job) })
}

func (g *Guarded) ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string) (*asset.Job, error) {
	return guard1(g, func() (*asset.Job, error) { return g.inner.ClaimJob(ctx, jobID, workerID) })
}

func (g *Guarded) CompleteJob(ctx context.Context, jobID uuid.UUID, variants asset.Variants) error {
	return guard0(g, func() error { return g.inner.CompleteJob(ctx, jobID, variants) })
}

func (g *Guarded) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string, retryable bool) (*asset.Job, error) {
	return guard1(g, func() (*asset.Job, error) { return g.inner.FailJob(ctx, jobID, errMsg, retryable) })
}

func (g *Guarded) RequeueJob(ctx context.Context, jobID uuid.UUID) error {
	return guard0(g, func() error { return g.inner.RequeueJob(ctx, jobID) })
}

func (g *Guarded) StuckAssets(ctx context.Context, cutoff time.Time) ([]*asset.Asset, error) {
	return guard1(g, func() ([]*asset.Asset, error) { return g.inner.StuckAssets(ctx, cutoff) })
}

func (g *Guarded) RepairAsset(ctx context.Context, assetID uuid.UUID, variants asset.Variants) error {
	return guard0(g, func() error { return g.inner.RepairAsset(ctx, assetID, variants) })
}

func (g *Guarded) OrphanJobs(ctx context.Context) ([]*asset.Job, error) {
	return guard1(g, func() ([]*asset.Job, error) { return g.inner.OrphanJobs(ctx) })
}

func (g *Guarded) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	return guard0(g, func() error { return g.inner.DeleteJob(ctx, jobID) })
}

func (g *Guarded) RetryableFailedJobs(ctx context.Context, failedAfter time.Time) ([]*asset.Job, error) {
	return guard1(g, func() ([]*asset.Job, error) { return g.inner.RetryableFailedJobs(ctx, failedAfter) })
}

func (g *Guarded) ExpiredProcessingJobs(ctx context.Context, startedBefore time.Time) ([]*asset.Job, error) {
	return guard1(g, func() ([]*asset.Job, error) { return g.inner.ExpiredProcessingJobs(ctx, startedBefore) })
}

func (g *Guarded) DeleteOrphanAssets(ctx context.Context, cutoff time.Time) (int64, error) {
	return guard1(g, func() (int64, error) { return g.inner.DeleteOrphanAssets(ctx, cutoff) })
}

func (g *Guarded) CountJobsByStatus(ctx context.Context) (map[asset.JobStatus]int64, error) {
	return guard1(g, func() (map[asset.JobStatus]int64, error) { return g.inner.CountJobsByStatus(ctx) })
}
