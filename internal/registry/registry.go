// Package registry is the durable ledger of assets and jobs. It is the
// single source of truth for job ownership: workers claim jobs with an
// atomic status transition here, not via the queue.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

// Registry is implemented by the Postgres store and by the in-memory
// store used in tests and the memory backend mode.
type Registry interface {
	// GetOrCreateAsset looks up the asset by identity, creating it in
	// pending state on first reference. The bool reports creation.
	GetOrCreateAsset(ctx context.Context, id asset.Identity, sourceURL, outputFormat string) (*asset.Asset, bool, error)

	GetAsset(ctx context.Context, id uuid.UUID) (*asset.Asset, error)
	GetJob(ctx context.Context, id uuid.UUID) (*asset.Job, error)

	// ActiveJob returns the asset's job in queued/processing state, or
	// asset.ErrNotFound when the asset has no active job.
	ActiveJob(ctx context.Context, assetID uuid.UUID) (*asset.Job, error)

	// CreateJob inserts a queued job. Racing against another active job
	// for the same asset returns asset.ErrActiveJobExists.
	CreateJob(ctx context.Context, job *asset.Job) error

	// ClaimJob atomically moves one queued job to processing, stamping
	// the worker id and start time, and moves the owning asset to
	// processing. A lost race returns asset.ErrAlreadyClaimed.
	ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string) (*asset.Job, error)

	// CompleteJob commits a successful attempt: job completed, asset
	// completed with the uploaded variants, in one transaction.
	CompleteJob(ctx context.Context, jobID uuid.UUID, variants asset.Variants) error

	// FailJob records a failed attempt: status failed, retry_count
	// incremented, error message stored. When the failure is terminal
	// (non-retryable, or retries exhausted) the asset is marked failed.
	// Returns the updated job.
	FailJob(ctx context.Context, jobID uuid.UUID, errMsg string, retryable bool) (*asset.Job, error)

	// RequeueJob resets a failed job with retries left back to queued.
	RequeueJob(ctx context.Context, jobID uuid.UUID) error

	// Reconciliation sweeps.
	StuckAssets(ctx context.Context, cutoff time.Time) ([]*asset.Asset, error)
	RepairAsset(ctx context.Context, assetID uuid.UUID, variants asset.Variants) error
	OrphanJobs(ctx context.Context) ([]*asset.Job, error)
	DeleteJob(ctx context.Context, jobID uuid.UUID) error
	RetryableFailedJobs(ctx context.Context, failedAfter time.Time) ([]*asset.Job, error)
	ExpiredProcessingJobs(ctx context.Context, startedBefore time.Time) ([]*asset.Job, error)
	DeleteOrphanAssets(ctx context.Context, cutoff time.Time) (int64, error)

	// CountJobsByStatus feeds the health surface.
	CountJobsByStatus(ctx context.Context) (map[asset.JobStatus]int64, error)
}
