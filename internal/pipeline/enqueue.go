// Package pipeline wires the asset pipeline together: enqueue, worker
// pool, reconciliation, and the health surface. All collaborators are
// injected; nothing here owns a global handle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/socialcdn/image-pipeline/internal/asset"
	"github.com/socialcdn/image-pipeline/internal/queue"
	"github.com/socialcdn/image-pipeline/internal/registry"
	"github.com/socialcdn/image-pipeline/pkg/schema"
)

const (
	DefaultMaxRetries   = 3
	DefaultOutputFormat = "jpeg"
)

// Enqueuer creates assets and jobs for upstream references. It
// guarantees at most one queued/processing job per asset and exactly
// one queue message per accepted enqueue.
type Enqueuer struct {
	reg          registry.Registry
	q            queue.JobQueue
	logger       *slog.Logger
	maxRetries   int
	outputFormat string
}

func NewEnqueuer(reg registry.Registry, q queue.JobQueue, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		reg:          reg,
		q:            q,
		logger:       logger,
		maxRetries:   DefaultMaxRetries,
		outputFormat: DefaultOutputFormat,
	}
}

// EnqueueResult reports what an enqueue call observed. Created is false
// when an active job already existed; JobID then names that job.
type EnqueueResult struct {
	AssetID uuid.UUID
	JobID   uuid.UUID
	Created bool
}

// Enqueue registers the asset (creating it on first reference) and
// creates a queued job unless one is already active. A second caller
// that loses a concurrent race observes Created=false and the winning
// job's id.
func (e *Enqueuer) Enqueue(ctx context.Context, id asset.Identity, sourceURL string, targetSizes []int) (*EnqueueResult, error) {
	if len(targetSizes) == 0 {
		return nil, fmt.Errorf("at least one target size is required")
	}
	for _, size := range targetSizes {
		if size <= 0 {
			return nil, fmt.Errorf("invalid target size %d", size)
		}
	}

	a, _, err := e.reg.GetOrCreateAsset(ctx, id, sourceURL, e.outputFormat)
	if err != nil {
		return nil, err
	}

	if active, err := e.reg.ActiveJob(ctx, a.ID); err == nil {
		return &EnqueueResult{AssetID: a.ID, JobID: active.ID, Created: false}, nil
	} else if !errors.Is(err, asset.ErrNotFound) {
		return nil, err
	}

	job := &asset.Job{
		ID:           uuid.New(),
		AssetID:      a.ID,
		SourceURL:    sourceURL,
		TargetSizes:  targetSizes,
		OutputFormat: e.outputFormat,
		MaxRetries:   e.maxRetries,
	}
	if err := e.reg.CreateJob(ctx, job); err != nil {
		if errors.Is(err, asset.ErrActiveJobExists) {
			// Lost the race; report the winner.
			active, lookupErr := e.reg.ActiveJob(ctx, a.ID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &EnqueueResult{AssetID: a.ID, JobID: active.ID, Created: false}, nil
		}
		return nil, err
	}

	msg := schema.JobQueued{JobID: job.ID.String(), HappenedAt: time.Now().Unix()}
	if err := e.q.Enqueue(ctx, msg); err != nil {
		// The job row exists; the reconciler republishes lost messages.
		e.logger.Error("publish job message failed", "job_id", job.ID, "err", err)
	}

	e.logger.Info("job enqueued",
		"asset", id.String(), "asset_id", a.ID, "job_id", job.ID, "sizes", targetSizes)
	return &EnqueueResult{AssetID: a.ID, JobID: job.ID, Created: true}, nil
}
