package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

// Memory is an in-process Registry with the same transition semantics as
// the Postgres store. It backs the memory backend mode and the tests.
type Memory struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*asset.Asset
	jobs   map[uuid.UUID]*asset.Job
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		assets: make(map[uuid.UUID]*asset.Asset),
		jobs:   make(map[uuid.UUID]*asset.Job),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock. Test hook.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// RemoveAsset drops an asset row while leaving its jobs behind,
// simulating an out-of-band deletion. Test hook.
func (m *Memory) RemoveAsset(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, id)
}

func cloneAsset(a *asset.Asset) *asset.Asset {
	c := *a
	c.Variants = make(asset.Variants, len(a.Variants))
	for k, v := range a.Variants {
		c.Variants[k] = v
	}
	if a.ProcessingCompletedAt != nil {
		t := *a.ProcessingCompletedAt
		c.ProcessingCompletedAt = &t
	}
	return &c
}

func cloneJob(j *asset.Job) *asset.Job {
	c := *j
	c.TargetSizes = append([]int(nil), j.TargetSizes...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (m *Memory) GetOrCreateAsset(_ context.Context, id asset.Identity, sourceURL, outputFormat string) (*asset.Asset, bool, error) {
	if err := id.Validate(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.assets {
		if a.Identity == id {
			a.SourceURL = sourceURL
			a.UpdatedAt = m.now()
			return cloneAsset(a), false, nil
		}
	}

	now := m.now()
	a := &asset.Asset{
		ID:           uuid.New(),
		Identity:     id,
		SourceURL:    sourceURL,
		Status:       asset.StatusPending,
		Variants:     asset.Variants{},
		OutputFormat: outputFormat,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.assets[a.ID] = a
	return cloneAsset(a), true, nil
}

func (m *Memory) GetAsset(_ context.Context, id uuid.UUID) (*asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[id]
	if !ok {
		return nil, asset.ErrNotFound
	}
	return cloneAsset(a), nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, asset.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) ActiveJob(_ context.Context, assetID uuid.UUID) (*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j := m.activeJobLocked(assetID); j != nil {
		return cloneJob(j), nil
	}
	return nil, asset.ErrNotFound
}

func (m *Memory) activeJobLocked(assetID uuid.UUID) *asset.Job {
	for _, j := range m.jobs {
		if j.AssetID == assetID && j.Status.Active() {
			return j
		}
	}
	return nil
}

func (m *Memory) CreateJob(_ context.Context, job *asset.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeJobLocked(job.AssetID) != nil {
		return asset.ErrActiveJobExists
	}

	j := cloneJob(job)
	j.Status = asset.JobQueued
	j.RetryCount = 0
	j.CreatedAt = m.now()
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) ClaimJob(_ context.Context, jobID uuid.UUID, workerID string) (*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status != asset.JobQueued {
		return nil, asset.ErrAlreadyClaimed
	}

	now := m.now()
	j.Status = asset.JobProcessing
	j.WorkerID = workerID
	j.StartedAt = &now
	if a, ok := m.assets[j.AssetID]; ok {
		a.Status = asset.StatusProcessing
		a.UpdatedAt = now
	}
	return cloneJob(j), nil
}

func (m *Memory) CompleteJob(_ context.Context, jobID uuid.UUID, variants asset.Variants) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status != asset.JobProcessing {
		return asset.ErrNotFound
	}

	now := m.now()
	j.Status = asset.JobCompleted
	j.CompletedAt = &now
	if a, ok := m.assets[j.AssetID]; ok {
		a.Status = asset.StatusCompleted
		a.Variants = variants
		a.ProcessingCompletedAt = &now
		a.UpdatedAt = now
	}
	return nil
}

func (m *Memory) FailJob(_ context.Context, jobID uuid.UUID, errMsg string, retryable bool) (*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return nil, asset.ErrNotFound
	}

	now := m.now()
	j.Status = asset.JobFailed
	j.RetryCount++
	j.ErrorMessage = errMsg
	j.CompletedAt = &now

	if !retryable || j.RetryCount >= j.MaxRetries {
		if a, ok := m.assets[j.AssetID]; ok {
			a.Status = asset.StatusFailed
			a.UpdatedAt = now
		}
	}
	return cloneJob(j), nil
}

func (m *Memory) RequeueJob(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status != asset.JobFailed || j.RetryCount >= j.MaxRetries {
		return asset.ErrNotFound
	}
	if active := m.activeJobLocked(j.AssetID); active != nil && active.ID != jobID {
		return asset.ErrActiveJobExists
	}

	j.Status = asset.JobQueued
	j.WorkerID = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	return nil
}

func (m *Memory) StuckAssets(_ context.Context, cutoff time.Time) ([]*asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*asset.Asset
	for _, a := range m.assets {
		stuck := a.Status == asset.StatusPending || a.Status == asset.StatusProcessing
		if stuck && a.UpdatedAt.Before(cutoff) {
			out = append(out, cloneAsset(a))
		}
	}
	return out, nil
}

func (m *Memory) RepairAsset(_ context.Context, assetID uuid.UUID, variants asset.Variants) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[assetID]
	if !ok {
		return asset.ErrNotFound
	}

	now := m.now()
	a.Status = asset.StatusCompleted
	a.Variants = variants
	a.ProcessingCompletedAt = &now
	a.UpdatedAt = now

	if j := m.activeJobLocked(assetID); j != nil {
		j.Status = asset.JobCompleted
		j.CompletedAt = &now
	}
	return nil
}

func (m *Memory) OrphanJobs(_ context.Context) ([]*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*asset.Job
	for _, j := range m.jobs {
		if _, ok := m.assets[j.AssetID]; !ok {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (m *Memory) DeleteJob(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return asset.ErrNotFound
	}
	delete(m.jobs, jobID)
	return nil
}

func (m *Memory) RetryableFailedJobs(_ context.Context, failedAfter time.Time) ([]*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*asset.Job
	for _, j := range m.jobs {
		if j.Status == asset.JobFailed && j.RetryCount < j.MaxRetries &&
			j.CompletedAt != nil && j.CompletedAt.After(failedAfter) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (m *Memory) ExpiredProcessingJobs(_ context.Context, startedBefore time.Time) ([]*asset.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*asset.Job
	for _, j := range m.jobs {
		if j.Status == asset.JobProcessing && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (m *Memory) DeleteOrphanAssets(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, a := range m.assets {
		if a.Status == asset.StatusCompleted || !a.UpdatedAt.Before(cutoff) {
			continue
		}
		referenced := false
		for _, j := range m.jobs {
			if j.AssetID == id {
				referenced = true
				break
			}
		}
		if !referenced {
			delete(m.assets, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) CountJobsByStatus(_ context.Context) (map[asset.JobStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[asset.JobStatus]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}
