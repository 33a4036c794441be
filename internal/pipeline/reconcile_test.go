package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialcdn/image-pipeline/internal/asset"
	"github.com/socialcdn/image-pipeline/internal/queue"
	"github.com/socialcdn/image-pipeline/internal/registry"
	"github.com/socialcdn/image-pipeline/internal/storage"
)

type reconcileFixture struct {
	reg   *registry.Memory
	store *storage.Memory
	q     *queue.Channel
	rec   *Reconciler
	enq   *Enqueuer
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()

	reg := registry.NewMemory()
	store := storage.NewMemory()
	q := queue.NewChannel(16)
	rec := NewReconciler(reg, store, q, testLogger(), ReconcilerConfig{
		TargetSizes: []int{256},
		CDNHost:     "cdn.example.com",
	})
	return &reconcileFixture{
		reg:   reg,
		store: store,
		q:     q,
		rec:   rec,
		enq:   NewEnqueuer(reg, q, testLogger()),
	}
}

// advance moves the reconciler's clock d into the future.
func (f *reconcileFixture) advance(d time.Duration) {
	future := time.Now().UTC().Add(d)
	f.rec.now = func() time.Time { return future }
}

func TestReconcileRepairsSyncGap(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	// A worker claimed the job, uploaded both derivatives, and died
	// before the registry commit.
	res, err := f.enq.Enqueue(ctx, testIdentity(), "http://img/a.jpg", []int{256, 512})
	require.NoError(t, err)
	job, err := f.reg.ClaimJob(ctx, res.JobID, "w-dead")
	require.NoError(t, err)
	f.dropMessage(t)

	a, err := f.reg.GetAsset(ctx, res.AssetID)
	require.NoError(t, err)
	key256 := asset.StorageKey(a.Identity, 256, "aaaa1111", "jpeg")
	key512 := asset.StorageKey(a.Identity, 512, "bbbb2222", "jpeg")
	require.NoError(t, f.store.Put(ctx, key256, []byte("small"), "image/jpeg"))
	require.NoError(t, f.store.Put(ctx, key512, []byte("large-bytes"), "image/jpeg"))

	f.advance(3 * time.Hour)
	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StuckScanned)
	assert.Equal(t, 1, summary.Repaired)

	repaired, err := f.reg.GetAsset(ctx, res.AssetID)
	require.NoError(t, err)
	assert.Equal(t, asset.StatusCompleted, repaired.Status)
	assert.Equal(t, key256, repaired.Variants[256].CDNPath)
	assert.Equal(t, "aaaa1111", repaired.Variants[256].ContentHash)
	assert.Equal(t, int64(len("small")), repaired.Variants[256].FileSize)
	assert.Equal(t, asset.CDNURL("cdn.example.com", repaired.Identity, 512, "jpeg"),
		repaired.Variants[512].CDNURL)

	repairedJob, err := f.reg.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.JobCompleted, repairedJob.Status)
}

func TestReconcileDoesNotFalselyComplete(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	res, err := f.enq.Enqueue(ctx, testIdentity(), "http://img/a.jpg", []int{256, 512})
	require.NoError(t, err)
	_, err = f.reg.ClaimJob(ctx, res.JobID, "w-dead")
	require.NoError(t, err)
	f.dropMessage(t)

	// Only one of the two expected sizes was uploaded.
	a, err := f.reg.GetAsset(ctx, res.AssetID)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx,
		asset.StorageKey(a.Identity, 256, "aaaa1111", "jpeg"), []byte("small"), "image/jpeg"))

	f.advance(3 * time.Hour)
	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Repaired)

	unrepaired, err := f.reg.GetAsset(ctx, res.AssetID)
	require.NoError(t, err)
	assert.Equal(t, asset.StatusProcessing, unrepaired.Status, "partial upload must not complete the asset")
}

func TestReconcileRepublishesLostQueuedJob(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	res, err := f.enq.Enqueue(ctx, testIdentity(), "http://img/a.jpg", []int{256})
	require.NoError(t, err)
	f.dropMessage(t)

	f.advance(3 * time.Hour)
	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Republished)

	require.Equal(t, 1, f.q.Len())
	msg, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.JobID.String(), msg.JobID)
}

func TestReconcileDeletesOrphanJobs(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	res, err := f.enq.Enqueue(ctx, testIdentity(), "http://img/a.jpg", []int{256})
	require.NoError(t, err)
	f.reg.RemoveAsset(res.AssetID)

	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrphansDeleted)

	_, err = f.reg.GetJob(ctx, res.JobID)
	assert.ErrorIs(t, err, asset.ErrNotFound)
}

func TestReconcileRequeuesRecentFailedJobs(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	res, err := f.enq.Enqueue(ctx, testIdentity(), "http://img/a.jpg", []int{256})
	require.NoError(t, err)
	f.dropMessage(t)
	_, err = f.reg.ClaimJob(ctx, res.JobID, "w-0")
	require.NoError(t, err)
	_, err = f.reg.FailJob(ctx, res.JobID, "connection reset", true)
	require.NoError(t, err)

	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Requeued)

	job, err := f.reg.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, asset.JobQueued, job.Status)
	assert.Equal(t, 1, f.q.Len())
}

func TestReconcileExpiresCrashedWorkerJob(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	res, err := f.enq.Enqueue(ctx, testIdentity(), "http://img/a.jpg", []int{256})
	require.NoError(t, err)
	f.dropMessage(t)
	_, err = f.reg.ClaimJob(ctx, res.JobID, "w-crashed")
	require.NoError(t, err)

	f.advance(31 * time.Minute)
	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)

	job, err := f.reg.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	// The same run requeues it: still within the retry window.
	assert.Equal(t, asset.JobQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}

func TestReconcileDeletesUnreferencedAssets(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	a, created, err := f.reg.GetOrCreateAsset(ctx, testIdentity(), "http://img/a.jpg", "jpeg")
	require.NoError(t, err)
	require.True(t, created)

	f.advance(8 * 24 * time.Hour)
	summary, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AssetsDeleted)

	_, err = f.reg.GetAsset(ctx, a.ID)
	assert.ErrorIs(t, err, asset.ErrNotFound)
}

// dropMessage empties the queue, simulating a consumed-and-lost message.
func (f *reconcileFixture) dropMessage(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.q.Dequeue(ctx)
	require.NoError(t, err)
}
