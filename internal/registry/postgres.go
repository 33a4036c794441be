package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

const (
	assetColumns = `id, source_type, source_id, media_id, source_url, processing_status,
		variants, output_format, processing_completed_at, created_at, updated_at`
	jobColumns = `id, asset_id, source_url, target_sizes, output_format, status,
		retry_count, max_retries, error_message, worker_id, started_at, completed_at, created_at`
)

// Postgres is the production Registry backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func regErr(op string, err error) error {
	return &asset.RegistryError{Op: op, Err: err}
}

// isUniqueViolation reports a 23505 on the partial unique index that
// enforces at most one queued/processing job per asset.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nilTimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*asset.Asset, error) {
	var (
		a           asset.Asset
		completedAt pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.Identity.SourceType, &a.Identity.SourceID, &a.Identity.MediaID,
		&a.SourceURL, &a.Status, &a.Variants, &a.OutputFormat, &completedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ProcessingCompletedAt = nilTimePtr(completedAt)
	return &a, nil
}

func scanJob(row rowScanner) (*asset.Job, error) {
	var (
		j           asset.Job
		sizes       []int32
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	err := row.Scan(&j.ID, &j.AssetID, &j.SourceURL, &sizes, &j.OutputFormat, &j.Status,
		&j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.WorkerID,
		&startedAt, &completedAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.TargetSizes = make([]int, len(sizes))
	for i, s := range sizes {
		j.TargetSizes[i] = int(s)
	}
	j.StartedAt = nilTimePtr(startedAt)
	j.CompletedAt = nilTimePtr(completedAt)
	return &j, nil
}

func toInt32s(sizes []int) []int32 {
	out := make([]int32, len(sizes))
	for i, s := range sizes {
		out[i] = int32(s)
	}
	return out
}

func (p *Postgres) GetOrCreateAsset(ctx context.Context, id asset.Identity, sourceURL, outputFormat string) (*asset.Asset, bool, error) {
	if err := id.Validate(); err != nil {
		return nil, false, err
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update, so
	// concurrent callers agree on who created the row.
	row := p.pool.QueryRow(ctx, `
		INSERT INTO assets (id, source_type, source_id, media_id, source_url,
			processing_status, variants, output_format, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', '{}', $6, $7, $7)
		ON CONFLICT (source_type, source_id, media_id)
		DO UPDATE SET source_url = EXCLUDED.source_url, updated_at = EXCLUDED.updated_at
		RETURNING `+assetColumns+`, (xmax = 0) AS created`,
		uuid.New(), id.SourceType, id.SourceID, id.MediaID, sourceURL, outputFormat, p.now())

	var (
		a           asset.Asset
		completedAt pgtype.Timestamptz
		created     bool
	)
	err := row.Scan(&a.ID, &a.Identity.SourceType, &a.Identity.SourceID, &a.Identity.MediaID,
		&a.SourceURL, &a.Status, &a.Variants, &a.OutputFormat, &completedAt,
		&a.CreatedAt, &a.UpdatedAt, &created)
	if err != nil {
		return nil, false, regErr("get or create asset", err)
	}
	a.ProcessingCompletedAt = nilTimePtr(completedAt)
	return &a, created, nil
}

func (p *Postgres) GetAsset(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	a, err := scanAsset(p.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, asset.ErrNotFound
	}
	if err != nil {
		return nil, regErr("get asset", err)
	}
	return a, nil
}

func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*asset.Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, asset.ErrNotFound
	}
	if err != nil {
		return nil, regErr("get job", err)
	}
	return j, nil
}

func (p *Postgres) ActiveJob(ctx context.Context, assetID uuid.UUID) (*asset.Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE asset_id = $1 AND status IN ('queued', 'processing')`, assetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, asset.ErrNotFound
	}
	if err != nil {
		return nil, regErr("active job", err)
	}
	return j, nil
}

func (p *Postgres) CreateJob(ctx context.Context, job *asset.Job) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO jobs (id, asset_id, source_url, target_sizes, output_format,
			status, retry_count, max_retries, error_message, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, '', '', $7)`,
		job.ID, job.AssetID, job.SourceURL, toInt32s(job.TargetSizes),
		job.OutputFormat, job.MaxRetries, p.now())
	if isUniqueViolation(err) {
		return asset.ErrActiveJobExists
	}
	if err != nil {
		return regErr("create job", err)
	}
	return nil
}

func (p *Postgres) ClaimJob(ctx context.Context, jobID uuid.UUID, workerID string) (*asset.Job, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, regErr("claim job", err)
	}
	defer tx.Rollback(ctx)

	now := p.now()
	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'processing', worker_id = $2, started_at = $3
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns, jobID, workerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, asset.ErrAlreadyClaimed
	}
	if err != nil {
		return nil, regErr("claim job", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE assets SET processing_status = 'processing', updated_at = $2
		WHERE id = $1`, j.AssetID, now)
	if err != nil {
		return nil, regErr("claim job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, regErr("claim job", err)
	}
	return j, nil
}

func (p *Postgres) CompleteJob(ctx context.Context, jobID uuid.UUID, variants asset.Variants) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return regErr("complete job", err)
	}
	defer tx.Rollback(ctx)

	now := p.now()
	var assetID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'processing'
		RETURNING asset_id`, jobID, now).Scan(&assetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return asset.ErrNotFound
	}
	if err != nil {
		return regErr("complete job", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE assets SET processing_status = 'completed', variants = $2,
			processing_completed_at = $3, updated_at = $3
		WHERE id = $1`, assetID, variants, now)
	if err != nil {
		return regErr("complete job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return regErr("complete job", err)
	}
	return nil
}

func (p *Postgres) FailJob(ctx context.Context, jobID uuid.UUID, errMsg string, retryable bool) (*asset.Job, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, regErr("fail job", err)
	}
	defer tx.Rollback(ctx)

	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'failed', retry_count = retry_count + 1,
			error_message = $2, completed_at = $3
		WHERE id = $1 AND status IN ('queued', 'processing')
		RETURNING `+jobColumns, jobID, errMsg, p.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, asset.ErrNotFound
	}
	if err != nil {
		return nil, regErr("fail job", err)
	}

	if !retryable || j.RetryCount >= j.MaxRetries {
		_, err = tx.Exec(ctx, `
			UPDATE assets SET processing_status = 'failed', updated_at = $2
			WHERE id = $1`, j.AssetID, p.now())
		if err != nil {
			return nil, regErr("fail job", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, regErr("fail job", err)
	}
	return j, nil
}

func (p *Postgres) RequeueJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status = 'queued', worker_id = '', started_at = NULL, completed_at = NULL
		WHERE id = $1 AND status = 'failed' AND retry_count < max_retries`, jobID)
	if isUniqueViolation(err) {
		return asset.ErrActiveJobExists
	}
	if err != nil {
		return regErr("requeue job", err)
	}
	if tag.RowsAffected() == 0 {
		return asset.ErrNotFound
	}
	return nil
}

func (p *Postgres) StuckAssets(ctx context.Context, cutoff time.Time) ([]*asset.Asset, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE processing_status IN ('pending', 'processing') AND updated_at < $1
		ORDER BY updated_at`, cutoff)
	if err != nil {
		return nil, regErr("stuck assets", err)
	}
	defer rows.Close()

	var out []*asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, regErr("stuck assets", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, regErr("stuck assets", err)
	}
	return out, nil
}

func (p *Postgres) RepairAsset(ctx context.Context, assetID uuid.UUID, variants asset.Variants) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return regErr("repair asset", err)
	}
	defer tx.Rollback(ctx)

	now := p.now()
	tag, err := tx.Exec(ctx, `
		UPDATE assets SET processing_status = 'completed', variants = $2,
			processing_completed_at = $3, updated_at = $3
		WHERE id = $1`, assetID, variants, now)
	if err != nil {
		return regErr("repair asset", err)
	}
	if tag.RowsAffected() == 0 {
		return asset.ErrNotFound
	}

	// The stuck job, if any, is resolved along with its asset.
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = $2
		WHERE asset_id = $1 AND status IN ('queued', 'processing')`, assetID, now)
	if err != nil {
		return regErr("repair asset", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return regErr("repair asset", err)
	}
	return nil
}

func (p *Postgres) OrphanJobs(ctx context.Context) ([]*asset.Job, error) {
	return p.queryJobs(ctx, "orphan jobs", `
		SELECT `+jobColumns+` FROM jobs j
		WHERE NOT EXISTS (SELECT 1 FROM assets a WHERE a.id = j.asset_id)`)
}

func (p *Postgres) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return regErr("delete job", err)
	}
	if tag.RowsAffected() == 0 {
		return asset.ErrNotFound
	}
	return nil
}

func (p *Postgres) RetryableFailedJobs(ctx context.Context, failedAfter time.Time) ([]*asset.Job, error) {
	return p.queryJobs(ctx, "retryable failed jobs", `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'failed' AND retry_count < max_retries AND completed_at > $1`,
		failedAfter)
}

func (p *Postgres) ExpiredProcessingJobs(ctx context.Context, startedBefore time.Time) ([]*asset.Job, error) {
	return p.queryJobs(ctx, "expired processing jobs", `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'processing' AND started_at < $1`, startedBefore)
}

func (p *Postgres) DeleteOrphanAssets(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM assets a
		WHERE a.processing_status <> 'completed' AND a.updated_at < $1
		  AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.asset_id = a.id)`, cutoff)
	if err != nil {
		return 0, regErr("delete orphan assets", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) CountJobsByStatus(ctx context.Context) (map[asset.JobStatus]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, regErr("count jobs", err)
	}
	defer rows.Close()

	counts := make(map[asset.JobStatus]int64)
	for rows.Next() {
		var status asset.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, regErr("count jobs", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, regErr("count jobs", err)
	}
	return counts, nil
}

func (p *Postgres) queryJobs(ctx context.Context, op, query string, args ...any) ([]*asset.Job, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, regErr(op, err)
	}
	defer rows.Close()

	var out []*asset.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, regErr(op, err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, regErr(op, err)
	}
	return out, nil
}
