// pkg/schema/events.go
package schema

// JobQueued is the queue message handed to workers. It carries only the
// job id; everything else is read from the registry at claim time so the
// queue stays at-least-once and the registry stays the source of truth.
type JobQueued struct {
	JobID      string `json:"job_id"`
	HappenedAt int64  `json:"happened_at"`
}

type ProcessingStage string

const (
	StageClaimed   ProcessingStage = "claimed"
	StageDownload  ProcessingStage = "download"
	StageTranscode ProcessingStage = "transcode"
	StageUpload    ProcessingStage = "upload"
	StageCompleted ProcessingStage = "completed"
	StageFailed    ProcessingStage = "failed"
	StageRequeued  ProcessingStage = "requeued"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

// DerivativeResult describes one uploaded size of an asset.
type DerivativeResult struct {
	Size        int    `json:"size"`
	ContentHash string `json:"content_hash"`
	StorageKey  string `json:"storage_key"`
	CDNURL      string `json:"cdn_url"`
	FileSize    int64  `json:"file_size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// AssetLifecycleEvent is published per stage transition while a job runs.
type AssetLifecycleEvent struct {
	JobID       string          `json:"job_id"`
	AssetID     string          `json:"asset_id"`
	SourceType  string          `json:"source_type"`
	SourceID    string          `json:"source_id"`
	MediaID     string          `json:"media_id"`
	Stage       ProcessingStage `json:"stage"`
	RetryCount  int             `json:"retry_count,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	FailureType FailureType     `json:"failure_type,omitempty"`
	HappenedAt  int64           `json:"happened_at"`
}

// AssetDone is the terminal event for one job attempt.
type AssetDone struct {
	JobID            string             `json:"job_id"`
	AssetID          string             `json:"asset_id"`
	SourceType       string             `json:"source_type"`
	SourceID         string             `json:"source_id"`
	MediaID          string             `json:"media_id"`
	SourceURL        string             `json:"source_url"`
	Status           string             `json:"status"`
	RetryCount       int                `json:"retry_count"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	Results          []DerivativeResult `json:"results,omitempty"`
	Error            string             `json:"error,omitempty"`
	FailureType      FailureType        `json:"failure_type,omitempty"`
	HappenedAt       int64              `json:"happened_at"`
}

// HealthSnapshot is the payload served on /healthz.
type HealthSnapshot struct {
	QueueDepth          map[string]int64 `json:"queue_depth"`
	BreakerOpen         bool             `json:"breaker_open"`
	BreakerFailures     int              `json:"breaker_failures"`
	LastReconcileAt     int64            `json:"last_reconcile_at,omitempty"`
	LastReconcileGaps   int              `json:"last_reconcile_gaps,omitempty"`
	LastReconcileFixed  int              `json:"last_reconcile_fixed,omitempty"`
	LastReconcileErrors int              `json:"last_reconcile_errors,omitempty"`
}
