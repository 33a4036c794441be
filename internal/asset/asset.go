// Package asset holds the domain model for the image pipeline: logical
// assets keyed by their upstream identity, the jobs that materialize
// their derivatives, and the error taxonomy shared across components.
package asset

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies which upstream surface an image came from.
type SourceType string

const (
	SourceProfileAvatar SourceType = "profile_avatar"
	SourcePostThumbnail SourceType = "post_thumbnail"
)

// AvatarMediaID is the opaque media id used for avatars, which have no
// upstream post identifier.
const AvatarMediaID = "avatar"

func (s SourceType) Valid() bool {
	return s == SourceProfileAvatar || s == SourcePostThumbnail
}

// Segment returns the CDN URL path segment for this source type.
func (s SourceType) Segment() string {
	switch s {
	case SourceProfileAvatar:
		return "avatars"
	case SourcePostThumbnail:
		return "posts"
	default:
		return string(s)
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Active reports whether the job counts against the one-active-job
// invariant for its asset.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobProcessing
}

// Identity is the unique triple identifying an asset.
type Identity struct {
	SourceType SourceType
	SourceID   string
	MediaID    string
}

func (id Identity) Validate() error {
	if !id.SourceType.Valid() {
		return fmt.Errorf("invalid source type %q", id.SourceType)
	}
	if id.SourceID == "" {
		return fmt.Errorf("source id is required")
	}
	if id.MediaID == "" {
		return fmt.Errorf("media id is required")
	}
	return nil
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.SourceType, id.SourceID, id.MediaID)
}

// Asset is a logical image derived from one upstream source. One asset
// may have several size derivatives, tracked in Variants.
type Asset struct {
	ID                    uuid.UUID
	Identity              Identity
	SourceURL             string
	Status                Status
	Variants              Variants
	OutputFormat          string
	ProcessingCompletedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Complete reports whether every requested size has an uploaded variant.
func (a *Asset) Complete(sizes []int) bool {
	for _, size := range sizes {
		v, ok := a.Variants[size]
		if !ok || v.CDNPath == "" || v.ContentHash == "" {
			return false
		}
	}
	return len(sizes) > 0
}

// Job is one attempt (with retries) to materialize an asset's
// derivatives. A job is exclusively owned by the worker that claimed it.
type Job struct {
	ID           uuid.UUID
	AssetID      uuid.UUID
	SourceURL    string
	TargetSizes  []int
	OutputFormat string
	Status       JobStatus
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	WorkerID     string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}
