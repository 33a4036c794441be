// Package storage is the content-addressed object store client. It has
// no business logic; keys are derived by the asset package.
package storage

import (
	"context"
	"time"
)

// ObjectInfo is the metadata returned by a Head probe.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Client is the minimal object-store surface the pipeline consumes.
// Head returns asset.ErrNotFound for missing keys so reconciliation can
// distinguish absence from infrastructure failure.
type Client interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
