// Package queue defines the transport-neutral job queue port. The
// worker pool depends only on this interface; NATS is one
// implementation, the in-process channel another. The queue promises
// at-least-once delivery only — exactly-once execution comes from the
// registry claim step.
package queue

import (
	"context"

	"github.com/socialcdn/image-pipeline/pkg/schema"
)

type JobQueue interface {
	Enqueue(ctx context.Context, msg schema.JobQueued) error
	// Dequeue blocks until a message arrives or ctx is done.
	Dequeue(ctx context.Context) (schema.JobQueued, error)
}

// Channel is an in-process JobQueue backed by a buffered channel.
type Channel struct {
	ch chan schema.JobQueued
}

func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 256
	}
	return &Channel{ch: make(chan schema.JobQueued, size)}
}

func (c *Channel) Enqueue(ctx context.Context, msg schema.JobQueued) error {
	select {
	case c.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) Dequeue(ctx context.Context) (schema.JobQueued, error) {
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-ctx.Done():
		return schema.JobQueued{}, ctx.Err()
	}
}

// Len reports the buffered backlog. Test helper.
func (c *Channel) Len() int { return len(c.ch) }
