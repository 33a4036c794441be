// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/socialcdn/image-pipeline/pkg/schema"
)

type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// Queue is the NATS-backed JobQueue. Workers share a queue group so
// each message is delivered to exactly one subscriber; redelivery on
// crash is handled by the reconciliation sweeps, not the transport.
type Queue struct {
	client  *Client
	subject string
	sub     *nats.Subscription
}

func NewQueue(client *Client, subject, group string) (*Queue, error) {
	sub, err := client.nc.QueueSubscribeSync(subject, group)
	if err != nil {
		return nil, err
	}
	return &Queue{client: client, subject: subject, sub: sub}, nil
}

func (q *Queue) Enqueue(_ context.Context, msg schema.JobQueued) error {
	return q.client.PublishJSON(q.subject, msg)
}

func (q *Queue) Dequeue(ctx context.Context) (schema.JobQueued, error) {
	for {
		natsMsg, err := q.sub.NextMsgWithContext(ctx)
		if err != nil {
			return schema.JobQueued{}, err
		}

		var msg schema.JobQueued
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil || msg.JobID == "" {
			// Malformed messages are dropped; there is no job to fail.
			continue
		}
		return msg, nil
	}
}
