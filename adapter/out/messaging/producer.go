// Package messaging provides the Redis Streams queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"ordersight/core/port/out"
)

// Stream names
const (
	StreamProcessMessage = "message:process"
)

// RedisProducer implements out.MessageProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishProcessMessage enqueues a message for pipeline processing.
func (p *RedisProducer) PublishProcessMessage(ctx context.Context, job *out.ProcessMessageJob) error {
	return p.publish(ctx, StreamProcessMessage, job)
}

func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

var _ out.MessageProducer = (*RedisProducer)(nil)
