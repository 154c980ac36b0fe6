package eventbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// streamClient is the subset of the go-redis client used by RedisBus.
// Tests substitute a fake.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisBus publishes events to Redis Streams. One subject maps to one
// stream key; downstream processors read it through durable consumer
// groups with explicit acknowledgement, so an event appended here is
// redelivered until acked.
type RedisBus struct {
	client streamClient
}

// NewRedisBus wraps an already configured go-redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish appends the payload to the subject's stream.
func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: subject,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", subject, err)
	}
	return nil
}

// EnsureGroup creates the durable consumer group for a subject, creating
// the stream when absent. Safe to call on every startup.
func (b *RedisBus) EnsureGroup(ctx context.Context, subject, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, subject, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, subject, err)
	}
	return nil
}

// Ping verifies connectivity at startup.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
