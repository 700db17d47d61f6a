package emit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisEmitter publishes events to a Redis pub/sub channel so out-of-process
// subscribers (a dashboard, a second process watching a job) can observe a
// job's lifecycle without sharing memory with the engine. Publish failures
// are swallowed per Emitter's contract: event delivery is best-effort and
// must never fail a job.
type RedisEmitter struct {
	client  *redis.Client
	channel string
}

// NewRedisEmitter builds a RedisEmitter publishing to channel.
func NewRedisEmitter(client *redis.Client, channel string) *RedisEmitter {
	return &RedisEmitter{client: client, channel: channel}
}

func (r *RedisEmitter) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	r.client.Publish(context.Background(), r.channel, data)
}

func (r *RedisEmitter) EmitBatch(ctx context.Context, events []Event) error {
	pipe := r.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		pipe.Publish(ctx, r.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis emit batch: %w", err)
	}
	return nil
}

func (r *RedisEmitter) Flush(context.Context) error { return nil }
