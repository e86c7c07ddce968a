package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotenceCache records that a given step or action has already run, so
// at-least-once redelivery can be turned into a no-op by the caller. Keys
// are caller-supplied; worker.Pool, its caller in this module, keys one
// delivered attempt of a pipeline step as "task_id:step_index:retry_attempt".
// The flow engine does not use it.
type IdempotenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotenceCache connects to the Redis-compatible store at url. ttl
// bounds how long a "already ran" marker is remembered; zero means the
// markers never expire on their own.
func NewIdempotenceCache(url string, ttl time.Duration) (*IdempotenceCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: connect to redis: %w", err)
	}

	return &IdempotenceCache{client: client, ttl: ttl}, nil
}

// MarkIfAbsent atomically records key as seen and reports whether this call
// was the first to do so (true) or the key was already marked (false) —
// the caller should skip re-running its side effect in the latter case.
func (c *IdempotenceCache) MarkIfAbsent(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, "idem:"+key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storage: idempotence check for %s: %w", key, err)
	}
	return ok, nil
}

// Forget removes a marker, e.g. after an operator replays a DLQ'd task and
// wants it to run again.
func (c *IdempotenceCache) Forget(ctx context.Context, key string) error {
	return c.client.Del(ctx, "idem:"+key).Err()
}

// Close releases the Redis connection.
func (c *IdempotenceCache) Close() error {
	return c.client.Close()
}
