package bridge

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers forwarded message ids for a bounded window.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type RedisDeduper struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewRedisDeduper(client *redis.Client, prefix string, window time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "relay:dedup:"
	}
	return &RedisDeduper{client: client, prefix: prefix, window: window}
}

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records id with SET NX so the first forward wins the window.
func (d *RedisDeduper) Mark(ctx context.Context, id string) error {
	return d.client.SetNX(ctx, d.prefix+id, 1, d.window).Err()
}
