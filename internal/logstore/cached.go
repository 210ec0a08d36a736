package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/log"
	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache holds full room histories.
type HistoryCache interface {
	Get(ctx context.Context, roomCode string) ([]domain.ChatMessage, error)
	Set(ctx context.Context, roomCode string, msgs []domain.ChatMessage, ttl time.Duration) error
	Invalidate(ctx context.Context, roomCode string) error
}

// RedisHistoryCache stores each room history as one JSON value.
type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

func NewRedisHistoryCache(client *redis.Client, prefix string) *RedisHistoryCache {
	return &RedisHistoryCache{client: client, prefix: prefix}
}

func (c *RedisHistoryCache) key(roomCode string) string {
	return fmt.Sprintf("%s:%s", c.prefix, roomCode)
}

func (c *RedisHistoryCache) Get(ctx context.Context, roomCode string) ([]domain.ChatMessage, error) {
	data, err := c.client.Get(ctx, c.key(roomCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var msgs []domain.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return msgs, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, roomCode string, msgs []domain.ChatMessage, ttl time.Duration) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, c.key(roomCode), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisHistoryCache) Invalidate(ctx context.Context, roomCode string) error {
	return c.client.Del(ctx, c.key(roomCode)).Err()
}

// Cached is a read-through history cache in front of a Store. Concurrent
// misses for one room collapse into a single store read. Every append
// invalidates the room, and a fill that raced with an append is discarded
// so the cache never holds a history older than the last local append.
type Cached struct {
	Store
	cache HistoryCache
	ttl   time.Duration
	sf    singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

func NewCached(store Store, cache HistoryCache, ttl time.Duration) *Cached {
	return &Cached{
		Store: store,
		cache: cache,
		ttl:   ttl,
		gen:   make(map[string]uint64),
	}
}

func (c *Cached) generation(roomCode string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[roomCode]
}

func (c *Cached) Append(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	stored, err := c.Store.Append(ctx, msg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.gen[stored.RoomCode]++
	c.mu.Unlock()

	if err := c.cache.Invalidate(ctx, stored.RoomCode); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomCode, stored.RoomCode).Msg("cache invalidate error")
	}
	return stored, nil
}

func (c *Cached) History(ctx context.Context, roomCode string) ([]domain.ChatMessage, error) {
	result, err, _ := c.sf.Do(roomCode, func() (interface{}, error) {
		return c.fetchWithCache(ctx, roomCode)
	})
	if err != nil {
		return nil, err
	}

	msgs, ok := result.([]domain.ChatMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}

	// Callers share the singleflight result; hand each one its own slice.
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *Cached) fetchWithCache(ctx context.Context, roomCode string) ([]domain.ChatMessage, error) {
	cached, err := c.cache.Get(ctx, roomCode)
	if err == nil {
		return cached, nil
	}

	l := log.Ctx(ctx)
	if !errors.Is(err, ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldRoomCode, roomCode).Msg("cache get error")
	}

	gen := c.generation(roomCode)
	msgs, err := c.Store.History(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	if c.generation(roomCode) != gen {
		return msgs, nil
	}
	if err := c.cache.Set(ctx, roomCode, msgs, c.ttl); err != nil {
		l.Warn().Err(err).Str(log.FieldRoomCode, roomCode).Msg("cache set error")
		return msgs, nil
	}

	// An append that landed while Set was in flight may have invalidated
	// before our write; drop the fill in that case.
	if c.generation(roomCode) != gen {
		if err := c.cache.Invalidate(ctx, roomCode); err != nil {
			l.Warn().Err(err).Str(log.FieldRoomCode, roomCode).Msg("cache invalidate error")
		}
	}
	return msgs, nil
}
