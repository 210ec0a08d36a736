package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store tracks which usernames are present in a room.
type Store interface {
	Add(ctx context.Context, roomCode, username string) error
	Remove(ctx context.Context, roomCode, username string) error
	Members(ctx context.Context, roomCode string) ([]string, error)
}

// RedisStore keeps one set per room:
// {prefix}:{room_code}:users  SET<username>
// The key expires ttl after the last join so crashed instances do not
// leave members behind forever.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "relay:presence"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) roomUsersKey(roomCode string) string {
	return fmt.Sprintf("%s:%s:users", s.prefix, roomCode)
}

func (s *RedisStore) Add(ctx context.Context, roomCode, username string) error {
	key := s.roomUsersKey(roomCode)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, username)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, roomCode, username string) error {
	if err := s.client.SRem(ctx, s.roomUsersKey(roomCode), username).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Members(ctx context.Context, roomCode string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.roomUsersKey(roomCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	sort.Strings(members)
	return members, nil
}
