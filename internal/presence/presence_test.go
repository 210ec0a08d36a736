package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the set commands the store uses.
type fakeRedis struct {
	redis.Cmdable

	mu   sync.Mutex
	sets map[string]map[string]struct{}
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		sets: make(map[string]map[string]struct{}),
		ttls: make(map[string]time.Duration),
	}
}

func (f *fakeRedis) TxPipeline() redis.Pipeliner {
	return &fakePipeline{f: f}
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, m := range members {
		if _, ok := f.sets[key][m.(string)]; ok {
			delete(f.sets[key], m.(string))
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

// fakePipeline queues SAdd and Expire until Exec.
type fakePipeline struct {
	redis.Pipeliner

	f   *fakeRedis
	ops []func()
}

func (p *fakePipeline) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	p.ops = append(p.ops, func() {
		if p.f.sets[key] == nil {
			p.f.sets[key] = make(map[string]struct{})
		}
		for _, m := range members {
			p.f.sets[key][m.(string)] = struct{}{}
		}
	})
	return redis.NewIntResult(int64(len(members)), nil)
}

func (p *fakePipeline) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	p.ops = append(p.ops, func() { p.f.ttls[key] = expiration })
	return redis.NewBoolResult(true, nil)
}

func (p *fakePipeline) Exec(ctx context.Context) ([]redis.Cmder, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if p.f.err != nil {
		return nil, p.f.err
	}
	for _, op := range p.ops {
		op()
	}
	p.ops = nil
	return nil, nil
}

func TestRedisStore_AddRemoveMembers(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewRedisStore(client, "", time.Hour)

	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, store.Add(ctx, "R1", name))
	}
	require.NoError(t, store.Add(ctx, "R2", "dave"))
	require.Equal(t, time.Hour, client.ttls["relay:presence:R1:users"])

	members, err := store.Members(ctx, "R1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol"}, members)

	require.NoError(t, store.Remove(ctx, "R1", "carol"))
	members, err = store.Members(ctx, "R1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	members, err = store.Members(ctx, "R3")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRedisStore_NoTTL(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStore(client, "p", 0)

	require.NoError(t, store.Add(context.Background(), "R1", "alice"))
	_, ok := client.ttls["p:R1:users"]
	require.False(t, ok)
}

func TestRedisStore_Errors(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store := NewRedisStore(client, "", time.Minute)

	require.ErrorContains(t, store.Add(ctx, "R1", "alice"), "failed to add presence")
	require.ErrorContains(t, store.Remove(ctx, "R1", "alice"), "failed to remove presence")
	_, err := store.Members(ctx, "R1")
	require.ErrorIs(t, err, client.err)
}
