package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/pkg/pubsub"
)

// localBus delivers every published event to all pattern subscribers.
type localBus struct {
	mu       sync.Mutex
	subs     []chan *pubsub.Event
	failures int
}

func (b *localBus) Publish(ctx context.Context, channel string, event *pubsub.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("bus unavailable")
	}
	for _, ch := range b.subs {
		ch <- event
	}
	return nil
}

func (b *localBus) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	return b.SubscribePattern(ctx, channel)
}

func (b *localBus) SubscribePattern(ctx context.Context, pattern string) (<-chan *pubsub.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *pubsub.Event, 16)
	b.subs = append(b.subs, ch)
	return ch, nil
}

func (b *localBus) Unsubscribe(ctx context.Context, channel string) error { return nil }
func (b *localBus) Close() error                                          { return nil }

func (b *localBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func TestCluster_DeliversAcrossInstances(t *testing.T) {
	bus := &localBus{}
	hubA, hubB := NewHub(8), NewHub(8)
	a := NewCluster(hubA, bus, "a")
	b := NewCluster(hubB, bus, "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribers() == 2 }, time.Second, 5*time.Millisecond)

	alice := hubA.Register("alice", "alice")
	bob := hubB.Register("bob", "bob")
	_, _ = hubA.Subscribe("alice", "R1")
	_, _ = hubB.Subscribe("bob", "R1")

	require.NoError(t, a.Broadcast(ctx, "R1", []byte(`{"type":"message","content":"hi"}`)))

	select {
	case p := <-bob.Send():
		require.JSONEq(t, `{"type":"message","content":"hi"}`, string(p))
	case <-time.After(time.Second):
		t.Fatal("remote session did not receive broadcast")
	}

	require.Equal(t, []string{`{"type":"message","content":"hi"}`}, drain(alice))
	// the origin instance ignores its own echo
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, drain(alice))
}

func TestEventType(t *testing.T) {
	require.Equal(t, pubsub.EventRoomPresence, eventType([]byte(`{"type":"presence"}`)))
	require.Equal(t, pubsub.EventRoomMessage, eventType([]byte(`{"type":"message"}`)))
	require.Equal(t, pubsub.EventRoomMessage, eventType([]byte(`garbage`)))
}

func TestCluster_PublishFailureDeliversNothingLocally(t *testing.T) {
	ctx := context.Background()
	bus := &localBus{failures: 1}
	hub := NewHub(8)
	c := NewCluster(hub, bus, "a")

	alice := hub.Register("alice", "alice")
	_, _ = hub.Subscribe("alice", "R1")

	payload := []byte(`{"type":"message","content":"hi"}`)
	require.Error(t, c.Broadcast(ctx, "R1", payload))
	require.Empty(t, drain(alice))

	require.NoError(t, c.Broadcast(ctx, "R1", payload))
	require.Equal(t, []string{string(payload)}, drain(alice))
}
