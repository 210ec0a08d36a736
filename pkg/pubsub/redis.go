package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/chat-relay/pkg/log"
)

// RedisPubSub implements PubSub using Redis channels.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	bufferSize    int
	mu            sync.Mutex
}

// NewRedisPubSubFromClient wraps an existing client. The client stays owned
// by the caller.
func NewRedisPubSubFromClient(client *redis.Client, bufferSize int) *RedisPubSub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
		bufferSize:    bufferSize,
	}
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a specific channel.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.subscribe(ctx, channel, r.client.Subscribe(ctx, channel))
}

// SubscribePattern subscribes to channels matching a pattern.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.subscribe(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) subscribe(ctx context.Context, key string, ps *redis.PubSub) (<-chan *Event, error) {
	// Receive the subscription confirmation so errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	r.mu.Lock()
	if existing, ok := r.subscriptions[key]; ok {
		existing.Close()
	}
	r.subscriptions[key] = ps
	r.mu.Unlock()

	eventCh := make(chan *Event, r.bufferSize)
	go r.processMessages(ctx, ps, eventCh)

	return eventCh, nil
}

// Unsubscribe closes the subscription registered under channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.subscriptions[channel]; ok {
		delete(r.subscriptions, channel)
		return ps.Close()
	}

	return nil
}

// Close closes all subscriptions.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, ps := range r.subscriptions {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.subscriptions, key)
	}
	return firstErr
}

// processMessages decodes Redis messages into events. A full event buffer
// drops the event rather than stalling the Redis connection.
func (r *RedisPubSub) processMessages(ctx context.Context, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed pubsub event")
				continue
			}
			if event.RoomCode == "" {
				event.RoomCode, _ = RoomFromChannel(msg.Channel)
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l := log.L()
				l.Warn().Str("channel", msg.Channel).Msg("pubsub buffer full, event dropped")
			}
		}
	}
}
