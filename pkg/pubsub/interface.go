package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event represents a message published on the bus.
type Event struct {
	Type      string          `json:"type"`
	RoomCode  string          `json:"room_code"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event carrying an already encoded payload.
func NewEvent(eventType, roomCode, origin string, payload []byte) *Event {
	return &Event{
		Type:      eventType,
		RoomCode:  roomCode,
		Origin:    origin,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publisher publishes events to the bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
