package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/log"
	"github.com/weiawesome/chat-relay/pkg/pubsub"
)

// Cluster extends a local hub across relay instances. Broadcasts are
// published to the room channel and then delivered locally; events from
// other instances are delivered to the local hub.
type Cluster struct {
	hub    *Hub
	bus    pubsub.PubSub
	origin string
}

func NewCluster(hub *Hub, bus pubsub.PubSub, instanceID string) *Cluster {
	return &Cluster{hub: hub, bus: bus, origin: instanceID}
}

func (c *Cluster) Hub() *Hub { return c.hub }

// Broadcast publishes before delivering locally, so a failed publish
// leaves nothing delivered and a retry does not repeat local frames.
func (c *Cluster) Broadcast(ctx context.Context, room string, payload []byte) error {
	event := pubsub.NewEvent(eventType(payload), room, c.origin, payload)
	if err := c.bus.Publish(ctx, pubsub.RoomChannel(room), event); err != nil {
		return fmt.Errorf("failed to publish to room channel: %w", err)
	}
	return c.hub.Broadcast(ctx, room, payload)
}

func eventType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err == nil && head.Type == domain.FramePresence {
		return pubsub.EventRoomPresence
	}
	return pubsub.EventRoomMessage
}

// Run relays events from other instances until ctx ends or the
// subscription closes.
func (c *Cluster) Run(ctx context.Context) error {
	events, err := c.bus.SubscribePattern(ctx, pubsub.PatternAllRooms)
	if err != nil {
		return err
	}

	l := log.Ctx(ctx)
	l.Info().Str("instance_id", c.origin).Msg("cluster fan-out subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Origin == c.origin || ev.RoomCode == "" {
				continue
			}
			n := c.hub.Publish(ev.RoomCode, ev.Payload)
			l.Debug().Str(log.FieldRoomCode, ev.RoomCode).Int("delivered", n).Msg("relayed remote event")
		}
	}
}
