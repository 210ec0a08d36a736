package deadletter

import (
	"context"
	"fmt"

	"github.com/weiawesome/chat-relay/internal/broker"
)

// KafkaSink republishes letters, keyed by room, to a dead-letter topic.
type KafkaSink struct {
	producer broker.Producer
	topic    string
}

func NewKafkaSink(producer broker.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Write(ctx context.Context, l Letter) error {
	value, err := l.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode letter: %w", err)
	}
	return s.producer.Publish(ctx, broker.Record{
		Key:   l.RoomCode,
		Value: value,
		Topic: s.topic,
	})
}

// Close is a no-op; the producer is shared and closed by its owner.
func (s *KafkaSink) Close() error { return nil }
