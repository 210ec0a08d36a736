package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/pkg/log"
)

// ConfluentProducer publishes through librdkafka with acks=all and
// idempotence, so broker-side retries never duplicate or reorder a room.
type ConfluentProducer struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

// NewConfluentProducer creates a producer for cfg.Topic. Every topic in
// ensure is created with cfg.Partitions partitions if missing.
func NewConfluentProducer(cfg config.KafkaConfig, ensure ...string) (*ConfluentProducer, error) {
	l := log.L()
	for _, topic := range append([]string{cfg.Topic}, ensure...) {
		if err := ensureTopic(cfg.Brokers, topic, cfg.Partitions); err != nil {
			l.Warn().Err(err).Str("topic", topic).Msg("failed to ensure topic (may already exist)")
		}
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cp := &ConfluentProducer{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}

	go cp.eventHandler()

	return cp, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	if partitions <= 0 {
		partitions = 1
	}

	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}

	return nil
}

// eventHandler drains producer-level events. Per-message delivery reports
// go to the channel passed to Produce instead.
func (cp *ConfluentProducer) eventHandler() {
	l := log.L()
	for e := range cp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Error().Err(ev.TopicPartition.Error).Str(log.FieldRoomCode, string(ev.Key)).Msg("kafka delivery failed")
			}
		case kafka.Error:
			l.Error().Err(ev).Bool("fatal", ev.IsFatal()).Msg("kafka producer error")
		}
	}
	close(cp.doneCh)
}

func (cp *ConfluentProducer) Publish(ctx context.Context, rec Record) error {
	topic := rec.Topic
	if topic == "" {
		topic = cp.topic
	}

	delivery := make(chan kafka.Event, 1)
	err := cp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(rec.Key),
		Value: rec.Value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	}
}

func (cp *ConfluentProducer) Close() error {
	cp.producer.Flush(5000)
	cp.producer.Close()
	<-cp.doneCh
	return nil
}

// ConfluentSource is a consumer-group member with auto commit disabled.
type ConfluentSource struct {
	consumer *kafka.Consumer
	topic    string
	groupID  string
}

func NewConfluentSource(cfg config.KafkaConfig) (*ConfluentSource, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":     cfg.Brokers,
		"group.id":              cfg.GroupID,
		"auto.offset.reset":     cfg.AutoOffsetReset,
		"enable.auto.commit":    false,
		"max.poll.interval.ms":  cfg.MaxPollIntervalMs,
		"session.timeout.ms":    cfg.SessionTimeoutMs,
		"heartbeat.interval.ms": cfg.HeartbeatIntervalMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(cfg.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", cfg.Topic, err)
	}

	l := log.L()
	l.Info().Str("topic", cfg.Topic).Str("group", cfg.GroupID).Msg("kafka consumer started")

	return &ConfluentSource{consumer: c, topic: cfg.Topic, groupID: cfg.GroupID}, nil
}

func (s *ConfluentSource) Fetch(ctx context.Context) (Record, error) {
	l := log.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		default:
		}

		ev := s.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				l.Warn().Err(e.TopicPartition.Error).Msg("kafka message error")
				continue
			}
			topic := s.topic
			if e.TopicPartition.Topic != nil {
				topic = *e.TopicPartition.Topic
			}
			return Record{
				Key:       string(e.Key),
				Value:     e.Value,
				Topic:     topic,
				Partition: e.TopicPartition.Partition,
				Offset:    int64(e.TopicPartition.Offset),
			}, nil
		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka error")
			if e.IsFatal() {
				return Record{}, fmt.Errorf("fatal kafka error: %w", e)
			}
		default:
			// Ignore other events (rebalance, stats, etc.)
		}
	}
}

// Commit stores offset+1 for the record's partition, the position the
// group resumes from.
func (s *ConfluentSource) Commit(ctx context.Context, rec Record) error {
	topic := rec.Topic
	_, err := s.consumer.CommitOffsets([]kafka.TopicPartition{{
		Topic:     &topic,
		Partition: rec.Partition,
		Offset:    kafka.Offset(rec.Offset + 1),
	}})
	if err != nil {
		return fmt.Errorf("failed to commit offset: %w", err)
	}
	return nil
}

func (s *ConfluentSource) Close() error {
	l := log.L()
	l.Info().Str("group", s.groupID).Msg("closing kafka consumer")
	return s.consumer.Close()
}
