package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/weiawesome/chat-relay/internal/config"
	pkgconfig "github.com/weiawesome/chat-relay/pkg/config"
	"github.com/weiawesome/chat-relay/pkg/log"
)

// FranzProducer publishes with franz-go's synchronous produce path.
type FranzProducer struct {
	client *kgo.Client
	topic  string
}

func NewFranzProducer(cfg config.KafkaConfig) (*FranzProducer, error) {
	brokers := pkgconfig.SplitList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &FranzProducer{client: client, topic: cfg.Topic}, nil
}

func (p *FranzProducer) Publish(ctx context.Context, rec Record) error {
	topic := rec.Topic
	if topic == "" {
		topic = p.topic
	}

	results := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: topic,
		Key:   []byte(rec.Key),
		Value: rec.Value,
	})
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (p *FranzProducer) Close() error {
	p.client.Close()
	return nil
}

type partitionOffset struct {
	partition int32
	offset    int64
}

// FranzSource is a consumer-group member with auto commit disabled.
// Fetched records are buffered and handed out one at a time.
type FranzSource struct {
	client   *kgo.Client
	buf      []*kgo.Record
	inflight map[partitionOffset]*kgo.Record
}

func NewFranzSource(cfg config.KafkaConfig) (*FranzSource, error) {
	brokers := pkgconfig.SplitList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	reset := kgo.NewOffset().AtStart()
	if cfg.AutoOffsetReset == "latest" {
		reset = kgo.NewOffset().AtEnd()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return &FranzSource{
		client:   client,
		inflight: make(map[partitionOffset]*kgo.Record),
	}, nil
}

func (s *FranzSource) Fetch(ctx context.Context) (Record, error) {
	l := log.Ctx(ctx)
	for len(s.buf) == 0 {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return Record{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			l.Warn().Err(err).Str("topic", topic).Int32(log.FieldPartition, partition).Msg("fetch error")
		})
		fetches.EachRecord(func(r *kgo.Record) {
			s.buf = append(s.buf, r)
		})
	}

	r := s.buf[0]
	s.buf = s.buf[1:]
	s.inflight[partitionOffset{r.Partition, r.Offset}] = r

	return Record{
		Key:       string(r.Key),
		Value:     r.Value,
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
	}, nil
}

func (s *FranzSource) Commit(ctx context.Context, rec Record) error {
	key := partitionOffset{rec.Partition, rec.Offset}
	r, ok := s.inflight[key]
	if !ok {
		return fmt.Errorf("record %d/%d was not fetched by this source", rec.Partition, rec.Offset)
	}

	if err := s.client.CommitRecords(ctx, r); err != nil {
		return fmt.Errorf("failed to commit offset: %w", err)
	}
	delete(s.inflight, key)
	return nil
}

func (s *FranzSource) Close() error {
	s.client.Close()
	return nil
}
