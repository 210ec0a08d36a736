package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/chat-relay/internal/broker"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/pkg/storage"
)

// UnknownRoom is recorded when the record key carries no room code.
const UnknownRoom = "_unknown"

// Letter is a record that exhausted its forward attempts, with enough
// context to inspect and replay it.
type Letter struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	RoomCode  string    `json:"room_code"`
	MessageID string    `json:"message_id,omitempty"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewLetter builds a letter from a record and its last error.
func NewLetter(rec broker.Record, roomCode, messageID, stage string, cause error, at time.Time) Letter {
	if roomCode == "" {
		roomCode = rec.Key
	}
	if roomCode == "" {
		roomCode = UnknownRoom
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return Letter{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		RoomCode:  roomCode,
		MessageID: messageID,
		Stage:     stage,
		Reason:    reason,
		Attempts:  rec.Attempt,
		FailedAt:  at.UTC(),
	}
}

func (l Letter) Encode() ([]byte, error) {
	return json.Marshal(l)
}

// Sink is a dead-letter destination. Write must only return nil once the
// letter is durable at the destination.
type Sink interface {
	Write(ctx context.Context, l Letter) error
	Close() error
}

// Lister is implemented by sinks whose letters can be read back.
type Lister interface {
	List(ctx context.Context, roomCode string) ([]Letter, error)
}

// Open creates the sink named by cfg.Driver. producer is used by the kafka
// driver and may be nil otherwise.
func Open(ctx context.Context, cfg config.DeadLetterConfig, producer broker.Producer) (Sink, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogSink(), nil
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("kafka dead-letter sink requires a producer")
		}
		return NewKafkaSink(producer, cfg.Topic), nil
	case "storage":
		store, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return NewStorageSink(store), nil
	case "amqp":
		return NewAMQPSink(ctx, cfg.AMQP)
	default:
		return nil, fmt.Errorf("unsupported dead-letter driver: %s", cfg.Driver)
	}
}
