package broker

import (
	"fmt"

	"github.com/weiawesome/chat-relay/internal/config"
)

// OpenProducer creates the producer for cfg.Driver. mem backs the memory
// driver and must be shared with OpenSource in the same process.
func OpenProducer(cfg config.BrokerConfig, mem *Memory, ensure ...string) (Producer, error) {
	switch cfg.Driver {
	case "", "memory":
		if mem == nil {
			return nil, fmt.Errorf("memory broker not initialised")
		}
		return mem, nil
	case "confluent":
		return NewConfluentProducer(cfg.Kafka, ensure...)
	case "franz":
		return NewFranzProducer(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unsupported broker driver: %s", cfg.Driver)
	}
}

// OpenSource creates the consumer for cfg.Driver.
func OpenSource(cfg config.BrokerConfig, mem *Memory) (Source, error) {
	switch cfg.Driver {
	case "", "memory":
		if mem == nil {
			return nil, fmt.Errorf("memory broker not initialised")
		}
		return mem.Source(), nil
	case "confluent":
		return NewConfluentSource(cfg.Kafka)
	case "franz":
		return NewFranzSource(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unsupported broker driver: %s", cfg.Driver)
	}
}
