package deadletter

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/weiawesome/chat-relay/internal/config"
)

// AMQPSink publishes letters to a durable RabbitMQ queue with publisher
// confirms, so Write returns only after the broker accepted the letter.
type AMQPSink struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPSink(ctx context.Context, cfg config.AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	s := &AMQPSink{conn: conn, queue: cfg.Queue}
	if _, err := s.channel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// channel returns the confirm-mode channel, reopening it after a failure.
func (s *AMQPSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(
		s.queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue failed: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms failed: %w", err)
	}

	s.ch = ch
	return ch, nil
}

func (s *AMQPSink) Write(ctx context.Context, l Letter) error {
	body, err := l.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode letter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Headers: amqp.Table{
				"room_code": l.RoomCode,
				"stage":     l.Stage,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish letter failed: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm failed: %w", err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq nacked dead letter for room %s", l.RoomCode)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	return s.conn.Close()
}
