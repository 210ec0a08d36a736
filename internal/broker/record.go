package broker

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("broker: closed")

// Record is the unit moved through the broker. Key is the room code, which
// drives partition assignment. Partition and Offset are bookkeeping for
// commits only.
type Record struct {
	Key       string
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
	// Attempt counts forward attempts made by the bridge for this record.
	Attempt int
}

// Producer publishes records to the topic.
type Producer interface {
	// Publish returns once the broker acknowledged the record.
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Source is a consumer-group scoped view of one topic. Fetch yields an
// infinite, non-restartable sequence of records; nothing is committed
// until Commit is called for a record.
type Source interface {
	Fetch(ctx context.Context) (Record, error)
	Commit(ctx context.Context, rec Record) error
	Close() error
}
