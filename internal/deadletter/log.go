package deadletter

import (
	"context"

	"github.com/weiawesome/chat-relay/pkg/log"
)

// LogSink only records the letter in the error log. Use it in development.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (LogSink) Write(ctx context.Context, l Letter) error {
	logger := log.Ctx(ctx)
	logger.Error().
		Str(log.FieldRoomCode, l.RoomCode).
		Str(log.FieldMessageID, l.MessageID).
		Str(log.FieldStage, l.Stage).
		Int32(log.FieldPartition, l.Partition).
		Int64(log.FieldOffset, l.Offset).
		Int(log.FieldAttempt, l.Attempts).
		Str("reason", l.Reason).
		Bytes("value", l.Value).
		Msg("record dead-lettered")
	return nil
}

func (LogSink) Close() error { return nil }
