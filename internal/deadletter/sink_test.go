package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/internal/broker"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/pkg/storage"
)

func sampleLetter(room string, offset int64, at time.Time) Letter {
	rec := broker.Record{Key: room, Value: []byte(`{"room_code":"` + room + `"}`), Topic: "chat", Partition: 2, Offset: offset, Attempt: 5}
	return NewLetter(rec, room, "m-1", "forward", errors.New("hub unavailable"), at)
}

func TestNewLetter_FallsBackToUnknownRoom(t *testing.T) {
	l := NewLetter(broker.Record{Value: []byte("garbage")}, "", "", "decode", errors.New("bad json"), time.Now())
	require.Equal(t, UnknownRoom, l.RoomCode)
	require.Equal(t, "bad json", l.Reason)
}

func TestStorageSink_WriteList(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	sink := NewStorageSink(store)

	base := time.UnixMilli(1700000000000)
	require.NoError(t, sink.Write(ctx, sampleLetter("R1", 7, base)))
	require.NoError(t, sink.Write(ctx, sampleLetter("R1", 9, base.Add(time.Second))))
	require.NoError(t, sink.Write(ctx, sampleLetter("R2", 1, base)))

	r1, err := sink.List(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, r1, 2)
	require.EqualValues(t, 7, r1[0].Offset)
	require.Equal(t, 5, r1[0].Attempts)
	require.Equal(t, "hub unavailable", r1[0].Reason)

	all, err := sink.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestKafkaSink_PublishesKeyedByRoom(t *testing.T) {
	ctx := context.Background()
	dlq := broker.NewMemory("chat.dlq", 1)
	sink := NewKafkaSink(dlq, "chat.dlq")

	require.NoError(t, sink.Write(ctx, sampleLetter("R1", 3, time.Now())))

	rec, err := dlq.Source().Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, "R1", rec.Key)

	var l Letter
	require.NoError(t, json.Unmarshal(rec.Value, &l))
	require.EqualValues(t, 3, l.Offset)
	require.Equal(t, "forward", l.Stage)
}

func TestLogSink_NeverFails(t *testing.T) {
	require.NoError(t, NewLogSink().Write(context.Background(), sampleLetter("R1", 1, time.Now())))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.DeadLetterConfig{Driver: "log"}, nil)
	require.NoError(t, err)
	require.IsType(t, &LogSink{}, s)

	_, err = Open(ctx, config.DeadLetterConfig{Driver: "kafka"}, nil)
	require.Error(t, err)

	s, err = Open(ctx, config.DeadLetterConfig{
		Driver:  "storage",
		Storage: storage.Config{Driver: "local", Local: storage.LocalConfig{BasePath: t.TempDir()}},
	}, nil)
	require.NoError(t, err)
	_, ok := s.(Lister)
	require.True(t, ok)
}
