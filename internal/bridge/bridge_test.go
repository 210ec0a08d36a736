package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/internal/broker"
	"github.com/weiawesome/chat-relay/internal/deadletter"
	"github.com/weiawesome/chat-relay/internal/domain"
)

type recordingForwarder struct {
	mu       sync.Mutex
	failures int
	frames   []domain.MessageFrame
}

func (f *recordingForwarder) Broadcast(ctx context.Context, roomCode string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("hub unavailable")
	}
	var frame domain.MessageFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *recordingForwarder) delivered() []domain.MessageFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageFrame(nil), f.frames...)
}

type memorySink struct {
	mu       sync.Mutex
	failures int
	letters  []deadletter.Letter
}

func (s *memorySink) Write(ctx context.Context, l deadletter.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errors.New("sink unavailable")
	}
	s.letters = append(s.letters, l)
	return nil
}

func (s *memorySink) Close() error { return nil }

type setDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *setDeduper) Seen(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *setDeduper) Mark(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = true
	return nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func publish(t *testing.T, mem *broker.Memory, m domain.ChatMessage) {
	t.Helper()
	value, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, mem.Publish(context.Background(), broker.Record{Key: m.RoomCode, Value: value}))
}

func fetch(t *testing.T, src broker.Source) broker.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, err := src.Fetch(ctx)
	require.NoError(t, err)
	return rec
}

func newBridge(src broker.Source, fwd Forwarder, sink deadletter.Sink, options ...Option) *Bridge {
	options = append([]Option{WithSleep(noSleep)}, options...)
	return New(src, fwd, sink, Options{MaxAttempts: 3, RetryBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, options...)
}

func TestHandle_ForwardsThenCommits(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	publish(t, mem, domain.ChatMessage{ID: "1", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000})

	src := mem.Source()
	fwd := &recordingForwarder{}
	b := newBridge(src, fwd, &memorySink{})

	out, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)
	require.Equal(t, Forwarded, out.Kind)
	require.Equal(t, 1, out.Attempt)

	frames := fwd.delivered()
	require.Len(t, frames, 1)
	require.Equal(t, domain.FrameMessage, frames[0].Type)
	require.Equal(t, "hi", frames[0].Content)
	require.EqualValues(t, 1, mem.Committed(0))
}

func TestHandle_RetriesBeforeCommit(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	publish(t, mem, domain.ChatMessage{ID: "1", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000})

	src := mem.Source()
	fwd := &recordingForwarder{failures: 2}
	b := newBridge(src, fwd, &memorySink{})

	out, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)
	require.Equal(t, Forwarded, out.Kind)
	require.Equal(t, 3, out.Attempt)
	require.Len(t, fwd.delivered(), 1)
	require.EqualValues(t, 2, b.Stats().Retried)
	require.EqualValues(t, 1, mem.Committed(0))
}

func TestAttempt_ReportsRetryingUntilExhausted(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	publish(t, mem, domain.ChatMessage{ID: "1", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000})

	src := mem.Source()
	b := newBridge(src, &recordingForwarder{failures: -1}, &memorySink{})
	rec := fetch(t, src)

	kinds := []OutcomeKind{}
	for i := 0; i < 3; i++ {
		kinds = append(kinds, b.Attempt(context.Background(), &rec).Kind)
	}
	require.Equal(t, []OutcomeKind{Retrying, Retrying, DeadLettered}, kinds)
	require.Equal(t, 3, rec.Attempt)
	require.EqualValues(t, 0, mem.Committed(0))
}

func TestHandle_DeadLettersAfterMaxAttempts(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	publish(t, mem, domain.ChatMessage{ID: "m-7", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000})

	src := mem.Source()
	sink := &memorySink{}
	b := newBridge(src, &recordingForwarder{failures: -1}, sink)

	out, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)
	require.Equal(t, DeadLettered, out.Kind)

	require.Len(t, sink.letters, 1)
	l := sink.letters[0]
	require.Equal(t, "R1", l.RoomCode)
	require.Equal(t, "m-7", l.MessageID)
	require.Equal(t, domain.StageForward, l.Stage)
	require.Equal(t, 3, l.Attempts)
	require.Contains(t, l.Reason, "hub unavailable")

	require.EqualValues(t, 1, mem.Committed(0))
	require.EqualValues(t, 1, b.Stats().DeadLettered)
}

func TestHandle_UndecodableRecordIsDeadLettered(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	require.NoError(t, mem.Publish(context.Background(), broker.Record{Key: "R1", Value: []byte("{not json")}))

	src := mem.Source()
	sink := &memorySink{}
	fwd := &recordingForwarder{}
	b := newBridge(src, fwd, sink)

	out, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)
	require.Equal(t, DeadLettered, out.Kind)
	require.Empty(t, fwd.delivered())
	require.Equal(t, domain.StageDecode, sink.letters[0].Stage)
	require.Equal(t, "R1", sink.letters[0].RoomCode)
	require.EqualValues(t, 1, mem.Committed(0))
}

func TestHandle_DeadLetterFailureIsRetried(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	publish(t, mem, domain.ChatMessage{ID: "1", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000})

	src := mem.Source()
	sink := &memorySink{failures: 4}
	b := newBridge(src, &recordingForwarder{failures: -1}, sink)

	_, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)
	require.Len(t, sink.letters, 1)
	require.EqualValues(t, 1, mem.Committed(0))
}

func TestHandle_DeadLetterNeverSucceedsLeavesOffset(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	publish(t, mem, domain.ChatMessage{ID: "1", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000})

	src := mem.Source()
	rec := fetch(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		calls++
		if calls > 5 {
			cancel()
		}
		return ctx.Err()
	}
	b := New(src, &recordingForwarder{failures: -1}, &memorySink{failures: -1},
		Options{MaxAttempts: 2, RetryBackoff: time.Millisecond}, WithSleep(sleep))

	_, err := b.Handle(ctx, rec)
	require.Error(t, err)
	require.EqualValues(t, 0, mem.Committed(0))

	// a fresh consumer sees the record again
	again := fetch(t, mem.Source())
	require.Equal(t, rec.Offset, again.Offset)
}

func TestHandle_SkipsDuplicates(t *testing.T) {
	mem := broker.NewMemory("chat", 1)
	m := domain.ChatMessage{ID: "dup", RoomCode: "R1", Sender: "alice", Content: "hi", Timestamp: 1000}
	publish(t, mem, m)
	publish(t, mem, m)

	src := mem.Source()
	fwd := &recordingForwarder{}
	b := newBridge(src, fwd, &memorySink{}, WithDeduper(&setDeduper{seen: map[string]bool{}}))

	first, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)
	second, err := b.Handle(context.Background(), fetch(t, src))
	require.NoError(t, err)

	require.Equal(t, Forwarded, first.Kind)
	require.Equal(t, Duplicate, second.Kind)
	require.Len(t, fwd.delivered(), 1)
	require.EqualValues(t, 2, mem.Committed(0))
	require.EqualValues(t, 1, b.Stats().Duplicates)
}

func TestRun_ForwardsInPartitionOrder(t *testing.T) {
	mem := broker.NewMemory("chat", 4)
	for i, content := range []string{"a", "b", "c"} {
		publish(t, mem, domain.ChatMessage{ID: content, RoomCode: "R1", Sender: "alice", Content: content, Timestamp: int64(1000 + i)})
	}

	fwd := &recordingForwarder{}
	b := newBridge(mem.Source(), fwd, &memorySink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fwd.delivered()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var got []string
	for _, f := range fwd.delivered() {
		got = append(got, f.Content)
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.EqualValues(t, 3, mem.Committed(mem.PartitionFor("R1")))
}

func TestBackoffIsCapped(t *testing.T) {
	b := New(nil, nil, nil, Options{MaxAttempts: 5, RetryBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond})
	require.Equal(t, 100*time.Millisecond, b.backoff(1))
	require.Equal(t, 200*time.Millisecond, b.backoff(2))
	require.Equal(t, 300*time.Millisecond, b.backoff(3))
	require.Equal(t, 300*time.Millisecond, b.backoff(10))
}
