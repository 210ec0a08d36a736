package logstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/internal/idgen"
	"github.com/weiawesome/chat-relay/pkg/database"
)

func newIDs(t *testing.T) idgen.Generator {
	t.Helper()
	g, err := idgen.NewSnowflake(1, 0)
	require.NoError(t, err)
	return g
}

// backends returns every backend that can run without external services.
func backends() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"badger": func(t *testing.T) Backend {
			b, err := OpenBadger(config.BadgerConfig{InMemory: true})
			require.NoError(t, err)
			return b
		},
		"gorm": func(t *testing.T) Backend {
			db, err := database.New(&database.Config{
				Driver:   "sqlite",
				FilePath: filepath.Join(t.TempDir(), "log.db"),
				LogLevel: "silent",
			})
			require.NoError(t, err)
			t.Cleanup(func() { database.Close(db) })
			b, err := NewGormBackend(db)
			require.NoError(t, err)
			return b
		},
	}
}

func msg(room, sender, content string, ts int64) *domain.ChatMessage {
	return &domain.ChatMessage{RoomCode: room, Sender: sender, Content: content, Timestamp: ts}
}

func TestLog_Contract(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewLog(open(t), newIDs(t))
			defer store.Close()

			t.Run("history ordered by append", func(t *testing.T) {
				a, err := store.Append(ctx, msg("R1", "alice", "hi", 1000))
				require.NoError(t, err)
				b, err := store.Append(ctx, msg("R1", "bob", "yo", 1000))
				require.NoError(t, err)
				require.NotEmpty(t, a.ID)
				require.NotEqual(t, a.ID, b.ID)

				hist, err := store.History(ctx, "R1")
				require.NoError(t, err)
				require.Len(t, hist, 2)
				require.Equal(t, *a, hist[0])
				require.Equal(t, *b, hist[1])
			})

			t.Run("timestamps clamped non-decreasing", func(t *testing.T) {
				_, err := store.Append(ctx, msg("R3", "alice", "first", 5000))
				require.NoError(t, err)
				late, err := store.Append(ctx, msg("R3", "bob", "skewed", 4000))
				require.NoError(t, err)
				require.EqualValues(t, 5000, late.Timestamp)

				hist, err := store.History(ctx, "R3")
				require.NoError(t, err)
				require.Equal(t, []string{"first", "skewed"}, contents(hist))
			})

			t.Run("rooms isolated", func(t *testing.T) {
				_, err := store.Append(ctx, msg("R2", "carol", "other room", 2000))
				require.NoError(t, err)

				hist, err := store.History(ctx, "R2")
				require.NoError(t, err)
				require.Equal(t, []string{"other room"}, contents(hist))

				empty, err := store.History(ctx, "nobody-here")
				require.NoError(t, err)
				require.Empty(t, empty)
			})

			t.Run("history restartable", func(t *testing.T) {
				first, err := store.History(ctx, "R1")
				require.NoError(t, err)
				second, err := store.History(ctx, "R1")
				require.NoError(t, err)
				require.Equal(t, first, second)
			})
		})
	}
}

func TestLog_ConcurrentRoomsKeepOrder(t *testing.T) {
	ctx := context.Background()
	store := NewLog(NewMemoryBackend(), newIDs(t))

	const rooms, perRoom = 8, 50
	var wg sync.WaitGroup
	for r := 0; r < rooms; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			room := fmt.Sprintf("room-%d", r)
			for i := 0; i < perRoom; i++ {
				_, err := store.Append(ctx, msg(room, "u", fmt.Sprint(i), int64(1000+i)))
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(r)
	}
	wg.Wait()

	for r := 0; r < rooms; r++ {
		hist, err := store.History(ctx, fmt.Sprintf("room-%d", r))
		require.NoError(t, err)
		require.Len(t, hist, perRoom)
		for i, m := range hist {
			require.Equal(t, fmt.Sprint(i), m.Content)
		}
	}
}

func TestLog_ConcurrentSameRoom(t *testing.T) {
	ctx := context.Background()
	store := NewLog(NewMemoryBackend(), newIDs(t))

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				// Deliberately skewed clocks across writers.
				_, err := store.Append(ctx, msg("R1", "u", "x", int64(1000+w*7-i)))
				if err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	hist, err := store.History(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, hist, 200)
	for i := 1; i < len(hist); i++ {
		require.GreaterOrEqual(t, hist[i].Timestamp, hist[i-1].Timestamp)
	}
}

func TestLog_ResumesAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b1, err := OpenBadger(config.BadgerConfig{Path: dir})
	require.NoError(t, err)
	s1 := NewLog(b1, newIDs(t))
	_, err = s1.Append(ctx, msg("R1", "alice", "before", 9000))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	b2, err := OpenBadger(config.BadgerConfig{Path: dir})
	require.NoError(t, err)
	s2 := NewLog(b2, newIDs(t))
	defer s2.Close()

	after, err := s2.Append(ctx, msg("R1", "bob", "after", 100))
	require.NoError(t, err)
	require.EqualValues(t, 9000, after.Timestamp)

	hist, err := s2.History(ctx, "R1")
	require.NoError(t, err)
	require.Equal(t, []string{"before", "after"}, contents(hist))
}

type failingBackend struct {
	*MemoryBackend
	fail bool
}

func (b *failingBackend) Insert(ctx context.Context, e Entry) error {
	if b.fail {
		return errors.New("disk unavailable")
	}
	return b.MemoryBackend.Insert(ctx, e)
}

func TestLog_AppendFailureIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), fail: true}
	store := NewLog(backend, newIDs(t))

	_, err := store.Append(ctx, msg("R1", "alice", "lost?", 5000))
	require.ErrorIs(t, err, domain.ErrPersistence)

	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.StageAppend, pe.Stage)
	require.Equal(t, "R1", pe.RoomCode)

	// The failed append must not advance the room clock.
	backend.fail = false
	stored, err := store.Append(ctx, msg("R1", "alice", "ok", 10))
	require.NoError(t, err)
	require.EqualValues(t, 10, stored.Timestamp)
}

func TestLog_RejectsInvalidRoom(t *testing.T) {
	store := NewLog(NewMemoryBackend(), newIDs(t))
	_, err := store.Append(context.Background(), msg("a:b", "alice", "x", 1))
	require.ErrorIs(t, err, domain.ErrPersistence)
	_, err = store.Append(context.Background(), nil)
	require.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	b, err := OpenBackend(config.LogStoreConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	require.IsType(t, &MemoryBackend{}, b)

	_, err = OpenBackend(config.LogStoreConfig{Driver: "gorm"}, nil)
	require.Error(t, err)

	_, err = OpenBackend(config.LogStoreConfig{Driver: "etcd"}, nil)
	require.Error(t, err)
}

func contents(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
