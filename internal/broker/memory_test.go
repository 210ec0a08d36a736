package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_PerKeyOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("chat", 4)
	src := m.Source()

	for i := 0; i < 10; i++ {
		for _, room := range []string{"R1", "R2", "R3"} {
			require.NoError(t, m.Publish(ctx, Record{Key: room, Value: []byte(fmt.Sprint(i))}))
		}
	}

	seen := map[string][]string{}
	for i := 0; i < 30; i++ {
		rec, err := src.Fetch(ctx)
		require.NoError(t, err)
		require.Equal(t, "chat", rec.Topic)
		require.Equal(t, m.PartitionFor(rec.Key), rec.Partition)
		seen[rec.Key] = append(seen[rec.Key], string(rec.Value))
	}

	for _, room := range []string{"R1", "R2", "R3"} {
		require.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, seen[room])
	}
}

func TestMemory_RedeliversUncommitted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("chat", 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Publish(ctx, Record{Key: "R1", Value: []byte(fmt.Sprint(i))}))
	}

	src := m.Source()
	first, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Commit(ctx, first))

	second, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, second.Offset)
	// Crash before committing the second record.
	require.NoError(t, src.Close())

	resumed := m.Source()
	again, err := resumed.Fetch(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, again.Offset)
	require.Equal(t, "1", string(again.Value))
	require.EqualValues(t, 1, m.Committed(0))
}

func TestMemory_FetchBlocksUntilPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m := NewMemory("chat", 2)
	src := m.Source()

	got := make(chan Record, 1)
	go func() {
		rec, err := src.Fetch(ctx)
		if err == nil {
			got <- rec
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Publish(ctx, Record{Key: "R9", Value: []byte("late")}))

	select {
	case rec := <-got:
		require.Equal(t, "late", string(rec.Value))
	case <-ctx.Done():
		t.Fatal("fetch did not wake up")
	}
}

func TestMemory_FetchHonoursContextAndClose(t *testing.T) {
	m := NewMemory("chat", 1)
	src := m.Source()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Fetch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, m.Close())
	_, err = src.Fetch(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
	require.ErrorIs(t, m.Publish(context.Background(), Record{Key: "R1"}), ErrClosed)
}

func TestMemory_CommitNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("chat", 1)
	src := m.Source()

	require.NoError(t, src.Commit(ctx, Record{Partition: 0, Offset: 5}))
	require.NoError(t, src.Commit(ctx, Record{Partition: 0, Offset: 2}))
	require.EqualValues(t, 6, m.Committed(0))
	require.Error(t, src.Commit(ctx, Record{Partition: 3, Offset: 0}))
}
