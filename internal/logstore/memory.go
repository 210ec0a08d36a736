package logstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps entries in per-room slices. Entries are appended in
// (timestamp, seq) order by Log, so slices are already sorted.
type MemoryBackend struct {
	mu    sync.RWMutex
	rooms map[string][]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rooms: make(map[string][]Entry)}
}

func (b *MemoryBackend) Insert(ctx context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[e.Message.RoomCode] = append(b.rooms[e.Message.RoomCode], e)
	return nil
}

func (b *MemoryBackend) Scan(ctx context.Context, roomCode string) ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.rooms[roomCode]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (b *MemoryBackend) Last(ctx context.Context, roomCode string) (Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.rooms[roomCode]
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (b *MemoryBackend) Close() error { return nil }
