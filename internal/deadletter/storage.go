package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/weiawesome/chat-relay/pkg/storage"
)

const storagePrefix = "deadletter/"

// StorageSink writes one JSON document per letter to object storage under
// deadletter/{room}/{failed_at_ms}-{offset}.json.
type StorageSink struct {
	store storage.Storage
}

func NewStorageSink(store storage.Storage) *StorageSink {
	return &StorageSink{store: store}
}

func letterKey(l Letter) string {
	return fmt.Sprintf("%s%s/%d-%d.json", storagePrefix, l.RoomCode, l.FailedAt.UnixMilli(), l.Offset)
}

func (s *StorageSink) Write(ctx context.Context, l Letter) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode letter: %w", err)
	}
	return s.store.Write(ctx, letterKey(l), bytes.NewReader(data), int64(len(data)), "application/json")
}

// List returns letters for roomCode, or for every room when roomCode is
// empty, in key order.
func (s *StorageSink) List(ctx context.Context, roomCode string) ([]Letter, error) {
	prefix := storagePrefix
	if roomCode != "" {
		prefix += roomCode + "/"
	}

	files, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	letters := make([]Letter, 0, len(files))
	for _, f := range files {
		l, err := s.read(ctx, f.Key)
		if err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, nil
}

func (s *StorageSink) read(ctx context.Context, key string) (Letter, error) {
	rc, err := s.store.Read(ctx, key)
	if err != nil {
		return Letter{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Letter{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var l Letter
	if err := json.Unmarshal(data, &l); err != nil {
		return Letter{}, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return l, nil
}

func (s *StorageSink) Close() error { return nil }
