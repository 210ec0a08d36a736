package logstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/weiawesome/chat-relay/internal/config"
)

// BadgerBackend stores entries in an embedded Badger database.
//
// Keys are "msg:{room}:{timestamp:019d}:{seq:019d}". The zero padding makes
// lexicographic key order equal to (timestamp, seq) order, so a prefix scan
// returns history already sorted.
type BadgerBackend struct {
	db *badger.DB
}

func OpenBadger(cfg config.BadgerConfig) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLoggingLevel(badger.ERROR)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

// NewBadgerBackend wraps an already opened database.
func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

func roomPrefix(roomCode string) []byte {
	return []byte("msg:" + roomCode + ":")
}

func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%019d", e.Message.RoomCode, e.Message.Timestamp, e.Seq))
}

func (b *BadgerBackend) Insert(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e), value)
	})
}

func (b *BadgerBackend) Scan(ctx context.Context, roomCode string) ([]Entry, error) {
	var entries []Entry
	prefix := roomPrefix(roomCode)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *BadgerBackend) Last(ctx context.Context, roomCode string) (Entry, bool, error) {
	var (
		e     Entry
		found bool
	)
	prefix := roomPrefix(roomCode)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible key under the prefix.
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &e)
		})
	})
	return e, found, err
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
