package logstore

import (
	"context"
	"errors"
	"sync"

	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/internal/idgen"
	"github.com/weiawesome/chat-relay/pkg/log"
)

// Store is the append-only chat log, the source of truth for history replay.
type Store interface {
	// Append assigns an ID, persists msg and returns the stored copy.
	// Appends to one room are applied in call order.
	Append(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)

	// History returns every message of roomCode ordered by timestamp, then
	// insertion order.
	History(ctx context.Context, roomCode string) ([]domain.ChatMessage, error)

	Close() error
}

// Entry is a stored message plus its per-room insertion sequence.
type Entry struct {
	Message domain.ChatMessage
	Seq     int64
}

// Backend is the storage engine behind a Log. Implementations only need to
// persist entries and return them ordered by (timestamp, seq).
type Backend interface {
	Insert(ctx context.Context, e Entry) error
	Scan(ctx context.Context, roomCode string) ([]Entry, error)
	// Last returns the newest entry of a room, or ok=false for an empty room.
	Last(ctx context.Context, roomCode string) (e Entry, ok bool, err error)
	Close() error
}

var errInvalidMessage = errors.New("message has no valid room code")

type roomState struct {
	mu     sync.Mutex
	loaded bool
	lastTS int64
	seq    int64
}

// Log implements Store on top of a Backend. A per-room mutex serializes
// appends so timestamps are clamped to be non-decreasing and the sequence
// matches call order. Different rooms never share a lock.
type Log struct {
	backend Backend
	ids     idgen.Generator

	mu    sync.Mutex
	rooms map[string]*roomState
}

func NewLog(backend Backend, ids idgen.Generator) *Log {
	return &Log{
		backend: backend,
		ids:     ids,
		rooms:   make(map[string]*roomState),
	}
}

func (l *Log) room(code string) *roomState {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, ok := l.rooms[code]
	if !ok {
		rs = &roomState{}
		l.rooms[code] = rs
	}
	return rs
}

func (l *Log) Append(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg == nil || !domain.ValidRoomCode(msg.RoomCode) {
		return nil, domain.NewPersistenceError(domain.StageAppend, "", "", errInvalidMessage)
	}

	rs := l.room(msg.RoomCode)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.loaded {
		last, ok, err := l.backend.Last(ctx, msg.RoomCode)
		if err != nil {
			return nil, domain.NewPersistenceError(domain.StageAppend, msg.RoomCode, "", err)
		}
		if ok {
			rs.lastTS = last.Message.Timestamp
			rs.seq = last.Seq
		}
		rs.loaded = true
	}

	stored := *msg
	id, err := l.ids.Generate()
	if err != nil {
		return nil, domain.NewPersistenceError(domain.StageAppend, msg.RoomCode, "", err)
	}
	stored.ID = id
	if stored.Timestamp < rs.lastTS {
		stored.Timestamp = rs.lastTS
	}

	e := Entry{Message: stored, Seq: rs.seq + 1}
	if err := l.backend.Insert(ctx, e); err != nil {
		logger := log.Ctx(ctx)
		logger.Error().Err(err).
			Str(log.FieldRoomCode, stored.RoomCode).
			Str(log.FieldMessageID, stored.ID).
			Str(log.FieldStage, domain.StageAppend).
			Msg("append failed")
		return nil, domain.NewPersistenceError(domain.StageAppend, stored.RoomCode, stored.ID, err)
	}

	rs.lastTS = stored.Timestamp
	rs.seq = e.Seq

	return &stored, nil
}

func (l *Log) History(ctx context.Context, roomCode string) ([]domain.ChatMessage, error) {
	entries, err := l.backend.Scan(ctx, roomCode)
	if err != nil {
		return nil, domain.NewPersistenceError(domain.StageHistory, roomCode, "", err)
	}

	msgs := make([]domain.ChatMessage, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs, nil
}

func (l *Log) Close() error {
	return l.backend.Close()
}
