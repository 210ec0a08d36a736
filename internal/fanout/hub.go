package fanout

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/pkg/log"
)

var (
	ErrUnknownSession = errors.New("fanout: unknown session")
	ErrHubClosed      = errors.New("fanout: hub closed")
)

const DefaultSendBuffer = 256

// Hub routes payloads to sessions by room. Sessions are indexed by id and
// rooms hold session ids only.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	rooms      map[string]map[string]struct{}
	sendBuffer int
	closed     bool
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		sessions:   make(map[string]*Session),
		rooms:      make(map[string]map[string]struct{}),
		sendBuffer: sendBuffer,
	}
}

// Register adds a connected session. An empty id gets a generated one; an
// id already in use replaces the old session, which is closed.
func (h *Hub) Register(id, username string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:       id,
		Username: username,
		send:     make(chan []byte, h.sendBuffer),
		state:    StateConnected,
	}

	h.mu.Lock()
	if h.closed {
		s.state = StateClosed
		close(s.send)
		h.mu.Unlock()
		return s
	}
	if old, ok := h.sessions[id]; ok {
		h.closeLocked(old)
	}
	h.sessions[id] = s
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldSessionID, id).Str(log.FieldUsername, username).Msg("session registered")
	return s
}

// Close removes the session from its room and closes its queue. It reports
// whether the session was still open.
func (h *Hub) Close(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return false
	}
	h.closeLocked(s)
	return true
}

func (h *Hub) closeLocked(s *Session) {
	h.leaveLocked(s)
	delete(h.sessions, s.ID)
	s.state = StateClosed
	close(s.send)
}

func (h *Hub) leaveLocked(s *Session) {
	if s.room == "" {
		return
	}
	if members, ok := h.rooms[s.room]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, s.room)
		}
	}
	s.room = ""
	s.state = StateConnected
}

// Subscribe moves the session into room, leaving its previous room. It
// returns the previous room code, if any.
func (h *Hub) Subscribe(id, room string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return "", ErrUnknownSession
	}
	prev := s.room
	if prev == room {
		return prev, nil
	}
	h.leaveLocked(s)

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[id] = struct{}{}
	s.room = room
	s.state = StateSubscribed
	return prev, nil
}

// Unsubscribe leaves room if the session is currently in it.
func (h *Hub) Unsubscribe(id, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	if s.room == room {
		h.leaveLocked(s)
	}
	return nil
}

// Room returns the room the session is subscribed to.
func (h *Hub) Room(id string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]
	if !ok || s.room == "" {
		return "", false
	}
	return s.room, true
}

// State returns the session state, StateClosed for unknown ids.
func (h *Hub) State(id string) State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if s, ok := h.sessions[id]; ok {
		return s.state
	}
	return StateClosed
}

// Publish enqueues payload for every subscriber of room without blocking.
// A subscriber whose queue is full is closed and dropped. It returns the
// number of sessions the payload was queued for.
func (h *Hub) Publish(room string, payload []byte) int {
	var slow []string
	delivered := 0

	h.mu.RLock()
	for id := range h.rooms[room] {
		select {
		case h.sessions[id].send <- payload:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.drop(&domain.DeliveryError{SessionID: id, RoomCode: room, Reason: "send queue full"})
	}
	return delivered
}

// Broadcast publishes to room. It fails only when the hub is shut down.
func (h *Hub) Broadcast(ctx context.Context, room string, payload []byte) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}
	h.Publish(room, payload)
	return nil
}

// SendToSession enqueues payload for one session without blocking.
func (h *Hub) SendToSession(id string, payload []byte) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	if !ok {
		h.mu.RUnlock()
		return ErrUnknownSession
	}
	select {
	case s.send <- payload:
		h.mu.RUnlock()
		return nil
	default:
	}
	room := s.room
	h.mu.RUnlock()

	err := &domain.DeliveryError{SessionID: id, RoomCode: room, Reason: "send queue full"}
	h.drop(err)
	return err
}

func (h *Hub) drop(err *domain.DeliveryError) {
	if !h.Close(err.SessionID) {
		return
	}
	l := log.L()
	l.Warn().Err(err).
		Str(log.FieldSessionID, err.SessionID).
		Str(log.FieldRoomCode, err.RoomCode).
		Msg("slow session dropped")
}

// Members returns the usernames subscribed to room, sorted.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := lo.Map(lo.Keys(h.rooms[room]), func(id string, _ int) string {
		return h.sessions[id].Username
	})
	sort.Strings(names)
	return names
}

type Stats struct {
	Sessions    int            `json:"sessions"`
	Rooms       int            `json:"rooms"`
	Subscribers map[string]int `json:"subscribers"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		Sessions: len(h.sessions),
		Rooms:    len(h.rooms),
		Subscribers: lo.MapValues(h.rooms, func(members map[string]struct{}, _ string) int {
			return len(members)
		}),
	}
}

// Shutdown closes every session and rejects further registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, s := range h.sessions {
		h.closeLocked(s)
	}
}
