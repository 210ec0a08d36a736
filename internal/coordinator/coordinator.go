package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/chat-relay/internal/audit"
	"github.com/weiawesome/chat-relay/internal/broker"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/internal/fanout"
	"github.com/weiawesome/chat-relay/internal/logstore"
	"github.com/weiawesome/chat-relay/internal/presence"
	"github.com/weiawesome/chat-relay/pkg/log"
)

var ErrSessionClosed = errors.New("session closed")

// Broadcaster delivers a frame to every subscriber of a room, across
// instances when clustered.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomCode string, payload []byte) error
}

type Options struct {
	MaxContentBytes int
	// ReplayLimit caps the history replayed on join to the newest N
	// messages. Zero replays everything.
	ReplayLimit int
}

// sessionState serializes actions of one session.
type sessionState struct {
	mu       sync.Mutex
	username string
	closed   bool
}

// Coordinator turns client actions into log appends, broker publishes and
// fan-out subscriptions. It owns the session lifecycle.
type Coordinator struct {
	store       logstore.Store
	producer    broker.Producer
	hub         *fanout.Hub
	broadcaster Broadcaster
	presence    presence.Store
	opts        Options
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type Option func(*Coordinator)

// WithBroadcaster routes presence frames through b instead of the local hub.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Coordinator) { c.broadcaster = b }
}

// WithPresence records room membership in s.
func WithPresence(s presence.Store) Option {
	return func(c *Coordinator) { c.presence = s }
}

// WithClock overrides the server clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(store logstore.Store, producer broker.Producer, hub *fanout.Hub, opts Options, options ...Option) *Coordinator {
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = domain.DefaultMaxContentBytes
	}
	c := &Coordinator{
		store:       store,
		producer:    producer,
		hub:         hub,
		broadcaster: hub,
		opts:        opts,
		now:         time.Now,
		sessions:    make(map[string]*sessionState),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Connect registers a session for an authenticated username.
func (c *Coordinator) Connect(ctx context.Context, username string) (*fanout.Session, error) {
	if username == "" {
		return nil, domain.NewProtocolError("username is required")
	}

	s := c.hub.Register("", username)

	c.mu.Lock()
	c.sessions[s.ID] = &sessionState{username: username}
	c.mu.Unlock()

	ctx = log.WithSession(ctx, s.ID, username)
	audit.Log(ctx, audit.ActionAuth, username, "", "session connected")
	return s, nil
}

// acquire locks the session for one action. The caller must unlock.
func (c *Coordinator) acquire(sessionID string) (*sessionState, error) {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrSessionClosed
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, ErrSessionClosed
	}
	return st, nil
}

func validateRoom(roomCode string) error {
	if roomCode == "" {
		return domain.NewProtocolError("room_code is required")
	}
	if !domain.ValidRoomCode(roomCode) {
		return domain.NewProtocolError("invalid room_code %q", roomCode)
	}
	return nil
}

// OnJoin subscribes the session to roomCode and replays the room history
// to it privately. Joining the current room again does nothing.
func (c *Coordinator) OnJoin(ctx context.Context, sessionID, roomCode string) error {
	if err := validateRoom(roomCode); err != nil {
		return err
	}

	st, err := c.acquire(sessionID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	ctx = log.WithSession(ctx, sessionID, st.username)
	l := log.Ctx(ctx)

	if current, ok := c.hub.Room(sessionID); ok && current == roomCode {
		l.Debug().Str(log.FieldRoomCode, roomCode).Msg("duplicate join ignored")
		return nil
	}

	prev, err := c.hub.Subscribe(sessionID, roomCode)
	if err != nil {
		return ErrSessionClosed
	}
	if prev != "" {
		c.leavePresence(ctx, prev, st.username)
		audit.Log(ctx, audit.ActionLeaveRoom, st.username, prev, "left room")
	}

	if err := c.send(sessionID, domain.NewJoinedFrame(roomCode)); err != nil {
		return err
	}

	history, err := c.store.History(ctx, roomCode)
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldRoomCode, roomCode).
			Str(log.FieldStage, domain.StageHistory).
			Msg("history replay failed")
		// Leave the room so a retried join replays instead of being ignored.
		_ = c.hub.Unsubscribe(sessionID, roomCode)
		return err
	}
	if n := c.opts.ReplayLimit; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	if err := c.send(sessionID, domain.NewHistoryFrame(roomCode, history)); err != nil {
		return err
	}

	if c.presence != nil {
		if err := c.presence.Add(ctx, roomCode, st.username); err != nil {
			l.Warn().Err(err).Str(log.FieldRoomCode, roomCode).Msg("failed to record presence")
		}
	}

	audit.LogWithDetail(ctx, audit.ActionJoinRoom, st.username, roomCode, fmt.Sprintf("replayed=%d", len(history)), "joined room")
	return nil
}

// OnSend validates content, appends it to the log and publishes it to the
// broker keyed by room. Nothing is published if the append fails.
func (c *Coordinator) OnSend(ctx context.Context, sessionID, roomCode, content string) (*domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewProtocolError("content must not be empty")
	}
	if len(content) > c.opts.MaxContentBytes {
		return nil, domain.NewProtocolError("content exceeds %d bytes", c.opts.MaxContentBytes)
	}

	st, err := c.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	current, ok := c.hub.Room(sessionID)
	if !ok {
		return nil, domain.NewProtocolError("join a room before sending")
	}
	if roomCode == "" {
		roomCode = current
	}
	if roomCode != current {
		return nil, domain.NewProtocolError("not joined to room %q", roomCode)
	}

	ctx = log.WithSession(ctx, sessionID, st.username)
	l := log.Ctx(ctx)

	stored, err := c.store.Append(ctx, domain.NewChatMessage(roomCode, st.username, content, c.now()))
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldRoomCode, roomCode).
			Str(log.FieldStage, domain.StageAppend).
			Msg("append failed, send aborted")
		return nil, err
	}

	value, err := stored.Encode()
	if err == nil {
		err = c.producer.Publish(ctx, broker.Record{Key: roomCode, Value: value})
	}
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldRoomCode, roomCode).
			Str(log.FieldMessageID, stored.ID).
			Str(log.FieldStage, domain.StagePublish).
			Msg("publish failed after append")
		return stored, &domain.BrokerForwardError{
			Stage:     domain.StagePublish,
			RoomCode:  roomCode,
			MessageID: stored.ID,
			Err:       err,
		}
	}

	audit.LogWithDetail(ctx, audit.ActionSendMessage, st.username, roomCode, stored.ID, "message sent")
	return stored, nil
}

// OnNewUserAnnounce broadcasts a presence frame to the session's room.
func (c *Coordinator) OnNewUserAnnounce(ctx context.Context, sessionID, roomCode string) error {
	st, err := c.acquire(sessionID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	current, ok := c.hub.Room(sessionID)
	if !ok {
		return domain.NewProtocolError("join a room before announcing")
	}
	if roomCode == "" {
		roomCode = current
	}
	if roomCode != current {
		return domain.NewProtocolError("not joined to room %q", roomCode)
	}

	payload, err := json.Marshal(domain.NewPresenceFrame(roomCode, st.username, c.now().UnixMilli()))
	if err != nil {
		return err
	}

	ctx = log.WithSession(ctx, sessionID, st.username)
	if err := c.broadcaster.Broadcast(ctx, roomCode, payload); err != nil {
		return fmt.Errorf("presence broadcast failed: %w", err)
	}

	audit.Log(ctx, audit.ActionAnnounce, st.username, roomCode, "presence announced")
	return nil
}

// OnDisconnect unsubscribes and closes the session. It is safe to call
// more than once.
func (c *Coordinator) OnDisconnect(ctx context.Context, sessionID string) {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true

	room, subscribed := c.hub.Room(sessionID)
	c.hub.Close(sessionID)

	ctx = log.WithSession(ctx, sessionID, st.username)
	if subscribed {
		c.leavePresence(ctx, room, st.username)
	}
	audit.Log(ctx, audit.ActionDisconnect, st.username, room, "session disconnected")
}

// History returns the full history of a room.
func (c *Coordinator) History(ctx context.Context, roomCode string) ([]domain.ChatMessage, error) {
	if err := validateRoom(roomCode); err != nil {
		return nil, err
	}
	return c.store.History(ctx, roomCode)
}

// Members lists usernames present in a room, from the presence store when
// configured and from local sessions otherwise.
func (c *Coordinator) Members(ctx context.Context, roomCode string) ([]string, error) {
	if c.presence != nil {
		return c.presence.Members(ctx, roomCode)
	}
	return c.hub.Members(roomCode), nil
}

// Reply sends a frame privately to a session.
func (c *Coordinator) Reply(sessionID string, frame any) error {
	return c.send(sessionID, frame)
}

func (c *Coordinator) send(sessionID string, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.hub.SendToSession(sessionID, payload)
}

func (c *Coordinator) leavePresence(ctx context.Context, roomCode, username string) {
	if c.presence == nil {
		return
	}
	if err := c.presence.Remove(ctx, roomCode, username); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomCode, roomCode).Msg("failed to remove presence")
	}
}
