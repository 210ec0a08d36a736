package domain

// Frame types from client.
const (
	FrameJoin        = "join"
	FrameSendMessage = "send_message"
	FrameNewUser     = "new_user"
	FramePing        = "ping"
)

// Frame types to client.
const (
	FrameMessage  = "message"
	FrameHistory  = "history"
	FramePresence = "presence"
	FrameJoined   = "joined"
	FrameError    = "error"
	FramePong     = "pong"
)

// Error codes carried by error frames.
const (
	ErrCodeProtocol     = "PROTOCOL_ERROR"
	ErrCodePersistence  = "PERSISTENCE_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// InboundFrame is any client frame. Sender is advisory; the authenticated
// username is used instead.
type InboundFrame struct {
	Type     string `json:"type" validate:"required,oneof=join send_message new_user ping"`
	RoomCode string `json:"room_code,omitempty"`
	Sender   string `json:"sender,omitempty"`
	Content  string `json:"content,omitempty"`
}

// MessageFrame is a room broadcast of one chat message.
type MessageFrame struct {
	Type      string `json:"type"`
	RoomCode  string `json:"room_code"`
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// HistoryEntry is one element of a history frame.
type HistoryEntry struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// HistoryFrame is the private replay delivered once per join.
type HistoryFrame struct {
	Type     string         `json:"type"`
	RoomCode string         `json:"room_code"`
	Messages []HistoryEntry `json:"messages"`
}

// PresenceFrame is a room broadcast announcing a participant.
type PresenceFrame struct {
	Type      string `json:"type"`
	RoomCode  string `json:"room_code"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type JoinedFrame struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongFrame struct {
	Type string `json:"type"`
}

func NewMessageFrame(m *ChatMessage) *MessageFrame {
	return &MessageFrame{
		Type:      FrameMessage,
		RoomCode:  m.RoomCode,
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// NewHistoryFrame converts messages into a history frame, preserving order.
func NewHistoryFrame(roomCode string, msgs []ChatMessage) *HistoryFrame {
	entries := make([]HistoryEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = HistoryEntry{
			ID:        m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}
	return &HistoryFrame{Type: FrameHistory, RoomCode: roomCode, Messages: entries}
}

func NewPresenceFrame(roomCode, sender string, ts int64) *PresenceFrame {
	return &PresenceFrame{
		Type:      FramePresence,
		RoomCode:  roomCode,
		Sender:    sender,
		Content:   PresenceSentinel,
		Timestamp: ts,
	}
}

func NewJoinedFrame(roomCode string) *JoinedFrame {
	return &JoinedFrame{Type: FrameJoined, RoomCode: roomCode}
}

func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{Type: FrameError, Code: code, Message: message}
}

func NewPongFrame() *PongFrame {
	return &PongFrame{Type: FramePong}
}
