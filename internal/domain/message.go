package domain

import (
	"encoding/json"
	"time"
)

// DefaultMaxContentBytes bounds ChatMessage.Content unless configured otherwise.
const DefaultMaxContentBytes = 4096

// PresenceSentinel is the reserved content of a "user joined" notification.
const PresenceSentinel = "__user_joined__"

// ChatMessage is one line of chat. It is never mutated after Append returns it.
type ChatMessage struct {
	ID        string `json:"id"`
	RoomCode  string `json:"room_code"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// NewChatMessage builds an unpersisted message stamped with the server clock.
func NewChatMessage(roomCode, sender, content string, now time.Time) *ChatMessage {
	return &ChatMessage{
		RoomCode:  roomCode,
		Sender:    sender,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// Time returns the message timestamp as a time.Time in UTC.
func (m *ChatMessage) Time() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// Encode serializes the message as the broker record value.
func (m *ChatMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeChatMessage parses a broker record value. A message without a room
// code is rejected since it cannot be routed.
func DecodeChatMessage(data []byte) (*ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.RoomCode == "" {
		return nil, NewProtocolError("message has no room_code")
	}
	return &m, nil
}
