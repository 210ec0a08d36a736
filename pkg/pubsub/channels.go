package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for cross-instance fan-out.
const (
	// Room broadcast channel, one per room code.
	ChannelRoom = "relay:room:%s"

	// Pattern matching every room channel.
	PatternAllRooms = "relay:room:*"
)

// Event types carried on room channels.
const (
	EventRoomMessage  = "room_message"
	EventRoomPresence = "room_presence"
)

// RoomChannel returns the channel name for a room code.
func RoomChannel(roomCode string) string {
	return fmt.Sprintf(ChannelRoom, roomCode)
}

// RoomFromChannel extracts the room code from a room channel name.
func RoomFromChannel(channel string) (string, bool) {
	code, ok := strings.CutPrefix(channel, "relay:room:")
	if !ok || code == "" {
		return "", false
	}
	return code, true
}
