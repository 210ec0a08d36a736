package domain

import (
	"crypto/rand"
	"encoding/base32"
	"regexp"
	"strings"
	"time"
)

// RoomCodeLength is the length of generated room codes.
const RoomCodeLength = 10

var (
	roomCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	roomCodePattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidRoomCode reports whether code may be used as a routing key. The
// character set keeps codes safe inside storage keys and channel names.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// Room is a named, code-addressed channel. Code is immutable once created.
type Room struct {
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRoomRequest is the body of POST /api/v1/rooms.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,min=1,max=200"`
}

// GenerateRoomCode returns a random lowercase base32 code.
func GenerateRoomCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToLower(roomCodeEncoding.EncodeToString(buf))[:RoomCodeLength], nil
}
