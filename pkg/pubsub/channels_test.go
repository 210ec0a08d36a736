package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomChannelRoundTrip(t *testing.T) {
	ch := RoomChannel("r1abc")
	require.Equal(t, "relay:room:r1abc", ch)

	code, ok := RoomFromChannel(ch)
	require.True(t, ok)
	require.Equal(t, "r1abc", code)

	_, ok = RoomFromChannel("presence:room_updates")
	require.False(t, ok)
	_, ok = RoomFromChannel("relay:room:")
	require.False(t, ok)
}
