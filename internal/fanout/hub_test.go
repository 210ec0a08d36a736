package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/internal/domain"
)

func drain(s *Session) []string {
	var out []string
	for {
		select {
		case p, ok := <-s.Send():
			if !ok {
				return out
			}
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestHub_PublishReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub(8)
	alice := h.Register("a", "alice")
	bob := h.Register("b", "bob")
	carol := h.Register("c", "carol")

	_, err := h.Subscribe("a", "R1")
	require.NoError(t, err)
	_, err = h.Subscribe("b", "R1")
	require.NoError(t, err)
	_, err = h.Subscribe("c", "R2")
	require.NoError(t, err)

	require.Equal(t, 2, h.Publish("R1", []byte("x")))

	require.Equal(t, []string{"x"}, drain(alice))
	require.Equal(t, []string{"x"}, drain(bob))
	require.Empty(t, drain(carol))
	require.Equal(t, []string{"alice", "bob"}, h.Members("R1"))
}

func TestHub_SubscribeMovesBetweenRooms(t *testing.T) {
	h := NewHub(8)
	s := h.Register("a", "alice")
	require.Equal(t, StateConnected, h.State("a"))

	prev, err := h.Subscribe("a", "R1")
	require.NoError(t, err)
	require.Empty(t, prev)
	require.Equal(t, StateSubscribed, h.State("a"))

	prev, err = h.Subscribe("a", "R2")
	require.NoError(t, err)
	require.Equal(t, "R1", prev)

	require.Zero(t, h.Publish("R1", []byte("old")))
	require.Equal(t, 1, h.Publish("R2", []byte("new")))
	require.Equal(t, []string{"new"}, drain(s))

	stats := h.Stats()
	require.Equal(t, 1, stats.Rooms)
	require.Equal(t, map[string]int{"R2": 1}, stats.Subscribers)

	require.NoError(t, h.Unsubscribe("a", "R2"))
	require.Equal(t, StateConnected, h.State("a"))
	require.Zero(t, h.Stats().Rooms)
}

func TestHub_CloseRemovesEverywhere(t *testing.T) {
	h := NewHub(8)
	s := h.Register("a", "alice")
	_, err := h.Subscribe("a", "R1")
	require.NoError(t, err)

	require.True(t, h.Close("a"))
	require.False(t, h.Close("a"))
	require.Equal(t, StateClosed, h.State("a"))

	_, ok := <-s.Send()
	require.False(t, ok)

	require.Zero(t, h.Publish("R1", []byte("x")))
	require.ErrorIs(t, h.SendToSession("a", []byte("x")), ErrUnknownSession)
	_, err = h.Subscribe("a", "R1")
	require.ErrorIs(t, err, ErrUnknownSession)
	require.Equal(t, Stats{Subscribers: map[string]int{}}, h.Stats())
}

func TestHub_SlowSubscriberIsDroppedAlone(t *testing.T) {
	h := NewHub(1)
	slow := h.Register("slow", "slow")
	fast := h.Register("fast", "fast")
	_, _ = h.Subscribe("slow", "R1")
	_, _ = h.Subscribe("fast", "R1")

	require.Equal(t, 2, h.Publish("R1", []byte("1")))
	require.Equal(t, []string{"1"}, drain(fast))

	// slow never drains, so the second payload overflows its queue
	require.Equal(t, 1, h.Publish("R1", []byte("2")))
	require.Equal(t, []string{"2"}, drain(fast))

	require.Equal(t, StateClosed, h.State("slow"))
	require.Equal(t, []string{"1"}, drain(slow))
	require.Equal(t, []string{"fast"}, h.Members("R1"))
}

func TestHub_SendToSessionFullQueue(t *testing.T) {
	h := NewHub(1)
	h.Register("a", "alice")
	require.NoError(t, h.SendToSession("a", []byte("1")))

	err := h.SendToSession("a", []byte("2"))
	require.ErrorIs(t, err, domain.ErrDelivery)
	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "a", de.SessionID)
	require.Equal(t, StateClosed, h.State("a"))
}

func TestHub_RegisterReplacesDuplicateID(t *testing.T) {
	h := NewHub(4)
	old := h.Register("a", "alice")
	_, _ = h.Subscribe("a", "R1")
	h.Register("a", "alice")

	_, ok := <-old.Send()
	require.False(t, ok)
	_, subscribed := h.Room("a")
	require.False(t, subscribed)
	require.Equal(t, 1, h.Stats().Sessions)
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	h := NewHub(4)
	for i := 0; i < 50; i++ {
		id := string(rune('A' + i))
		h.Register(id, id)
		_, _ = h.Subscribe(id, "R1")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish("R1", []byte("x"))
			}
		}()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			h.Close(id)
		}(string(rune('A' + i)))
	}
	wg.Wait()

	require.Zero(t, h.Stats().Sessions)
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(4)
	s := h.Register("a", "alice")
	h.Shutdown()

	_, ok := <-s.Send()
	require.False(t, ok)
	require.ErrorIs(t, h.Broadcast(context.Background(), "R1", []byte("x")), ErrHubClosed)

	late := h.Register("b", "bob")
	_, ok = <-late.Send()
	require.False(t, ok)
}
