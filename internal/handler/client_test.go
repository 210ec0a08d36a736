package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/internal/fanout"
)

func TestWritePump_StopsOnBrokenConnection(t *testing.T) {
	hub := fanout.NewHub(4)
	session := hub.Register("s1", "alice")

	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- conn
	}))
	defer srv.Close()

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer peer.Close()

	conn := <-upgraded
	client := NewClient(session, conn, testWSConfig)
	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()

	require.NoError(t, hub.SendToSession("s1", []byte(`{"type":"pong"}`)))
	require.Equal(t, "pong", read(t, peer).Type)

	require.NoError(t, conn.UnderlyingConn().Close())
	require.NoError(t, hub.SendToSession("s1", []byte(`{"type":"pong"}`)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump kept running on a broken connection")
	}
}
