package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/chat-relay/internal/audit"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/coordinator"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/internal/identity"
	"github.com/weiawesome/chat-relay/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	coord    *coordinator.Coordinator
	verifier identity.Verifier
	wsCfg    config.WebSocketConfig
	validate *validator.Validate
}

func NewWSHandler(coord *coordinator.Coordinator, verifier identity.Verifier, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		coord:    coord,
		verifier: verifier,
		wsCfg:    wsCfg,
		validate: validator.New(),
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token
}

// HandleWebSocket authenticates the handshake, then upgrades and starts
// the client pumps.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", "", err.Error(), "websocket handshake rejected")
		http.Error(w, domain.ErrCodeUnauthorized, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session, err := h.coord.Connect(ctx, id.Username)
	if err != nil {
		conn.Close()
		return
	}

	// The request context ends with the handler; sessions outlive it.
	sessionCtx := log.WithSession(log.WithLogger(context.Background(), log.Ctx(ctx)), session.ID, id.Username)
	client := NewClient(session, conn, h.wsCfg)

	go client.WritePump()
	go client.ReadPump(
		func(c *Client, message []byte) { h.handleMessage(sessionCtx, c, message) },
		func() { h.coord.OnDisconnect(sessionCtx, session.ID) },
	)
}

func (h *WSHandler) handleMessage(ctx context.Context, client *Client, message []byte) {
	sessionID := client.Session.ID

	var frame domain.InboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		h.replyError(ctx, sessionID, domain.NewProtocolError("invalid frame format"))
		return
	}
	if err := h.validate.Struct(&frame); err != nil {
		h.replyError(ctx, sessionID, domain.NewProtocolError("unknown or missing frame type"))
		return
	}

	var err error
	switch frame.Type {
	case domain.FrameJoin:
		err = h.coord.OnJoin(ctx, sessionID, frame.RoomCode)

	case domain.FrameSendMessage:
		_, err = h.coord.OnSend(ctx, sessionID, frame.RoomCode, frame.Content)

	case domain.FrameNewUser:
		err = h.coord.OnNewUserAnnounce(ctx, sessionID, frame.RoomCode)

	case domain.FramePing:
		err = h.coord.Reply(sessionID, domain.NewPongFrame())
	}

	if err != nil && !errors.Is(err, coordinator.ErrSessionClosed) {
		h.replyError(ctx, sessionID, err)
	}
}

func (h *WSHandler) replyError(ctx context.Context, sessionID string, err error) {
	code := domain.ErrorCode(err)

	msg := err.Error()
	switch code {
	case domain.ErrCodePersistence:
		msg = "message could not be stored"
	case domain.ErrCodeInternal:
		msg = "internal error"
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("action failed")
	}

	_ = h.coord.Reply(sessionID, domain.NewErrorFrame(code, msg))
}
