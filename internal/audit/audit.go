package audit

import (
	"context"

	"github.com/weiawesome/chat-relay/pkg/log"
)

// Audit actions for the relay.
const (
	ActionAuth        = "relay.auth"
	ActionAuthFailed  = "relay.auth_failed"
	ActionJoinRoom    = "relay.join_room"
	ActionLeaveRoom   = "relay.leave_room"
	ActionSendMessage = "relay.send_message"
	ActionAnnounce    = "relay.announce"
	ActionDisconnect  = "relay.disconnect"
	ActionCreateRoom  = "relay.create_room"
)

const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, username, roomCode, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(log.FieldRoomCode, roomCode).
		Msg(msg)
}

// LogWithDetail emits an audit log with an extra detail field.
func LogWithDetail(ctx context.Context, action, username, roomCode, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(log.FieldRoomCode, roomCode).
		Str(FieldDetail, detail).
		Msg(msg)
}
