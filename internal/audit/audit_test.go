package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weiawesome/chat-relay/pkg/log"
)

func TestLog_WritesAuditEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(log.Config{Level: "info"}, &buf)
	ctx := log.WithLogger(context.Background(), logger)

	LogWithDetail(ctx, ActionSendMessage, "alice", "R1", "42", "message sent")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	require.Equal(t, ActionSendMessage, entry[FieldAction])
	require.Equal(t, "alice", entry[log.FieldUsername])
	require.Equal(t, "R1", entry[log.FieldRoomCode])
	require.Equal(t, "42", entry[FieldDetail])
}
