package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)
	req.Equal(zerolog.DebugLevel, ParseLevel("DEBUG"))
	req.Equal(zerolog.WarnLevel, ParseLevel(" warning "))
	req.Equal(zerolog.Disabled, ParseLevel("off"))
	req.Equal(zerolog.InfoLevel, ParseLevel("whatever"))
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info", ServiceName: "chat-relay"}, &buf)

	ctx := WithSession(WithLogger(context.Background(), l), "s-1", "alice")
	logger := Ctx(ctx)
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "chat-relay", entry[FieldService])
	require.Equal(t, "s-1", entry[FieldSessionID])
	require.Equal(t, "alice", entry[FieldUsername])

	require.NotPanics(t, func() {
		g := Ctx(context.Background())
		g.Debug().Msg("global")
	})
}
