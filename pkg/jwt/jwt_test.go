package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_IssueValidate(t *testing.T) {
	m, err := NewManager("s3cret", time.Hour, "chat-relay")
	require.NoError(t, err)

	token, exp, err := m.Issue("alice")
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	claims, err := m.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
}

func TestManager_Expired(t *testing.T) {
	m, err := NewManager("s3cret", time.Minute, "chat-relay")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue("alice")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Validate(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_WrongSecret(t *testing.T) {
	a, err := NewManager("one", time.Hour, "")
	require.NoError(t, err)
	b, err := NewManager("two", time.Hour, "")
	require.NoError(t, err)

	token, _, err := a.Issue("bob")
	require.NoError(t, err)

	_, err = b.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManager_EmptySecret(t *testing.T) {
	_, err := NewManager("", time.Hour, "")
	require.ErrorIs(t, err, ErrEmptySecret)
}
