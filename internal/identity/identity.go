package identity

import (
	"errors"
	"time"

	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/pkg/jwt"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller of a connection or request.
type Identity struct {
	Username  string
	ExpiresAt time.Time
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTManager is the default Verifier, backed by HS256 tokens.
type JWTManager struct {
	jwt *jwt.Manager
}

func NewJWTManager(cfg config.IdentityConfig) (*JWTManager, error) {
	m, err := jwt.NewManager(cfg.Secret, cfg.TokenTTL, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	return &JWTManager{jwt: m}, nil
}

func (m *JWTManager) Issue(username string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, errors.New("username must not be empty")
	}
	return m.jwt.Issue(username)
}

func (m *JWTManager) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := m.jwt.Validate(token)
	if err != nil {
		return Identity{}, errors.Join(ErrUnauthenticated, err)
	}
	if claims.Username == "" {
		return Identity{}, ErrUnauthenticated
	}

	id := Identity{Username: claims.Username}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// VerifyUsername adapts the manager to the HTTP auth middleware.
func (m *JWTManager) VerifyUsername(token string) (string, error) {
	id, err := m.Verify(token)
	if err != nil {
		return "", err
	}
	return id.Username, nil
}
