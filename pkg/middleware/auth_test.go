package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]string

func (v staticVerifier) VerifyUsername(token string) (string, error) {
	if u, ok := v[token]; ok {
		return u, nil
	}
	return "", errors.New("invalid token")
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mw := NewAuthMiddleware(staticVerifier{"good": "alice"})
	r.GET("/me", mw.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUsername(c))
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"ok", "Bearer good", http.StatusOK, "alice"},
	}

	r := newRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(AuthHeaderKey, tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tc.status, w.Code)
			if tc.body != "" {
				require.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}
