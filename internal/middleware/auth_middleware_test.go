package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	cfg := config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Hour}
	token, err := auth.GenerateToken("u1", "Ayse", "", cfg)
	require.NoError(t, err)

	var seen auth.Identity
	h := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), cfg.JWTSecretKey)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusNoContent},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"malformed", func(r *http.Request) { r.Header.Set("Authorization", token) }, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = auth.Identity{}
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "u1", seen.UserID)
			}
		})
	}
}
