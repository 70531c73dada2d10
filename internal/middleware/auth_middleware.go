package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"assoc-messaging/internal/auth"

	"github.com/sirupsen/logrus"
)

type contextKey string

// IdentityKey stores the caller's auth.Identity in the request context.
const IdentityKey contextKey = "identity"

// AuthMiddleware validates the bearer token (or the "token" query parameter used
// by websocket upgrades) and puts the caller's identity into the context.
func AuthMiddleware(next http.Handler, jwtKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := extractToken(r)
		if !ok {
			writeJSONError(w, "missing or malformed authorization", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(tokenString, jwtKey)
		if err != nil {
			logrus.WithFields(logrus.Fields{"path": r.URL.Path, "error": err}).Debug("rejected token")
			writeJSONError(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := WithIdentity(r.Context(), claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
			return "", false
		}
		return headerParts[1], headerParts[1] != ""
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFromContext returns the identity stored by AuthMiddleware.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(auth.Identity)
	return id, ok && id.IsAuthenticated
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
