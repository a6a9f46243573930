package ws

import (
	"net/http"
	"strings"

	"fleetd/internal/auth"
)

// Handler wraps the Socket.IO server with JWT validation on the handshake.
// Observers are operators; device callers never touch this surface.
func (b *Broadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/socket.io/") {
			token := extractToken(r)
			if token == "" {
				b.logger.Warnf("handshake rejected, no token from %s", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if _, err := auth.ParseOperatorToken(token); err != nil {
				b.logger.Warnf("handshake rejected, invalid token from %s: %v", r.RemoteAddr, err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		b.server.ServeHTTP(w, r)
	})
}

// extractToken pulls the JWT from the handshake request.
// Priority: token query parameter, then Authorization header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	return ""
}
