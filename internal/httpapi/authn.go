package httpapi

import (
	"net/http"
	"strings"

	"lifeline.org/internal/session"
)

// publicPath reports whether the path can be served without a bearer token.
func publicPath(p string) bool {
	switch p {
	case "/", "/healthz", "/readyz", "/metrics", "/v1/info",
		"/v1/auth/login", "/v1/auth/register":
		return true
	}
	return false
}

// withAuth validates the bearer token on protected routes and attaches the
// caller identity to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}
		userID, sessionID, err := a.sessions.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "token rejected")
			return
		}
		ctx := session.ContextWithSession(r.Context(), userID, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// websocket clients cannot set headers from the browser; accept a
	// query parameter on the upgrade endpoint only.
	if r.URL.Path == "/v1/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}
