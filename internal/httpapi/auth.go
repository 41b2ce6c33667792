package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"servicelane/queue-service/internal/store"
)

type authContextKey struct{}

func AuthMiddleware(sessions store.QueueStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return store.Session{}, false
	}
	session, ok := value.(store.Session)
	if !ok {
		return store.Session{}, false
	}
	return session, true
}

// actorFromContext identifies the staff member behind a mutation for the
// audit trail. Falls back to the user id when no display name is set.
func actorFromContext(ctx context.Context) string {
	session, ok := sessionFromContext(ctx)
	if !ok {
		return ""
	}
	if session.DisplayName != "" {
		return session.DisplayName
	}
	return session.UserID
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint marks the customer-facing surface: entry submission via a
// token and the status poll. The event log under an entry stays staff-only.
func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz":
		return true
	case r.URL.Path == "/api/entries":
		return r.Method == http.MethodPost
	case strings.HasPrefix(r.URL.Path, "/api/entries/"):
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/entries/"), "/")
		return r.Method == http.MethodGet && !strings.Contains(rest, "/")
	default:
		return r.Method == http.MethodOptions
	}
}
