package middleware

import (
	"context"
	"net/http"
	"strings"
	"unicode"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext retrieves the caller's user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

// WithUserID returns a new context with the given user ID set. Useful for
// testing handlers that depend on UserID middleware.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// UserID reads the caller's identity from the X-User-ID header and attaches
// it to the request context. Resync has no authentication layer of its own
// (spec explicitly scopes it out); callers sit behind an authenticating
// reverse proxy or internal service mesh that sets this header.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" || len(userID) > 256 || !isPrintableASCII(userID) {
			respondError(w, http.StatusUnauthorized, "missing or invalid X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"success":false,"error":"` + message + `"}`))
}
