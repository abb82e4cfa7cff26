package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Identity copies the caller identity from the X-User-ID header into the
// request context. Authentication proper is terminated upstream; the header
// is trusted as-is.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if uid != "" {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, uid))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID stamps an already-resolved user id onto a context. Used by
// internal callers and tests that bypass the HTTP middleware chain.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
