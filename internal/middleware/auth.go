package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/auth"
)

type identityKeyType struct{}

var identityKey = identityKeyType{}

// Auth resolves the bearer credential and stores the decoded identity on the
// request context. Requests without a valid credential are rejected.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodeBearer(r)
		if !ok {
			http.Error(w, "invalid or missing credential", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// OptionalAuth stores the identity when a valid credential is present and
// passes the request through otherwise, for guest-capable endpoints.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := decodeBearer(r); ok {
			r = r.WithContext(ContextWithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBearer(r *http.Request) (*auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, false
	}
	id, err := auth.Decode(parts[1], time.Now())
	if err != nil {
		return nil, false
	}
	return id, true
}

// ContextWithIdentity attaches a decoded identity to the context.
func ContextWithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the decoded identity, or nil for guests.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	if v, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return v
	}
	return nil
}
