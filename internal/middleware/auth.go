package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"calculator-api/internal/model"
	"calculator-api/internal/service"
)

type sessionContextKey struct{}

type AuthMiddleware struct {
	resolver *service.SessionResolver
	users    service.UserFinder
}

// NewAuthMiddleware resolves bearer tokens on protected routes. users is the
// request-scoped store handle; when nil the resolver falls back to its own
// connection or to the token claims.
func NewAuthMiddleware(resolver *service.SessionResolver, users service.UserFinder) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver, users: users}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		session, err := m.resolver.ResolveHeader(ctx, r.Header.Get("Authorization"), m.resolver.LookupFor(m.users))
		if err != nil {
			writeAuthError(w, r, err)
			return
		}

		setRequestUser(ctx, session.User.ID.String())
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey{}, session)))
	})
}

func SessionFromContext(ctx context.Context) (service.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(service.Session)
	return session, ok
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Could not validate credentials")
	case errors.Is(err, model.ErrInactiveUser):
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Inactive user")
	default:
		slog.Error("session resolution failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
	}
}
