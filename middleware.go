package authcore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type claimsKey struct{}

// Middleware authenticates requests carrying a session token in the session
// cookie or an Authorization: Bearer header.
type Middleware struct {
	Tokens     *TokenManager
	CookieName string
	Logger     *slog.Logger
}

func (a *Middleware) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Authenticate extracts and validates the session token of a request
func (a *Middleware) Authenticate(r *http.Request) (*SessionClaims, error) {
	token, source := ExtractToken(r, a.CookieName)
	if source == SourceNone {
		return nil, ErrNoToken
	}
	return a.Tokens.Validate(r.Context(), token)
}

// ExtractUser loads the session claims into the request context when the
// request carries a valid token. It never rejects a request.
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Authenticate(r)
		if err == nil {
			r = r.WithContext(WithClaims(r.Context(), claims))
		} else if !errors.Is(err, ErrNoToken) {
			a.logger().Debug("ignoring invalid session", "path", r.URL.Path, "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects requests without a valid session with a 401
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Authenticate(r)
		if err != nil {
			a.rejectUnauthenticated(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (a *Middleware) rejectUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrStaleSession):
		writeError(w, AuthenticationError(ErrCodeStaleSession, "Session expired, log in again"), 0)
	case errors.Is(err, ErrNoToken), errors.Is(err, ErrInvalidToken):
		writeError(w, AuthenticationError(ErrCodeInvalidToken, "Authentication required"), 0)
	default:
		a.logger().Error("session validation failed", "path", r.URL.Path, "error", err)
		writeError(w, UpstreamError(ErrCodeStoreFailed, "Could not validate session", err), 0)
	}
}

// GetLoggedInUserId returns the user id put in the context by ExtractUser or
// EnsureUser, or "" when there is none
func (a *Middleware) GetLoggedInUserId(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return claims.UserID()
	}
	return ""
}

// WithClaims returns a context carrying validated session claims
func WithClaims(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the validated session claims of a request
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*SessionClaims)
	return claims, ok && claims != nil
}
