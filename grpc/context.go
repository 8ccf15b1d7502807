// Package grpc carries authcore sessions across gRPC calls. Clients put the
// session token in the "authorization" metadata; the server interceptors
// validate it and expose the claims through the context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ac "github.com/panyam/authcore"
)

// MetadataKeyAuthorization is the gRPC metadata key carrying "Bearer <token>"
const MetadataKeyAuthorization = "authorization"

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization"
	MetadataKeyAuthorization string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeyAuthorization: MetadataKeyAuthorization}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = MetadataKeyAuthorization
	}
}

// TokenFromIncomingContext returns the bearer token of an incoming call or ""
func TokenFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	header := values[0]
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// TokenToOutgoingContext forwards a session token on outgoing calls
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyAuthorization, "Bearer "+token)
}

// ClaimsFromContext returns the claims the interceptor validated
func ClaimsFromContext(ctx context.Context) (*ac.SessionClaims, bool) {
	return ac.ClaimsFromContext(ctx)
}

// UserIDFromContext returns the authenticated user id or ""
func UserIDFromContext(ctx context.Context) string {
	if claims, ok := ac.ClaimsFromContext(ctx); ok {
		return claims.UserID()
	}
	return ""
}

// IsAuthenticated returns true if the interceptor validated a session.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
