package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
)

// SessionValidator validates session tokens. *ac.TokenManager satisfies it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*ac.SessionClaims, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	Validator SessionValidator

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	Logger *slog.Logger
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(validator SessionValidator) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Validator:     validator,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(validator SessionValidator, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(validator)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(validator SessionValidator) *InterceptorConfig {
	config := DefaultInterceptorConfig(validator)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that validates the
// bearer token and stores its claims in the context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that validates the
// bearer token.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

// authenticate validates the token if present. A present but invalid token
// is rejected even on public methods.
func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	token := TokenFromIncomingContext(ctx, config.Config)
	if token == "" {
		if config.RequireAuth && !config.PublicMethods[method] {
			return ctx, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}

	claims, err := config.Validator.Validate(ctx, token)
	switch {
	case err == nil:
		return ac.WithClaims(ctx, claims), nil
	case errors.Is(err, ac.ErrStaleSession):
		return ctx, status.Error(codes.Unauthenticated, "session expired")
	case errors.Is(err, ac.ErrInvalidToken):
		return ctx, status.Error(codes.Unauthenticated, "invalid session")
	default:
		config.Logger.Error("grpc session validation failed", "method", method, "error", err)
		return ctx, status.Error(codes.Internal, "could not validate session")
	}
}

// authStream overrides the context of a server stream
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context {
	return s.ctx
}
