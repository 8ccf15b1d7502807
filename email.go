package authcore

import (
	"context"
	"log/slog"
	"time"
)

// Notifier delivers one-time codes to users. Applications provide their own
// implementation (email, SMS, ...).
//
// A failed send leaves the issued code valid; callers recover by resending.
type Notifier interface {
	SendRegistrationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error
	SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time) error
	SendPasswordResetCode(ctx context.Context, to, code string, expiresAt time.Time) error
}

// ConsoleNotifier is a development implementation that logs codes.
// Never use it in production: it writes plaintext codes to the log.
type ConsoleNotifier struct {
	Logger *slog.Logger
}

func (c *ConsoleNotifier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleNotifier) SendRegistrationCode(ctx context.Context, to, name, code string, expiresAt time.Time) error {
	c.logger().InfoContext(ctx, "=== EMAIL: Verify your email address ===",
		"to", to, "name", name, "code", code, "expires_at", expiresAt)
	return nil
}

func (c *ConsoleNotifier) SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	c.logger().InfoContext(ctx, "=== EMAIL: Your login code ===",
		"to", to, "code", code, "expires_at", expiresAt)
	return nil
}

func (c *ConsoleNotifier) SendPasswordResetCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	c.logger().InfoContext(ctx, "=== EMAIL: Reset your password ===",
		"to", to, "code", code, "expires_at", expiresAt)
	return nil
}
