package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// GoogleIdentity is an identity Google has asserted through a verified ID token
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// newUser builds a user record. PasswordChangedAt starts at creation time.
func newUser(name, email, passwordHash string, now time.Time) *User {
	now = storeTime(now)
	return &User{
		ID:                uuid.NewString(),
		Name:              name,
		Email:             NormalizeEmail(email),
		PasswordHash:      passwordHash,
		Role:              RoleUser,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// storeTime truncates to the precision every store backend keeps
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EnsureGoogleUser finds, links or creates the local user for a Google identity.
//
//  1. A user already holding the subject is returned as is.
//  2. A user with the same email and no subject gets the subject linked and
//     the email marked verified.
//  3. A user with the same email linked to another subject is a conflict.
//  4. Otherwise a new OAuth-only user is created.
//
// Concurrent calls for one subject never produce two users: linking and
// creation rely on the store's conditional update and unique constraints,
// and a lost race resolves to the winner's user.
func EnsureGoogleUser(ctx context.Context, store UserStore, identity GoogleIdentity, now time.Time, logger *slog.Logger) (*User, error) {
	if logger == nil {
		logger = slog.Default()
	}
	email := NormalizeEmail(identity.Email)
	if identity.Subject == "" || email == "" {
		return nil, ValidationError(ErrCodeMissingField, "Identity has no subject or email", "")
	}

	user, err := store.GetUserByGoogleSub(ctx, identity.Subject)
	if err == nil {
		return user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up google subject: %w", err)
	}

	user, err = store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.GoogleSub != "" && user.GoogleSub != identity.Subject {
			logger.Warn("google subject collides with linked account", "user_id", user.ID)
			return nil, ConflictError(ErrCodeAccountConflict, "Email is linked to a different Google account", "email")
		}
		if err := store.LinkGoogleSubject(ctx, user.ID, identity.Subject); err != nil {
			if errors.Is(err, ErrConflict) {
				return resolveGoogleRace(ctx, store, identity.Subject, user.ID)
			}
			return nil, fmt.Errorf("failed to link google subject: %w", err)
		}
		logger.Info("linked google account", "user_id", user.ID)
		return store.GetUserByID(ctx, user.ID)

	case errors.Is(err, ErrNotFound):
		name := identity.Name
		if name == "" {
			name = email
		}
		user = newUser(name, email, OAuthOnlyPassword, now)
		user.GoogleSub = identity.Subject
		user.EmailVerified = true
		if err := store.CreateUser(ctx, user); err != nil {
			if errors.Is(err, ErrConflict) {
				return resolveGoogleRace(ctx, store, identity.Subject, "")
			}
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		logger.Info("created oauth user", "user_id", user.ID)
		return user, nil

	default:
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
}

// resolveGoogleRace settles a lost link or create race. If the winner holds
// the same subject (and, when given, is the expected user) its user is the
// answer, otherwise the identity conflicts with another account.
func resolveGoogleRace(ctx context.Context, store UserStore, sub, expectedUserID string) (*User, error) {
	winner, err := store.GetUserByGoogleSub(ctx, sub)
	if errors.Is(err, ErrNotFound) {
		return nil, ConflictError(ErrCodeAccountConflict, "Email is linked to a different account", "email")
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up google subject: %w", err)
	}
	if expectedUserID != "" && winner.ID != expectedUserID {
		return nil, ConflictError(ErrCodeAccountConflict, "Google account is linked to a different user", "email")
	}
	return winner, nil
}

func userSummary(u *User) map[string]any {
	return map[string]any{
		"id":             u.ID,
		"name":           u.Name,
		"email":          u.Email,
		"role":           u.Role,
		"email_verified": u.EmailVerified,
	}
}
