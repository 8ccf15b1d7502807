package authcore

import (
	"context"
	"strings"
	"time"
)

// OAuthOnlyPassword is the password hash sentinel stored for accounts that
// were created through OAuth and never set a local password.
const OAuthOnlyPassword = "oauth-only"

// Default role given to new accounts
const RoleUser = "user"

// User is a login-capable account
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"` // always lower-cased, unique
	PasswordHash      string    `json:"password_hash"`
	Role              string    `json:"role"`
	GoogleSub         string    `json:"google_sub,omitempty"` // unique when set
	EmailVerified     bool      `json:"email_verified"`
	PasswordChangedAt time.Time `json:"password_changed_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasLocalPassword is false for OAuth-only accounts
func (u *User) HasLocalPassword() bool {
	return u.PasswordHash != "" && u.PasswordHash != OAuthOnlyPassword
}

// OTPPurpose scopes an OTP record to one ceremony
type OTPPurpose string

const (
	PurposeLogin OTPPurpose = "login"
	PurposeReset OTPPurpose = "reset"
)

// PendingRegistration holds a registration until its OTP is verified.
// Keyed by email.
type PendingRegistration struct {
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"password_hash"`
	CodeHash     string     `json:"code_hash"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Attempts     int        `json:"attempts"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsActive reports whether the registration can still be verified at now
func (p *PendingRegistration) IsActive(now time.Time) bool {
	return p.ConsumedAt == nil && !now.After(p.ExpiresAt)
}

// OTPRecord is one issued code for a (user, purpose) pair
type OTPRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Purpose    OTPPurpose `json:"purpose"`
	CodeHash   string     `json:"code_hash"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Attempts   int        `json:"attempts"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UserStore manages user accounts.
//
// Implementations must enforce uniqueness of Email and of a non-empty
// GoogleSub, returning ErrConflict from CreateUser on a collision. Lookups
// return ErrNotFound when nothing matches.
type UserStore interface {
	// CreateUser inserts a new user
	CreateUser(ctx context.Context, user *User) error

	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail looks up a user by lower-cased email
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	GetUserByGoogleSub(ctx context.Context, sub string) (*User, error)

	// UpdatePassword writes the new hash and PasswordChangedAt in one update
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error

	// LinkGoogleSubject sets the google subject of a user and marks the email
	// verified, but only while the user has no subject yet. Returns
	// ErrConflict if a subject is already set or is owned by another user.
	LinkGoogleSubject(ctx context.Context, userID, sub string) error
}

// PendingStore manages pending registrations
type PendingStore interface {
	GetPendingRegistration(ctx context.Context, email string) (*PendingRegistration, error)

	// SavePendingRegistration creates or replaces the record for the email
	SavePendingRegistration(ctx context.Context, pending *PendingRegistration) error

	// IncrementPendingAttempts bumps the attempt counter and returns the new value
	IncrementPendingAttempts(ctx context.Context, email string) (int, error)

	// ConsumePendingRegistration marks the record consumed only if it is
	// still unconsumed. A loser of the race gets ErrAlreadyConsumed.
	ConsumePendingRegistration(ctx context.Context, email string, at time.Time) error
}

// OTPStore manages one-time passcode records
type OTPStore interface {
	CreateOTP(ctx context.Context, record *OTPRecord) error

	// LatestOTP returns the most recently created unconsumed record for the
	// pair or ErrNotFound
	LatestOTP(ctx context.Context, userID string, purpose OTPPurpose) (*OTPRecord, error)

	// IncrementOTPAttempts bumps the attempt counter and returns the new value
	IncrementOTPAttempts(ctx context.Context, id string) (int, error)

	// ConsumeOTP marks the record consumed only if it is still unconsumed,
	// returning ErrAlreadyConsumed otherwise
	ConsumeOTP(ctx context.Context, id string, at time.Time) error
}

// CredentialStore is everything the auth core persists
type CredentialStore interface {
	UserStore
	PendingStore
	OTPStore
}

// SplitStore composes a CredentialStore from separate backends, e.g. users in
// a relational database and short lived OTP state in redis.
type SplitStore struct {
	UserStore
	PendingStore
	OTPStore
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
