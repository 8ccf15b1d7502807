package authcore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const resetPurpose = "password_reset"

// SessionClaims is the claim set of a session token. It is never persisted.
type SessionClaims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// UserID returns the subject
func (c *SessionClaims) UserID() string { return c.Subject }

type resetClaims struct {
	Purpose string `json:"purpose"`
	// Password version: the user's PasswordChangedAt in unix microseconds when
	// the token was issued
	PCV int64 `json:"pcv"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates session and password reset tokens.
//
// A session token is rejected once the user's PasswordChangedAt is more than
// SkewTolerance ahead of its iat. There is no revocation list.
type TokenManager struct {
	Users UserStore

	Secret        []byte
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	ResetTTL      time.Duration
	SkewTolerance time.Duration

	// Now defaults to time.Now
	Now func() time.Time
}

// NewTokenManager creates a TokenManager from the config
func NewTokenManager(cfg Config, users UserStore) *TokenManager {
	return &TokenManager{
		Users:         users,
		Secret:        []byte(cfg.JWTSecret),
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.AppName,
		SessionTTL:    cfg.SessionTTL,
		ResetTTL:      cfg.ResetTokenTTL,
		SkewTolerance: cfg.SkewTolerance,
	}
}

func (m *TokenManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Reset tokens are signed with a key derived from Secret for that purpose alone
func (m *TokenManager) getResetKey() []byte {
	mac := hmac.New(sha256.New, m.Secret)
	mac.Write([]byte(resetPurpose))
	return mac.Sum(nil)
}

// Issue signs a session token for the user
func (m *TokenManager) Issue(user *User) (token string, expiresAt time.Time, err error) {
	now := m.now()
	expiresAt = now.Add(m.SessionTTL)
	claims := SessionClaims{
		Role:  user.Role,
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.Issuer,
			Audience:  jwt.ClaimStrings{m.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, expiresAt, nil
}

func (m *TokenManager) parserOptions(audience string) []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
}

// Validate verifies a session token and checks it against the current user.
// Errors wrap ErrInvalidToken or ErrStaleSession, except store failures.
func (m *TokenManager) Validate(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.Secret, nil
	}, m.parserOptions(m.Audience)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing sub or iat", ErrInvalidToken)
	}

	user, err := m.Users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.PasswordChangedAt.After(claims.IssuedAt.Time.Add(m.SkewTolerance)) {
		return nil, ErrStaleSession
	}
	// Role, email and name reflect the user now rather than at issuance
	claims.Role = user.Role
	claims.Email = user.Email
	claims.Name = user.Name
	return claims, nil
}

// IssueReset signs a short lived token allowing one password reset for user
func (m *TokenManager) IssueReset(user *User) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ResetTTL)
	claims := resetClaims{
		Purpose: resetPurpose,
		PCV:     user.PasswordChangedAt.UnixMicro(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.Issuer,
			Audience:  jwt.ClaimStrings{resetPurpose},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.getResetKey())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign reset token: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateReset verifies a reset token and returns the user it grants. A
// token is spent once the password changes.
func (m *TokenManager) ValidateReset(ctx context.Context, tokenString string) (*User, error) {
	claims := &resetClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.getResetKey(), nil
	}, m.parserOptions(resetPurpose)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != resetPurpose {
		return nil, ErrWrongPurpose
	}
	user, err := m.Users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.PasswordChangedAt.UnixMicro() != claims.PCV {
		return nil, fmt.Errorf("%w: already used", ErrInvalidToken)
	}
	return user, nil
}

// TokenSource says where ExtractToken found a token
type TokenSource int

const (
	SourceNone TokenSource = iota
	SourceCookie
	SourceHeader
)

// ExtractToken finds the session token on a request. The session cookie wins
// over the Authorization header when both are present.
func ExtractToken(r *http.Request, cookieName string) (string, TokenSource) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, SourceCookie
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		if token := strings.TrimSpace(header[7:]); token != "" {
			return token, SourceHeader
		}
	}
	return "", SourceNone
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
