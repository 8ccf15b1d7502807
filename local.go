package authcore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// AuthErrorHandler lets applications render errors themselves. Returning
// false falls back to the JSON error body.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

// Session is a freshly issued session token
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *User
}

// LocalAuth implements the password and OTP based flows: registration,
// two step login and the password reset ceremony.
type LocalAuth struct {
	Store    CredentialStore
	Hasher   Hasher
	OTP      *OTPEngine
	Tokens   *TokenManager
	Cookies  *CookieManager
	Notifier Notifier

	Policy PasswordPolicy

	// Lifetime of registration, login and reset codes
	OTPTTL time.Duration

	// Also return session tokens in response bodies (bearer clients)
	TokenInBody bool

	// OnError is called when a handler fails. If nil, returns JSON error.
	OnError AuthErrorHandler

	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// NewLocalAuth wires a LocalAuth from the config
func NewLocalAuth(cfg Config, store CredentialStore, notifier Notifier) *LocalAuth {
	hasher := BcryptHasher{Cost: cfg.BcryptCost}
	return &LocalAuth{
		Store:       store,
		Hasher:      hasher,
		OTP:         &OTPEngine{Store: store, Hasher: hasher, MaxAttempts: cfg.OTPMaxAttempts},
		Tokens:      NewTokenManager(cfg, store),
		Cookies:     NewCookieManager(cfg),
		Notifier:    notifier,
		Policy:      DefaultPasswordPolicy(),
		OTPTTL:      cfg.OTPTTL,
		TokenInBody: cfg.TokenInBody,
	}
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *LocalAuth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// SetClock replaces the clock of the auth flows, the OTP engine and the
// token manager
func (a *LocalAuth) SetClock(now func() time.Time) {
	a.Now = now
	a.OTP.Now = now
	a.Tokens.Now = now
}

func (a *LocalAuth) otpTTL() time.Duration {
	if a.OTPTTL <= 0 {
		return DefaultOTPTTL
	}
	return a.OTPTTL
}

// Login is step one of a login: it checks the password and mails a login code
func (a *LocalAuth) Login(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	user, err := a.Store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return AuthenticationError(ErrCodeInvalidCreds, "Invalid credentials")
	} else if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not load account", err)
	}
	if !user.HasLocalPassword() || !a.Hasher.Verify(password, user.PasswordHash) {
		return AuthenticationError(ErrCodeInvalidCreds, "Invalid credentials")
	}

	code, err := a.OTP.Issue(ctx, user.ID, PurposeLogin, a.otpTTL())
	if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not issue code", err)
	}
	if err := a.Notifier.SendLoginCode(ctx, user.Email, code, a.now().Add(a.otpTTL())); err != nil {
		a.logger().Error("failed to send login code", "user_id", user.ID, "error", err)
		return UpstreamError(ErrCodeNotifyFailed, "Could not send code, try again", err)
	}
	return nil
}

// VerifyLogin completes a login with the mailed code
func (a *LocalAuth) VerifyLogin(ctx context.Context, email, code string) (*Session, error) {
	user, err := a.Store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, outcomeError(OutcomeInvalid)
	} else if err != nil {
		return nil, UpstreamError(ErrCodeStoreFailed, "Could not load account", err)
	}
	outcome, err := a.OTP.VerifyAndConsume(ctx, user.ID, PurposeLogin, code)
	if err != nil {
		return nil, UpstreamError(ErrCodeStoreFailed, "Could not verify code", err)
	}
	if outcome != OutcomeOK {
		a.logger().Info("login code rejected", "user_id", user.ID, "outcome", outcome)
		return nil, outcomeError(outcome)
	}
	return a.issueSession(user)
}

// RequestPasswordReset mails a reset code when the account exists and has a
// local password. Callers cannot tell whether it did.
func (a *LocalAuth) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := a.Store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not load account", err)
	}
	if !user.HasLocalPassword() {
		a.logger().Info("reset requested for oauth-only account", "user_id", user.ID)
		return nil
	}

	code, err := a.OTP.Issue(ctx, user.ID, PurposeReset, a.otpTTL())
	if err != nil {
		a.logger().Error("failed to issue reset code", "user_id", user.ID, "error", err)
		return nil
	}
	// Not surfaced: the response must not depend on whether the account exists
	if err := a.Notifier.SendPasswordResetCode(ctx, user.Email, code, a.now().Add(a.otpTTL())); err != nil {
		a.logger().Error("failed to send reset code", "user_id", user.ID, "error", err)
	}
	return nil
}

// VerifyResetOTP exchanges a reset code for a reset token
func (a *LocalAuth) VerifyResetOTP(ctx context.Context, email, code string) (string, time.Time, error) {
	user, err := a.Store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return "", time.Time{}, outcomeError(OutcomeInvalid)
	} else if err != nil {
		return "", time.Time{}, UpstreamError(ErrCodeStoreFailed, "Could not load account", err)
	}
	outcome, err := a.OTP.VerifyAndConsume(ctx, user.ID, PurposeReset, code)
	if err != nil {
		return "", time.Time{}, UpstreamError(ErrCodeStoreFailed, "Could not verify code", err)
	}
	if outcome != OutcomeOK {
		return "", time.Time{}, outcomeError(outcome)
	}
	token, expiresAt, err := a.Tokens.IssueReset(user)
	if err != nil {
		return "", time.Time{}, UpstreamError(ErrCodeStoreFailed, "Could not issue reset token", err)
	}
	return token, expiresAt, nil
}

// ResetPassword sets a new password. The hash and PasswordChangedAt are
// written together, which invalidates every session issued before.
func (a *LocalAuth) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := a.Policy.ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := a.Tokens.ValidateReset(ctx, resetToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrWrongPurpose) {
			return AuthenticationError(ErrCodeInvalidToken, "Invalid or expired reset token")
		}
		return UpstreamError(ErrCodeStoreFailed, "Could not validate reset token", err)
	}
	hash, err := a.Hasher.Hash(newPassword)
	if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not hash password", err)
	}
	if err := a.Store.UpdatePassword(ctx, user.ID, hash, storeTime(a.now())); err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not update password", err)
	}
	a.logger().Info("password reset", "user_id", user.ID)
	return nil
}

func (a *LocalAuth) issueSession(user *User) (*Session, error) {
	token, expiresAt, err := a.Tokens.Issue(user)
	if err != nil {
		return nil, UpstreamError(ErrCodeStoreFailed, "Could not issue session", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// HandleLogin handles POST /login
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "email", "password")
	if authErr == nil {
		authErr = requireFields(fields, "email", "password")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	if err := a.Login(r.Context(), fields["email"], fields["password"]); err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "OTP sent",
	})
}

// HandleVerifyLogin handles POST /login/verify
func (a *LocalAuth) HandleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "email", "otp")
	if authErr == nil {
		authErr = requireFields(fields, "email", "otp")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	session, err := a.VerifyLogin(r.Context(), fields["email"], fields["otp"])
	if err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	a.completeSession(session, http.StatusOK, w)
}

// HandleForgotPassword handles POST /password/forgot. Always 200 for a
// well formed request.
func (a *LocalAuth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "email")
	if authErr == nil {
		authErr = requireFields(fields, "email")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	if err := a.RequestPasswordReset(r.Context(), fields["email"]); err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that email exists, a reset code has been sent",
	})
}

// HandleVerifyReset handles POST /password/verify
func (a *LocalAuth) HandleVerifyReset(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "email", "otp")
	if authErr == nil {
		authErr = requireFields(fields, "email", "otp")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	token, expiresAt, err := a.VerifyResetOTP(r.Context(), fields["email"], fields["otp"])
	if err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"reset_token": token,
		"expires_at":  expiresAt.UTC(),
	})
}

// HandleResetPassword handles POST /password/reset
func (a *LocalAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "reset_token", "password")
	if authErr == nil {
		authErr = requireFields(fields, "reset_token", "password")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	if err := a.ResetPassword(r.Context(), fields["reset_token"], fields["password"]); err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	// The caller's own cookie, if any, is now stale
	a.Cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successfully",
	})
}

// completeSession sets the session cookie and writes the user summary
func (a *LocalAuth) completeSession(session *Session, status int, w http.ResponseWriter) {
	a.Cookies.SetSession(w, session.Token, session.ExpiresAt)
	body := map[string]any{
		"user": userSummary(session.User),
	}
	if a.TokenInBody {
		body["token"] = session.Token
		body["expires_at"] = session.ExpiresAt.UTC()
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, body)
}

// handleError renders errors using the configured handler or default JSON
func (a *LocalAuth) handleError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if err.Kind == KindUpstream {
		a.logger().Error("auth request failed", "path", r.URL.Path, "code", err.Code, "error", err.Err)
	}
	if a.OnError != nil && a.OnError(err, w, r) {
		return
	}
	writeError(w, err, 0)
}
