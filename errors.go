package authcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an AuthError and decides its HTTP status
type ErrorKind int

const (
	KindValidation     ErrorKind = iota // missing or malformed input
	KindAuthentication                  // bad credential, OTP or token
	KindRateLimited                     // too many OTP attempts
	KindConflict                        // duplicate registration, linked account collision
	KindUpstream                        // store, provider or notifier failure
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error codes returned in the "code" field of JSON error bodies
const (
	ErrCodeMissingField     = "missing_field"
	ErrCodeInvalidEmail     = "invalid_email"
	ErrCodeInvalidName      = "invalid_name"
	ErrCodeWeakPassword     = "weak_password"
	ErrCodeInvalidBody      = "invalid_body"
	ErrCodeEmailExists      = "email_exists"
	ErrCodeInvalidCreds     = "invalid_credentials"
	ErrCodeInvalidOTP       = "invalid_otp"
	ErrCodeExpiredOTP       = "expired_otp"
	ErrCodeTooManyAttempts  = "too_many_attempts"
	ErrCodeRegistrationRace = "registration_race"
	ErrCodeNoPending        = "no_pending_registration"
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeStaleSession     = "stale_session"
	ErrCodeNotifyFailed     = "notify_failed"
	ErrCodeStoreFailed      = "store_failed"
	ErrCodeProviderFailed   = "provider_failed"
	ErrCodeCSRFInvalid      = "csrf_invalid"
	ErrCodeForbidden        = "forbidden"
	ErrCodeAccountConflict  = "account_conflict"
)

// Store level sentinel errors. Store implementations wrap or return these so
// callers can use errors.Is regardless of the backend.
var (
	ErrNotFound        = errors.New("record not found")
	ErrConflict        = errors.New("record conflict")
	ErrAlreadyConsumed = errors.New("record already consumed")
)

// Token level sentinel errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrStaleSession = errors.New("session issued before last password change")
	ErrNoToken      = errors.New("no session token present")
	ErrWrongPurpose = errors.New("token issued for a different purpose")
)

// AuthError is the error type every handler in this package renders. Kind
// decides the status code, Code is a stable machine readable identifier and
// Field optionally names the offending input.
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StatusCode maps the error kind onto an HTTP status
func (e *AuthError) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		if e.Code == ErrCodeProviderFailed {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// NewAuthError creates a validation error for the given field
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Kind: KindValidation, Code: code, Message: message, Field: field}
}

func ValidationError(code, message, field string) *AuthError {
	return &AuthError{Kind: KindValidation, Code: code, Message: message, Field: field}
}

func AuthenticationError(code, message string) *AuthError {
	return &AuthError{Kind: KindAuthentication, Code: code, Message: message}
}

func RateLimitedError(message string) *AuthError {
	return &AuthError{Kind: KindRateLimited, Code: ErrCodeTooManyAttempts, Message: message}
}

func ConflictError(code, message, field string) *AuthError {
	return &AuthError{Kind: KindConflict, Code: code, Message: message, Field: field}
}

// UpstreamError wraps a failure of a collaborator (store, provider, notifier)
func UpstreamError(code, message string, err error) *AuthError {
	return &AuthError{Kind: KindUpstream, Code: code, Message: message, Err: err}
}

// AsAuthError converts any error into an AuthError. Errors that are not
// already AuthErrors are treated as store failures.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return UpstreamError(ErrCodeStoreFailed, "Internal error", err)
}

// outcomeError maps a failed OTP outcome to the error a handler reports
func outcomeError(outcome Outcome) *AuthError {
	switch outcome {
	case OutcomeExpired:
		return AuthenticationError(ErrCodeExpiredOTP, "Code has expired")
	case OutcomeTooManyAttempts:
		return RateLimitedError("Too many attempts, request a new code")
	default:
		return AuthenticationError(ErrCodeInvalidOTP, "Invalid code")
	}
}

// writeError renders err as the JSON error body. A zero status uses the
// status implied by the error kind.
func writeError(w http.ResponseWriter, err *AuthError, status int) {
	if status == 0 {
		status = err.StatusCode()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": err.Message,
		"code":  err.Code,
		"field": err.Field,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
