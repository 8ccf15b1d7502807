package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// OTPDigits is the width of generated codes
const OTPDigits = 6

var otpModulus = big.NewInt(1_000_000)

// Outcome is the result of checking a candidate code. Failures are values,
// not errors: an error from VerifyAndConsume always means the store failed.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeInvalid         Outcome = "invalid"
	OutcomeExpired         Outcome = "expired"
	OutcomeTooManyAttempts Outcome = "too_many_attempts"
)

// GenerateOTP returns a uniformly random zero padded 6 digit code
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpModulus)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// OTPEngine issues and verifies one-time passcodes.
//
// Codes are only ever persisted hashed. Each record allows MaxAttempts
// comparisons and can be consumed once; consumption goes through the store's
// conditional update so concurrent verifications yield one winner.
type OTPEngine struct {
	Store       OTPStore
	Hasher      Hasher
	MaxAttempts int

	// Now defaults to time.Now
	Now func() time.Time
}

func (e *OTPEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *OTPEngine) maxAttempts() int {
	if e.MaxAttempts <= 0 {
		return DefaultOTPMaxAttempts
	}
	return e.MaxAttempts
}

// Issue creates a new record for the pair and returns the plaintext code for
// dispatch. The code is not logged.
func (e *OTPEngine) Issue(ctx context.Context, userID string, purpose OTPPurpose, ttl time.Duration) (string, error) {
	code, codeHash, err := e.newCode()
	if err != nil {
		return "", err
	}
	now := e.now()
	record := &OTPRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  codeHash,
		ExpiresAt: storeTime(now.Add(ttl)),
		CreatedAt: storeTime(now),
	}
	if err := e.Store.CreateOTP(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store otp: %w", err)
	}
	return code, nil
}

// VerifyAndConsume checks candidate against the latest unconsumed record for
// the pair and consumes it on a match.
func (e *OTPEngine) VerifyAndConsume(ctx context.Context, userID string, purpose OTPPurpose, candidate string) (Outcome, error) {
	record, err := e.Store.LatestOTP(ctx, userID, purpose)
	if errors.Is(err, ErrNotFound) {
		return OutcomeInvalid, nil
	} else if err != nil {
		return "", fmt.Errorf("failed to load otp: %w", err)
	}
	return e.checkChallenge(challenge{
		expiresAt: record.ExpiresAt,
		attempts:  record.Attempts,
		codeHash:  record.CodeHash,
		increment: func() (int, error) { return e.Store.IncrementOTPAttempts(ctx, record.ID) },
		consume:   func(at time.Time) error { return e.Store.ConsumeOTP(ctx, record.ID, at) },
	}, candidate)
}

// challenge is the part of an OTP or pending registration record the check
// needs, plus the store operations that mutate it.
type challenge struct {
	expiresAt time.Time
	attempts  int
	codeHash  string
	increment func() (int, error)
	consume   func(at time.Time) error
}

func (e *OTPEngine) checkChallenge(c challenge, candidate string) (Outcome, error) {
	now := e.now()
	if now.After(c.expiresAt) {
		return OutcomeExpired, nil
	}
	limit := e.maxAttempts()
	if c.attempts >= limit {
		return OutcomeTooManyAttempts, nil
	}

	// Counted before comparing, on match and mismatch alike
	attempts, err := c.increment()
	if errors.Is(err, ErrNotFound) {
		return OutcomeInvalid, nil
	} else if err != nil {
		return "", fmt.Errorf("failed to count attempt: %w", err)
	}
	// A concurrent caller used up the budget between our read and increment
	if attempts > limit {
		return OutcomeTooManyAttempts, nil
	}

	if !e.Hasher.Verify(candidate, c.codeHash) {
		return OutcomeInvalid, nil
	}

	if err := c.consume(now); err != nil {
		if errors.Is(err, ErrAlreadyConsumed) || errors.Is(err, ErrNotFound) {
			return OutcomeInvalid, nil
		}
		return "", fmt.Errorf("failed to consume otp: %w", err)
	}
	return OutcomeOK, nil
}

// newCode returns a fresh code and its digest
func (e *OTPEngine) newCode() (code, codeHash string, err error) {
	code, err = GenerateOTP()
	if err != nil {
		return "", "", err
	}
	codeHash, err = e.Hasher.Hash(code)
	if err != nil {
		return "", "", err
	}
	return code, codeHash, nil
}
