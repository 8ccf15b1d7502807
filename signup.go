package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var errPromotionLost = errors.New("pending registration promoted by another request")

// Register starts a registration. No user is created until the emailed code
// is verified.
func (a *LocalAuth) Register(ctx context.Context, creds Credentials) error {
	if err := a.Policy.ValidateRegistration(&creds); err != nil {
		return err
	}

	if _, err := a.Store.GetUserByEmail(ctx, creds.Email); err == nil {
		return ConflictError(ErrCodeEmailExists, "Email is already registered", "email")
	} else if !errors.Is(err, ErrNotFound) {
		return UpstreamError(ErrCodeStoreFailed, "Could not check email", err)
	}

	now := a.now()
	existing, err := a.Store.GetPendingRegistration(ctx, creds.Email)
	if err == nil && existing.IsActive(now) {
		return ConflictError(ErrCodeEmailExists, "A registration for this email is pending verification", "email")
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return UpstreamError(ErrCodeStoreFailed, "Could not check pending registration", err)
	}

	passwordHash, err := a.Hasher.Hash(creds.Password)
	if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not hash password", err)
	}
	code, codeHash, err := a.OTP.newCode()
	if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not issue code", err)
	}
	pending := &PendingRegistration{
		Email:        creds.Email,
		Name:         creds.Name,
		PasswordHash: passwordHash,
		CodeHash:     codeHash,
		ExpiresAt:    storeTime(now.Add(a.otpTTL())),
		CreatedAt:    storeTime(now),
	}
	if err := a.Store.SavePendingRegistration(ctx, pending); err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not save registration", err)
	}
	return a.sendRegistrationCode(ctx, pending, code)
}

// ResendRegistration replaces the code of a pending registration with a fresh
// one, resetting its expiry and attempt budget.
func (a *LocalAuth) ResendRegistration(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	pending, err := a.Store.GetPendingRegistration(ctx, email)
	if errors.Is(err, ErrNotFound) || (err == nil && pending.ConsumedAt != nil) {
		return ValidationError(ErrCodeNoPending, "No pending registration for this email", "email")
	} else if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not load registration", err)
	}

	code, codeHash, err := a.OTP.newCode()
	if err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not issue code", err)
	}
	pending.CodeHash = codeHash
	pending.ExpiresAt = storeTime(a.now().Add(a.otpTTL()))
	pending.Attempts = 0
	if err := a.Store.SavePendingRegistration(ctx, pending); err != nil {
		return UpstreamError(ErrCodeStoreFailed, "Could not save registration", err)
	}
	return a.sendRegistrationCode(ctx, pending, code)
}

// The pending record stays valid when sending fails so a resend can recover
func (a *LocalAuth) sendRegistrationCode(ctx context.Context, pending *PendingRegistration, code string) error {
	if err := a.Notifier.SendRegistrationCode(ctx, pending.Email, pending.Name, code, pending.ExpiresAt); err != nil {
		a.logger().Error("failed to send registration code", "email", pending.Email, "error", err)
		return UpstreamError(ErrCodeNotifyFailed, "Could not send code, request a new one", err)
	}
	return nil
}

// VerifyRegistration checks the code of a pending registration and promotes
// it to a user. Promotion happens at most once: the consume is conditional
// and the user insert relies on the unique email.
func (a *LocalAuth) VerifyRegistration(ctx context.Context, email, code string) (*Session, error) {
	email = NormalizeEmail(email)
	pending, err := a.Store.GetPendingRegistration(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, outcomeError(OutcomeInvalid)
	} else if err != nil {
		return nil, UpstreamError(ErrCodeStoreFailed, "Could not load registration", err)
	}
	if pending.ConsumedAt != nil {
		return nil, ConflictError(ErrCodeRegistrationRace, "Registration already completed", "email")
	}

	outcome, err := a.OTP.checkChallenge(challenge{
		expiresAt: pending.ExpiresAt,
		attempts:  pending.Attempts,
		codeHash:  pending.CodeHash,
		increment: func() (int, error) { return a.Store.IncrementPendingAttempts(ctx, email) },
		consume: func(at time.Time) error {
			err := a.Store.ConsumePendingRegistration(ctx, email, at)
			if errors.Is(err, ErrAlreadyConsumed) {
				return errPromotionLost
			}
			return err
		},
	}, code)
	if errors.Is(err, errPromotionLost) {
		return nil, ConflictError(ErrCodeRegistrationRace, "Registration already completed", "email")
	} else if err != nil {
		return nil, UpstreamError(ErrCodeStoreFailed, "Could not verify code", err)
	}
	if outcome != OutcomeOK {
		a.logger().Info("registration code rejected", "email", email, "outcome", outcome)
		return nil, outcomeError(outcome)
	}

	user := newUser(pending.Name, pending.Email, pending.PasswordHash, a.now())
	user.EmailVerified = true
	if err := a.Store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ConflictError(ErrCodeRegistrationRace, "Email is already registered", "email")
		}
		return nil, UpstreamError(ErrCodeStoreFailed, "Could not create user", fmt.Errorf("promoting %s: %w", email, err))
	}
	a.logger().Info("registered user", "user_id", user.ID)
	return a.issueSession(user)
}

// HandleRegister handles POST /register
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "name", "email", "password")
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	creds := Credentials{Name: fields["name"], Email: fields["email"], Password: fields["password"]}
	if err := a.Register(r.Context(), creds); err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "OTP sent",
	})
}

// HandleVerifyRegistration handles POST /register/verify
func (a *LocalAuth) HandleVerifyRegistration(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "email", "otp")
	if authErr == nil {
		authErr = requireFields(fields, "email", "otp")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	session, err := a.VerifyRegistration(r.Context(), fields["email"], fields["otp"])
	if err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	a.completeSession(session, http.StatusCreated, w)
}

// HandleResendRegistration handles POST /register/resend
func (a *LocalAuth) HandleResendRegistration(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "email")
	if authErr == nil {
		authErr = requireFields(fields, "email")
	}
	if authErr != nil {
		a.handleError(authErr, w, r)
		return
	}
	if err := a.ResendRegistration(r.Context(), fields["email"]); err != nil {
		a.handleError(AsAuthError(err), w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "OTP sent",
	})
}
