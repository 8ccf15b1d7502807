package oauth2

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	ac "github.com/panyam/authcore"
)

var (
	ErrWrongIssuer     = errors.New("id token issuer is not google")
	ErrNonceMismatch   = errors.New("id token nonce does not match")
	ErrEmailUnverified = errors.New("google email is not verified")
	ErrMissingClaims   = errors.New("id token has no subject or email")
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// IdentityVerifier checks a provider ID token and returns the identity it asserts
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken, nonce string) (ac.GoogleIdentity, error)
}

// GoogleVerifier validates Google ID tokens against Google's published keys
type GoogleVerifier struct {
	ClientID  string
	validator *idtoken.Validator
}

// NewGoogleVerifier creates a verifier for tokens minted for clientID
func NewGoogleVerifier(ctx context.Context, clientID string, opts ...option.ClientOption) (*GoogleVerifier, error) {
	validator, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating id token validator: %w", err)
	}
	return &GoogleVerifier{ClientID: clientID, validator: validator}, nil
}

// Verify checks signature, expiry and audience, then issuer, nonce and
// email verification
func (v *GoogleVerifier) Verify(ctx context.Context, rawIDToken, nonce string) (ac.GoogleIdentity, error) {
	payload, err := v.validator.Validate(ctx, rawIDToken, v.ClientID)
	if err != nil {
		return ac.GoogleIdentity{}, err
	}
	return identityFromPayload(payload, nonce)
}

func identityFromPayload(payload *idtoken.Payload, nonce string) (ac.GoogleIdentity, error) {
	var identity ac.GoogleIdentity
	if !isGoogleIssuer(payload.Issuer) {
		return identity, ErrWrongIssuer
	}
	if nonce == "" || claimString(payload.Claims, "nonce") != nonce {
		return identity, ErrNonceMismatch
	}
	if !claimBool(payload.Claims, "email_verified") {
		return identity, ErrEmailUnverified
	}
	identity = ac.GoogleIdentity{
		Subject: payload.Subject,
		Email:   ac.NormalizeEmail(claimString(payload.Claims, "email")),
		Name:    claimString(payload.Claims, "name"),
	}
	if identity.Subject == "" || identity.Email == "" {
		return ac.GoogleIdentity{}, ErrMissingClaims
	}
	return identity, nil
}

func isGoogleIssuer(iss string) bool {
	for _, g := range googleIssuers {
		if iss == g {
			return true
		}
	}
	return false
}

func claimString(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// claimBool accepts both JSON booleans and the "true" string some tokens carry
func claimBool(claims map[string]any, name string) bool {
	switch v := claims[name].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
