package authcore

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords and OTP codes
type Hasher interface {
	Hash(secret string) (string, error)

	// Verify reports whether secret matches digest. A malformed digest is a
	// mismatch, never an error.
	Verify(secret, digest string) bool
}

// BcryptHasher is the default Hasher
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(digest), nil
}

func (h BcryptHasher) Verify(secret, digest string) bool {
	if digest == "" || digest == OAuthOnlyPassword {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}
