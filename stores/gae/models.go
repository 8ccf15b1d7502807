//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ac "github.com/panyam/authcore"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	Name              string         `datastore:"name,noindex"`
	Email             string         `datastore:"email"`
	PasswordHash      string         `datastore:"password_hash,noindex"`
	Role              string         `datastore:"role"`
	GoogleSub         string         `datastore:"google_sub"`
	EmailVerified     bool           `datastore:"email_verified"`
	PasswordChangedAt time.Time      `datastore:"password_changed_at,noindex"`
	CreatedAt         time.Time      `datastore:"created_at"`
	UpdatedAt         time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *ac.User {
	return &ac.User{
		ID:                e.Key.Name,
		Name:              e.Name,
		Email:             e.Email,
		PasswordHash:      e.PasswordHash,
		Role:              e.Role,
		GoogleSub:         e.GoogleSub,
		EmailVerified:     e.EmailVerified,
		PasswordChangedAt: e.PasswordChangedAt.UTC(),
		CreatedAt:         e.CreatedAt.UTC(),
		UpdatedAt:         e.UpdatedAt.UTC(),
	}
}

func UserToEntity(u *ac.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:               key,
		Name:              u.Name,
		Email:             ac.NormalizeEmail(u.Email),
		PasswordHash:      u.PasswordHash,
		Role:              u.Role,
		GoogleSub:         u.GoogleSub,
		EmailVerified:     u.EmailVerified,
		PasswordChangedAt: u.PasswordChangedAt,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

// UniqueEntity claims a unique value (an email or a google subject) for a
// user. Its key name is the value itself.
type UniqueEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	UserID string         `datastore:"user_id"`
}

// PendingRegistrationEntity is the Datastore entity for pending registrations.
// Key name is the email.
type PendingRegistrationEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Name         string         `datastore:"name,noindex"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	CodeHash     string         `datastore:"code_hash,noindex"`
	ExpiresAt    time.Time      `datastore:"expires_at"`
	Attempts     int            `datastore:"attempts,noindex"`
	Consumed     bool           `datastore:"consumed"`
	ConsumedAt   time.Time      `datastore:"consumed_at,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
}

func (e *PendingRegistrationEntity) ToPendingRegistration() *ac.PendingRegistration {
	p := &ac.PendingRegistration{
		Email:        e.Key.Name,
		Name:         e.Name,
		PasswordHash: e.PasswordHash,
		CodeHash:     e.CodeHash,
		ExpiresAt:    e.ExpiresAt.UTC(),
		Attempts:     e.Attempts,
		CreatedAt:    e.CreatedAt.UTC(),
	}
	if e.Consumed {
		at := e.ConsumedAt.UTC()
		p.ConsumedAt = &at
	}
	return p
}

func PendingRegistrationToEntity(p *ac.PendingRegistration, key *datastore.Key) *PendingRegistrationEntity {
	e := &PendingRegistrationEntity{
		Key:          key,
		Name:         p.Name,
		PasswordHash: p.PasswordHash,
		CodeHash:     p.CodeHash,
		ExpiresAt:    p.ExpiresAt,
		Attempts:     p.Attempts,
		CreatedAt:    p.CreatedAt,
	}
	if p.ConsumedAt != nil {
		e.Consumed = true
		e.ConsumedAt = *p.ConsumedAt
	}
	return e
}

// OTPRecordEntity is the Datastore entity for one-time passcodes
type OTPRecordEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	UserID     string         `datastore:"user_id"`
	Purpose    string         `datastore:"purpose"`
	CodeHash   string         `datastore:"code_hash,noindex"`
	ExpiresAt  time.Time      `datastore:"expires_at"`
	Attempts   int            `datastore:"attempts,noindex"`
	Consumed   bool           `datastore:"consumed"`
	ConsumedAt time.Time      `datastore:"consumed_at,noindex"`
	CreatedAt  time.Time      `datastore:"created_at"`
}

func (e *OTPRecordEntity) ToOTPRecord() *ac.OTPRecord {
	r := &ac.OTPRecord{
		ID:        e.Key.Name,
		UserID:    e.UserID,
		Purpose:   ac.OTPPurpose(e.Purpose),
		CodeHash:  e.CodeHash,
		ExpiresAt: e.ExpiresAt.UTC(),
		Attempts:  e.Attempts,
		CreatedAt: e.CreatedAt.UTC(),
	}
	if e.Consumed {
		at := e.ConsumedAt.UTC()
		r.ConsumedAt = &at
	}
	return r
}

func OTPRecordToEntity(r *ac.OTPRecord, key *datastore.Key) *OTPRecordEntity {
	e := &OTPRecordEntity{
		Key:       key,
		UserID:    r.UserID,
		Purpose:   string(r.Purpose),
		CodeHash:  r.CodeHash,
		ExpiresAt: r.ExpiresAt,
		Attempts:  r.Attempts,
		CreatedAt: r.CreatedAt,
	}
	if r.ConsumedAt != nil {
		e.Consumed = true
		e.ConsumedAt = *r.ConsumedAt
	}
	return e
}
