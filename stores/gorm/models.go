//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ac "github.com/panyam/authcore"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID                string    `gorm:"primaryKey;size:64"`
	Name              string    `gorm:"size:255"`
	Email             string    `gorm:"size:320;uniqueIndex"`
	PasswordHash      string    `gorm:"size:255"`
	Role              string    `gorm:"size:32;default:user"`
	GoogleSub         *string   `gorm:"size:255;uniqueIndex"` // NULL until linked
	EmailVerified     bool      `gorm:"default:false"`
	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ac.User {
	u := &ac.User{
		ID:                m.ID,
		Name:              m.Name,
		Email:             m.Email,
		PasswordHash:      m.PasswordHash,
		Role:              m.Role,
		EmailVerified:     m.EmailVerified,
		PasswordChangedAt: m.PasswordChangedAt.UTC(),
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
	if m.GoogleSub != nil {
		u.GoogleSub = *m.GoogleSub
	}
	return u
}

func UserToModel(u *ac.User) *UserModel {
	m := &UserModel{
		ID:                u.ID,
		Name:              u.Name,
		Email:             ac.NormalizeEmail(u.Email),
		PasswordHash:      u.PasswordHash,
		Role:              u.Role,
		EmailVerified:     u.EmailVerified,
		PasswordChangedAt: u.PasswordChangedAt,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
	if u.GoogleSub != "" {
		sub := u.GoogleSub
		m.GoogleSub = &sub
	}
	return m
}

// PendingRegistrationModel is the GORM model for pending registrations
type PendingRegistrationModel struct {
	Email        string `gorm:"primaryKey;size:320"`
	Name         string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255"`
	CodeHash     string `gorm:"size:255"`
	ExpiresAt    time.Time
	Attempts     int `gorm:"default:0"`
	ConsumedAt   *time.Time
	CreatedAt    time.Time
}

func (PendingRegistrationModel) TableName() string {
	return "pending_registrations"
}

func (m *PendingRegistrationModel) ToPendingRegistration() *ac.PendingRegistration {
	p := &ac.PendingRegistration{
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		CodeHash:     m.CodeHash,
		ExpiresAt:    m.ExpiresAt.UTC(),
		Attempts:     m.Attempts,
		CreatedAt:    m.CreatedAt.UTC(),
	}
	if m.ConsumedAt != nil {
		at := m.ConsumedAt.UTC()
		p.ConsumedAt = &at
	}
	return p
}

func PendingRegistrationToModel(p *ac.PendingRegistration) *PendingRegistrationModel {
	return &PendingRegistrationModel{
		Email:        ac.NormalizeEmail(p.Email),
		Name:         p.Name,
		PasswordHash: p.PasswordHash,
		CodeHash:     p.CodeHash,
		ExpiresAt:    p.ExpiresAt,
		Attempts:     p.Attempts,
		ConsumedAt:   p.ConsumedAt,
		CreatedAt:    p.CreatedAt,
	}
}

// OTPRecordModel is the GORM model for one-time passcodes
type OTPRecordModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"size:64;index:idx_otp_user_purpose"`
	Purpose    string `gorm:"size:16;index:idx_otp_user_purpose"`
	CodeHash   string `gorm:"size:255"`
	ExpiresAt  time.Time
	Attempts   int `gorm:"default:0"`
	ConsumedAt *time.Time
	CreatedAt  time.Time `gorm:"index"`
}

func (OTPRecordModel) TableName() string {
	return "otp_records"
}

func (m *OTPRecordModel) ToOTPRecord() *ac.OTPRecord {
	r := &ac.OTPRecord{
		ID:        m.ID,
		UserID:    m.UserID,
		Purpose:   ac.OTPPurpose(m.Purpose),
		CodeHash:  m.CodeHash,
		ExpiresAt: m.ExpiresAt.UTC(),
		Attempts:  m.Attempts,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.ConsumedAt != nil {
		at := m.ConsumedAt.UTC()
		r.ConsumedAt = &at
	}
	return r
}

func OTPRecordToModel(r *ac.OTPRecord) *OTPRecordModel {
	return &OTPRecordModel{
		ID:         r.ID,
		UserID:     r.UserID,
		Purpose:    string(r.Purpose),
		CodeHash:   r.CodeHash,
		ExpiresAt:  r.ExpiresAt,
		Attempts:   r.Attempts,
		ConsumedAt: r.ConsumedAt,
		CreatedAt:  r.CreatedAt,
	}
}
