//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	ac "github.com/panyam/authcore"
)

// AutoMigrate runs database migrations for all authcore tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&PendingRegistrationModel{},
		&OTPRecordModel{},
	)
}

// Store implements ac.CredentialStore using GORM. Conditional updates are
// single UPDATE ... WHERE statements whose affected row count decides the
// winner; uniqueness comes from the unique indexes on email and google_sub.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") || // postgres
		strings.Contains(msg, "SQLSTATE 23505")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ac.ErrNotFound
	}
	return err
}

// =============================================================================
// UserStore
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, user *ac.User) error {
	if err := s.db.WithContext(ctx).Create(UserToModel(user)).Error; err != nil {
		if isDuplicateKey(err) {
			return ac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*ac.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*ac.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ac.User, error) {
	return s.getUser(ctx, "email = ?", ac.NormalizeEmail(email))
}

func (s *Store) GetUserByGoogleSub(ctx context.Context, sub string) (*ac.User, error) {
	return s.getUser(ctx, "google_sub = ?", sub)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":       passwordHash,
			"password_changed_at": changedAt,
			"updated_at":          changedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ac.ErrNotFound
	}
	return nil
}

func (s *Store) LinkGoogleSubject(ctx context.Context, userID, sub string) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ? AND google_sub IS NULL", userID).
		Updates(map[string]any{
			"google_sub":     sub,
			"email_verified": true,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return ac.ErrConflict
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return ac.ErrConflict
	}
	return nil
}

// =============================================================================
// PendingStore
// =============================================================================

func (s *Store) GetPendingRegistration(ctx context.Context, email string) (*ac.PendingRegistration, error) {
	var model PendingRegistrationModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", ac.NormalizeEmail(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToPendingRegistration(), nil
}

func (s *Store) SavePendingRegistration(ctx context.Context, pending *ac.PendingRegistration) error {
	return s.db.WithContext(ctx).Save(PendingRegistrationToModel(pending)).Error
}

func (s *Store) IncrementPendingAttempts(ctx context.Context, email string) (int, error) {
	email = ac.NormalizeEmail(email)
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PendingRegistrationModel{}).
			Where("email = ?", email).
			Update("attempts", gorm.Expr("attempts + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ac.ErrNotFound
		}
		var model PendingRegistrationModel
		if err := tx.Select("attempts").First(&model, "email = ?", email).Error; err != nil {
			return notFound(err)
		}
		attempts = model.Attempts
		return nil
	})
	return attempts, err
}

func (s *Store) ConsumePendingRegistration(ctx context.Context, email string, at time.Time) error {
	email = ac.NormalizeEmail(email)
	result := s.db.WithContext(ctx).Model(&PendingRegistrationModel{}).
		Where("email = ? AND consumed_at IS NULL", email).
		Update("consumed_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetPendingRegistration(ctx, email); err != nil {
			return err
		}
		return ac.ErrAlreadyConsumed
	}
	return nil
}

// =============================================================================
// OTPStore
// =============================================================================

func (s *Store) CreateOTP(ctx context.Context, record *ac.OTPRecord) error {
	if err := s.db.WithContext(ctx).Create(OTPRecordToModel(record)).Error; err != nil {
		return fmt.Errorf("creating otp record: %w", err)
	}
	return nil
}

func (s *Store) LatestOTP(ctx context.Context, userID string, purpose ac.OTPPurpose) (*ac.OTPRecord, error) {
	var model OTPRecordModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ? AND consumed_at IS NULL", userID, string(purpose)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return model.ToOTPRecord(), nil
}

func (s *Store) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OTPRecordModel{}).
			Where("id = ?", id).
			Update("attempts", gorm.Expr("attempts + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ac.ErrNotFound
		}
		var model OTPRecordModel
		if err := tx.Select("attempts").First(&model, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		attempts = model.Attempts
		return nil
	})
	return attempts, err
}

func (s *Store) ConsumeOTP(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&OTPRecordModel{}).
		Where("id = ? AND consumed_at IS NULL", id).
		Update("consumed_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&OTPRecordModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ac.ErrNotFound
		}
		return ac.ErrAlreadyConsumed
	}
	return nil
}

// =============================================================================
// Opening
// =============================================================================

// Open connects with the named dialector and migrates the schema.
// driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return db, nil
}
