//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ac "github.com/panyam/authcore"
)

// Kind constants for Datastore entities
const (
	KindUser                = "User"
	KindUserEmail           = "UserEmail"
	KindUserGoogleSub       = "UserGoogleSub"
	KindPendingRegistration = "PendingRegistration"
	KindOTPRecord           = "OTPRecord"
)

// Store implements ac.CredentialStore using Google Cloud Datastore.
//
// Uniqueness of email and google subject is enforced with claim entities
// (UserEmail, UserGoogleSub) written in the same transaction as the user.
// Conditional updates run as read-check-write transactions.
type Store struct {
	client    *datastore.Client
	namespace string
}

// NewStore creates a new Datastore-backed store
func NewStore(client *datastore.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func notFound(err error) error {
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return ac.ErrNotFound
	}
	return err
}

// exists reports whether key is present inside tx
func exists(tx *datastore.Transaction, key *datastore.Key) (bool, error) {
	var claim UniqueEntity
	err := tx.Get(key, &claim)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	return err == nil, err
}

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *ac.User) error {
	userKey := s.namespacedKey(KindUser, user.ID)
	emailKey := s.namespacedKey(KindUserEmail, ac.NormalizeEmail(user.Email))
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		keys := []*datastore.Key{userKey, emailKey}
		if user.GoogleSub != "" {
			keys = append(keys, s.namespacedKey(KindUserGoogleSub, user.GoogleSub))
		}
		var existing UserEntity
		if err := tx.Get(userKey, &existing); err == nil {
			return ac.ErrConflict
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		for _, key := range keys[1:] {
			taken, err := exists(tx, key)
			if err != nil {
				return err
			}
			if taken {
				return ac.ErrConflict
			}
		}
		if _, err := tx.Put(userKey, UserToEntity(user, userKey)); err != nil {
			return err
		}
		for _, key := range keys[1:] {
			if _, err := tx.Put(key, &UniqueEntity{Key: key, UserID: user.ID}); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*ac.User, error) {
	key := s.namespacedKey(KindUser, id)
	var entity UserEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToUser(), nil
}

func (s *Store) getUserByClaim(ctx context.Context, kind, value string) (*ac.User, error) {
	var claim UniqueEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, value), &claim); err != nil {
		return nil, notFound(err)
	}
	return s.GetUserByID(ctx, claim.UserID)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ac.User, error) {
	return s.getUserByClaim(ctx, KindUserEmail, ac.NormalizeEmail(email))
}

func (s *Store) GetUserByGoogleSub(ctx context.Context, sub string) (*ac.User, error) {
	return s.getUserByClaim(ctx, KindUserGoogleSub, sub)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	key := s.namespacedKey(KindUser, userID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		entity.PasswordHash = passwordHash
		entity.PasswordChangedAt = changedAt
		entity.UpdatedAt = changedAt
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

func (s *Store) LinkGoogleSubject(ctx context.Context, userID, sub string) error {
	userKey := s.namespacedKey(KindUser, userID)
	subKey := s.namespacedKey(KindUserGoogleSub, sub)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(userKey, &entity); err != nil {
			return notFound(err)
		}
		if entity.GoogleSub != "" {
			return ac.ErrConflict
		}
		taken, err := exists(tx, subKey)
		if err != nil {
			return err
		}
		if taken {
			return ac.ErrConflict
		}
		entity.GoogleSub = sub
		entity.EmailVerified = true
		entity.UpdatedAt = time.Now().UTC()
		if _, err := tx.Put(userKey, &entity); err != nil {
			return err
		}
		_, err = tx.Put(subKey, &UniqueEntity{Key: subKey, UserID: userID})
		return err
	})
	return err
}

// ============================================================================
// PendingStore
// ============================================================================

func (s *Store) GetPendingRegistration(ctx context.Context, email string) (*ac.PendingRegistration, error) {
	key := s.namespacedKey(KindPendingRegistration, ac.NormalizeEmail(email))
	var entity PendingRegistrationEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToPendingRegistration(), nil
}

func (s *Store) SavePendingRegistration(ctx context.Context, pending *ac.PendingRegistration) error {
	key := s.namespacedKey(KindPendingRegistration, ac.NormalizeEmail(pending.Email))
	_, err := s.client.Put(ctx, key, PendingRegistrationToEntity(pending, key))
	return err
}

func (s *Store) IncrementPendingAttempts(ctx context.Context, email string) (int, error) {
	key := s.namespacedKey(KindPendingRegistration, ac.NormalizeEmail(email))
	var attempts int
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity PendingRegistrationEntity
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		entity.Attempts++
		attempts = entity.Attempts
		_, err := tx.Put(key, &entity)
		return err
	})
	return attempts, err
}

func (s *Store) ConsumePendingRegistration(ctx context.Context, email string, at time.Time) error {
	key := s.namespacedKey(KindPendingRegistration, ac.NormalizeEmail(email))
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity PendingRegistrationEntity
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		if entity.Consumed {
			return ac.ErrAlreadyConsumed
		}
		entity.Consumed = true
		entity.ConsumedAt = at
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

// ============================================================================
// OTPStore
// ============================================================================

func (s *Store) CreateOTP(ctx context.Context, record *ac.OTPRecord) error {
	key := s.namespacedKey(KindOTPRecord, record.ID)
	_, err := s.client.Put(ctx, key, OTPRecordToEntity(record, key))
	return err
}

// LatestOTP only uses equality filters so it needs no composite index. The
// newest unconsumed record is picked client side.
func (s *Store) LatestOTP(ctx context.Context, userID string, purpose ac.OTPPurpose) (*ac.OTPRecord, error) {
	query := datastore.NewQuery(KindOTPRecord).
		Namespace(s.namespace).
		FilterField("user_id", "=", userID).
		FilterField("purpose", "=", string(purpose)).
		FilterField("consumed", "=", false)

	var latest *OTPRecordEntity
	it := s.client.Run(ctx, query)
	for {
		var entity OTPRecordEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if latest == nil || entity.CreatedAt.After(latest.CreatedAt) {
			e := entity
			latest = &e
		}
	}
	if latest == nil {
		return nil, ac.ErrNotFound
	}
	return latest.ToOTPRecord(), nil
}

func (s *Store) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	key := s.namespacedKey(KindOTPRecord, id)
	var attempts int
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity OTPRecordEntity
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		entity.Attempts++
		attempts = entity.Attempts
		_, err := tx.Put(key, &entity)
		return err
	})
	return attempts, err
}

func (s *Store) ConsumeOTP(ctx context.Context, id string, at time.Time) error {
	key := s.namespacedKey(KindOTPRecord, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity OTPRecordEntity
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		if entity.Consumed {
			return ac.ErrAlreadyConsumed
		}
		entity.Consumed = true
		entity.ConsumedAt = at
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}
