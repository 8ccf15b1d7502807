// Package redis keeps pending registrations and OTP records in Redis.
//
// Users stay in a durable store; compose the two with ac.SplitStore:
//
//	store := ac.SplitStore{UserStore: users, PendingStore: rs, OTPStore: rs}
//
// Records expire from Redis a Retention period after their own ExpiresAt so a
// consumed registration is still visible to a late verifier.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	ac "github.com/panyam/authcore"
)

// DefaultRetention is how long records outlive their expiry
const DefaultRetention = 24 * time.Hour

const maxRetries = 4

// ErrBackend wraps redis failures
var ErrBackend = errors.New("otp store backend unavailable")

// Store implements ac.PendingStore and ac.OTPStore.
//
// Attempt counters and consumption are read-modify-write under WATCH, retried
// on contention, so two verifiers never both consume a record.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	Retention time.Duration
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "authcore"
	}
	return &Store{redis: client, prefix: prefix, Retention: DefaultRetention}
}

func (s *Store) pendingKey(email string) string {
	return s.prefix + ":pending:" + ac.NormalizeEmail(email)
}

func (s *Store) otpKey(id string) string {
	return s.prefix + ":otp:" + id
}

// otpIndexKey is a sorted set of record ids scored by creation time
func (s *Store) otpIndexKey(userID string, purpose ac.OTPPurpose) string {
	return s.prefix + ":otp-index:" + userID + ":" + string(purpose)
}

func (s *Store) ttl(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.Retention
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func backendErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return ac.ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

// update applies fn to the stored JSON value of key under WATCH, keeping its TTL
func (s *Store) update(ctx context.Context, key string, fn func(data []byte) ([]byte, error)) error {
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			updated, err := fn(data)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ac.ErrAlreadyConsumed) {
				return err
			}
			return backendErr(err)
		}
		return nil
	}
	return fmt.Errorf("%w: too much contention on %s", ErrBackend, key)
}

// =============================================================================
// PendingStore
// =============================================================================

func (s *Store) GetPendingRegistration(ctx context.Context, email string) (*ac.PendingRegistration, error) {
	data, err := s.redis.Get(ctx, s.pendingKey(email)).Bytes()
	if err != nil {
		return nil, backendErr(err)
	}
	var pending ac.PendingRegistration
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (s *Store) SavePendingRegistration(ctx context.Context, pending *ac.PendingRegistration) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.pendingKey(pending.Email), data, s.ttl(pending.ExpiresAt)).Err(); err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Store) IncrementPendingAttempts(ctx context.Context, email string) (int, error) {
	var attempts int
	err := s.update(ctx, s.pendingKey(email), func(data []byte) ([]byte, error) {
		var pending ac.PendingRegistration
		if err := json.Unmarshal(data, &pending); err != nil {
			return nil, err
		}
		pending.Attempts++
		attempts = pending.Attempts
		return json.Marshal(&pending)
	})
	return attempts, err
}

func (s *Store) ConsumePendingRegistration(ctx context.Context, email string, at time.Time) error {
	return s.update(ctx, s.pendingKey(email), func(data []byte) ([]byte, error) {
		var pending ac.PendingRegistration
		if err := json.Unmarshal(data, &pending); err != nil {
			return nil, err
		}
		if pending.ConsumedAt != nil {
			return nil, ac.ErrAlreadyConsumed
		}
		pending.ConsumedAt = &at
		return json.Marshal(&pending)
	})
}

// =============================================================================
// OTPStore
// =============================================================================

func (s *Store) CreateOTP(ctx context.Context, record *ac.OTPRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	indexKey := s.otpIndexKey(record.UserID, record.Purpose)
	ttl := s.ttl(record.ExpiresAt)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.otpKey(record.ID), data, ttl)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(record.CreatedAt.UnixMicro()), Member: record.ID})
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Store) getOTP(ctx context.Context, id string) (*ac.OTPRecord, error) {
	data, err := s.redis.Get(ctx, s.otpKey(id)).Bytes()
	if err != nil {
		return nil, backendErr(err)
	}
	var record ac.OTPRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) LatestOTP(ctx context.Context, userID string, purpose ac.OTPPurpose) (*ac.OTPRecord, error) {
	ids, err := s.redis.ZRevRange(ctx, s.otpIndexKey(userID, purpose), 0, -1).Result()
	if err != nil {
		return nil, backendErr(err)
	}
	for _, id := range ids {
		record, err := s.getOTP(ctx, id)
		if errors.Is(err, ac.ErrNotFound) {
			// expired out of redis, index entry is stale
			continue
		} else if err != nil {
			return nil, err
		}
		if record.ConsumedAt == nil {
			return record, nil
		}
	}
	return nil, ac.ErrNotFound
}

func (s *Store) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.update(ctx, s.otpKey(id), func(data []byte) ([]byte, error) {
		var record ac.OTPRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		record.Attempts++
		attempts = record.Attempts
		return json.Marshal(&record)
	})
	return attempts, err
}

func (s *Store) ConsumeOTP(ctx context.Context, id string, at time.Time) error {
	var record ac.OTPRecord
	err := s.update(ctx, s.otpKey(id), func(data []byte) ([]byte, error) {
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		if record.ConsumedAt != nil {
			return nil, ac.ErrAlreadyConsumed
		}
		record.ConsumedAt = &at
		return json.Marshal(&record)
	})
	if err != nil {
		return err
	}
	// Index cleanup is best effort; LatestOTP skips consumed records anyway
	s.redis.ZRem(ctx, s.otpIndexKey(record.UserID, record.Purpose), id)
	return nil
}

