// Package storetest holds behaviour tests every authcore store backend must
// pass. Backends call the Run functions from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

// base is a store-precision timestamp near the present, so backends that
// expire records by wall clock keep them for the test
var base = time.Now().UTC().Truncate(time.Microsecond)

func newUser(email string) *ac.User {
	return &ac.User{
		ID:                uuid.NewString(),
		Name:              "Test User",
		Email:             email,
		PasswordHash:      "$2a$04$hash",
		Role:              ac.RoleUser,
		PasswordChangedAt: base,
		CreatedAt:         base,
		UpdatedAt:         base,
	}
}

// RunUserStoreTests checks uniqueness, lookups and the conditional link
func RunUserStoreTests(t *testing.T, newStore func(t *testing.T) ac.UserStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		user := newUser("alice@example.com")
		require.NoError(t, store.CreateUser(ctx, user))

		byID, err := store.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, byID.Email)
		assert.Equal(t, user.Role, byID.Role)
		assert.True(t, byID.PasswordChangedAt.Equal(base))

		byEmail, err := store.GetUserByEmail(ctx, "ALICE@example.com ")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)

		_, err = store.GetUserByID(ctx, "missing")
		assert.ErrorIs(t, err, ac.ErrNotFound)
		_, err = store.GetUserByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, ac.ErrNotFound)
		_, err = store.GetUserByGoogleSub(ctx, "missing")
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("UniqueEmail", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateUser(ctx, newUser("bob@example.com")))
		err := store.CreateUser(ctx, newUser("bob@example.com"))
		assert.ErrorIs(t, err, ac.ErrConflict)
	})

	t.Run("UniqueGoogleSub", func(t *testing.T) {
		store := newStore(t)
		first := newUser("g1@example.com")
		first.GoogleSub = "sub-1"
		require.NoError(t, store.CreateUser(ctx, first))

		second := newUser("g2@example.com")
		second.GoogleSub = "sub-1"
		assert.ErrorIs(t, store.CreateUser(ctx, second), ac.ErrConflict)

		found, err := store.GetUserByGoogleSub(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
	})

	t.Run("UpdatePassword", func(t *testing.T) {
		store := newStore(t)
		user := newUser("carol@example.com")
		require.NoError(t, store.CreateUser(ctx, user))

		changedAt := base.Add(time.Hour)
		require.NoError(t, store.UpdatePassword(ctx, user.ID, "new-hash", changedAt))
		got, err := store.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		assert.True(t, got.PasswordChangedAt.Equal(changedAt), "got %v", got.PasswordChangedAt)

		assert.ErrorIs(t, store.UpdatePassword(ctx, "missing", "x", changedAt), ac.ErrNotFound)
	})

	t.Run("LinkGoogleSubject", func(t *testing.T) {
		store := newStore(t)
		user := newUser("dave@example.com")
		require.NoError(t, store.CreateUser(ctx, user))

		require.NoError(t, store.LinkGoogleSubject(ctx, user.ID, "sub-2"))
		got, err := store.GetUserByGoogleSub(ctx, "sub-2")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.True(t, got.EmailVerified)

		// Already linked
		assert.ErrorIs(t, store.LinkGoogleSubject(ctx, user.ID, "sub-3"), ac.ErrConflict)

		// Subject owned by another user
		other := newUser("erin@example.com")
		require.NoError(t, store.CreateUser(ctx, other))
		assert.ErrorIs(t, store.LinkGoogleSubject(ctx, other.ID, "sub-2"), ac.ErrConflict)

		assert.ErrorIs(t, store.LinkGoogleSubject(ctx, "missing", "sub-4"), ac.ErrNotFound)
	})
}

// RunPendingStoreTests checks the pending registration lifecycle
func RunPendingStoreTests(t *testing.T, newStore func(t *testing.T) ac.PendingStore) {
	ctx := context.Background()

	newPending := func(email string) *ac.PendingRegistration {
		return &ac.PendingRegistration{
			Email:        email,
			Name:         "Pat",
			PasswordHash: "pw-hash",
			CodeHash:     "code-hash",
			ExpiresAt:    base.Add(10 * time.Minute),
			CreatedAt:    base,
		}
	}

	t.Run("SaveGetReplace", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetPendingRegistration(ctx, "pat@example.com")
		assert.ErrorIs(t, err, ac.ErrNotFound)

		require.NoError(t, store.SavePendingRegistration(ctx, newPending("pat@example.com")))
		got, err := store.GetPendingRegistration(ctx, "Pat@Example.com")
		require.NoError(t, err)
		assert.Equal(t, "Pat", got.Name)
		assert.Equal(t, "code-hash", got.CodeHash)
		assert.True(t, got.ExpiresAt.Equal(base.Add(10*time.Minute)))
		assert.Nil(t, got.ConsumedAt)

		replacement := newPending("pat@example.com")
		replacement.CodeHash = "new-code-hash"
		require.NoError(t, store.SavePendingRegistration(ctx, replacement))
		got, err = store.GetPendingRegistration(ctx, "pat@example.com")
		require.NoError(t, err)
		assert.Equal(t, "new-code-hash", got.CodeHash)
	})

	t.Run("Attempts", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SavePendingRegistration(ctx, newPending("quinn@example.com")))
		for want := 1; want <= 3; want++ {
			n, err := store.IncrementPendingAttempts(ctx, "quinn@example.com")
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		_, err := store.IncrementPendingAttempts(ctx, "missing@example.com")
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SavePendingRegistration(ctx, newPending("ray@example.com")))

		at := base.Add(time.Minute)
		require.NoError(t, store.ConsumePendingRegistration(ctx, "ray@example.com", at))
		assert.ErrorIs(t, store.ConsumePendingRegistration(ctx, "ray@example.com", at), ac.ErrAlreadyConsumed)

		got, err := store.GetPendingRegistration(ctx, "ray@example.com")
		require.NoError(t, err)
		require.NotNil(t, got.ConsumedAt)
		assert.True(t, got.ConsumedAt.Equal(at))

		assert.ErrorIs(t, store.ConsumePendingRegistration(ctx, "missing@example.com", at), ac.ErrNotFound)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SavePendingRegistration(ctx, newPending("sam@example.com")))
		assert.Equal(t, 1, race(8, func() error {
			return store.ConsumePendingRegistration(ctx, "sam@example.com", base)
		}))
	})
}

// RunOTPStoreTests checks OTP record selection, counting and consumption
func RunOTPStoreTests(t *testing.T, newStore func(t *testing.T) ac.OTPStore) {
	ctx := context.Background()

	newRecord := func(userID string, purpose ac.OTPPurpose, createdAt time.Time) *ac.OTPRecord {
		return &ac.OTPRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Purpose:   purpose,
			CodeHash:  "hash",
			ExpiresAt: createdAt.Add(10 * time.Minute),
			CreatedAt: createdAt,
		}
	}

	t.Run("LatestUnconsumed", func(t *testing.T) {
		store := newStore(t)
		_, err := store.LatestOTP(ctx, "u1", ac.PurposeLogin)
		assert.ErrorIs(t, err, ac.ErrNotFound)

		older := newRecord("u1", ac.PurposeLogin, base)
		newer := newRecord("u1", ac.PurposeLogin, base.Add(time.Second))
		reset := newRecord("u1", ac.PurposeReset, base.Add(2*time.Second))
		other := newRecord("u2", ac.PurposeLogin, base.Add(3*time.Second))
		for _, r := range []*ac.OTPRecord{newer, older, reset, other} {
			require.NoError(t, store.CreateOTP(ctx, r))
		}

		got, err := store.LatestOTP(ctx, "u1", ac.PurposeLogin)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
		assert.True(t, got.ExpiresAt.Equal(newer.ExpiresAt))

		// Consuming the newest exposes the older one
		require.NoError(t, store.ConsumeOTP(ctx, newer.ID, base))
		got, err = store.LatestOTP(ctx, "u1", ac.PurposeLogin)
		require.NoError(t, err)
		assert.Equal(t, older.ID, got.ID)
	})

	t.Run("Attempts", func(t *testing.T) {
		store := newStore(t)
		record := newRecord("u1", ac.PurposeReset, base)
		require.NoError(t, store.CreateOTP(ctx, record))
		for want := 1; want <= 3; want++ {
			n, err := store.IncrementOTPAttempts(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		got, err := store.LatestOTP(ctx, "u1", ac.PurposeReset)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Attempts)

		_, err = store.IncrementOTPAttempts(ctx, "missing")
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		store := newStore(t)
		record := newRecord("u1", ac.PurposeLogin, base)
		require.NoError(t, store.CreateOTP(ctx, record))

		require.NoError(t, store.ConsumeOTP(ctx, record.ID, base))
		assert.ErrorIs(t, store.ConsumeOTP(ctx, record.ID, base), ac.ErrAlreadyConsumed)
		assert.ErrorIs(t, store.ConsumeOTP(ctx, "missing", base), ac.ErrNotFound)

		_, err := store.LatestOTP(ctx, "u1", ac.PurposeLogin)
		assert.ErrorIs(t, err, ac.ErrNotFound)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		store := newStore(t)
		record := newRecord("u1", ac.PurposeLogin, base)
		require.NoError(t, store.CreateOTP(ctx, record))
		assert.Equal(t, 1, race(8, func() error {
			return store.ConsumeOTP(ctx, record.ID, base)
		}))
	})
}

// RunCredentialStoreTests runs every suite against one backend
func RunCredentialStoreTests(t *testing.T, newStore func(t *testing.T) ac.CredentialStore) {
	t.Run("Users", func(t *testing.T) {
		RunUserStoreTests(t, func(t *testing.T) ac.UserStore { return newStore(t) })
	})
	t.Run("Pending", func(t *testing.T) {
		RunPendingStoreTests(t, func(t *testing.T) ac.PendingStore { return newStore(t) })
	})
	t.Run("OTP", func(t *testing.T) {
		RunOTPStoreTests(t, func(t *testing.T) ac.OTPStore { return newStore(t) })
	})
}

// race runs fn from n goroutines at once and counts the nil results
func race(n int, fn func() error) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	start := make(chan struct{})
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if fn() == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()
	return wins
}
