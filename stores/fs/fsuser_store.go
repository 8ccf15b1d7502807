package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	ac "github.com/panyam/authcore"
)

// FSStore implements ac.CredentialStore with JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/{id}.json
//	├── users/by-email/{sha256(email)}.json      # {"user_id": ...}
//	├── users/by-google/{sha256(sub)}.json       # {"user_id": ...}
//	├── pending/{sha256(email)}.json
//	└── otp/{user_id}/{purpose}/{id}.json
//
// # Concurrency Model
//
// Every mutation runs under one process wide mutex, which makes the
// conditional updates (consume, link) and the uniqueness checks atomic within
// a process. Separate processes sharing a directory are not supported; use
// the gorm or gae stores for that.
type FSStore struct {
	StoragePath string

	mu sync.Mutex
}

// NewFSStore creates a file backed store rooted at storagePath
func NewFSStore(storagePath string) *FSStore {
	return &FSStore{StoragePath: storagePath}
}

type indexEntry struct {
	UserID string `json:"user_id"`
}

func (s *FSStore) getUserPath(userID string) string {
	return filepath.Join(s.StoragePath, "users", filepath.Base(userID)+".json")
}

func (s *FSStore) getEmailIndexPath(email string) string {
	return filepath.Join(s.StoragePath, "users", "by-email", safeName(email)+".json")
}

func (s *FSStore) getGoogleIndexPath(sub string) string {
	return filepath.Join(s.StoragePath, "users", "by-google", safeName(sub)+".json")
}

func (s *FSStore) CreateUser(ctx context.Context, user *ac.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = ac.NormalizeEmail(user.Email)
	if _, err := os.Stat(s.getEmailIndexPath(user.Email)); err == nil {
		return ac.ErrConflict
	}
	if user.GoogleSub != "" {
		if _, err := os.Stat(s.getGoogleIndexPath(user.GoogleSub)); err == nil {
			return ac.ErrConflict
		}
	}
	if _, err := os.Stat(s.getUserPath(user.ID)); err == nil {
		return ac.ErrConflict
	}

	if err := writeJSONFile(s.getUserPath(user.ID), user); err != nil {
		return err
	}
	if err := writeJSONFile(s.getEmailIndexPath(user.Email), indexEntry{UserID: user.ID}); err != nil {
		return err
	}
	if user.GoogleSub != "" {
		return writeJSONFile(s.getGoogleIndexPath(user.GoogleSub), indexEntry{UserID: user.ID})
	}
	return nil
}

func (s *FSStore) GetUserByID(ctx context.Context, id string) (*ac.User, error) {
	var user ac.User
	if err := readJSONFile(s.getUserPath(id), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *FSStore) getUserByIndex(ctx context.Context, indexPath string) (*ac.User, error) {
	var entry indexEntry
	if err := readJSONFile(indexPath, &entry); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, entry.UserID)
}

func (s *FSStore) GetUserByEmail(ctx context.Context, email string) (*ac.User, error) {
	return s.getUserByIndex(ctx, s.getEmailIndexPath(ac.NormalizeEmail(email)))
}

func (s *FSStore) GetUserByGoogleSub(ctx context.Context, sub string) (*ac.User, error) {
	return s.getUserByIndex(ctx, s.getGoogleIndexPath(sub))
}

func (s *FSStore) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = changedAt
	user.UpdatedAt = changedAt
	return writeJSONFile(s.getUserPath(userID), user)
}

func (s *FSStore) LinkGoogleSubject(ctx context.Context, userID, sub string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.GoogleSub != "" {
		return ac.ErrConflict
	}
	if _, err := os.Stat(s.getGoogleIndexPath(sub)); err == nil {
		return ac.ErrConflict
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	user.GoogleSub = sub
	user.EmailVerified = true
	user.UpdatedAt = time.Now().UTC()
	if err := writeJSONFile(s.getUserPath(userID), user); err != nil {
		return err
	}
	return writeJSONFile(s.getGoogleIndexPath(sub), indexEntry{UserID: userID})
}
