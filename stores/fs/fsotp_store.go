package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	ac "github.com/panyam/authcore"
)

func (s *FSStore) getOTPDir(userID string, purpose ac.OTPPurpose) string {
	return filepath.Join(s.StoragePath, "otp", filepath.Base(userID), filepath.Base(string(purpose)))
}

func (s *FSStore) getOTPPath(userID string, purpose ac.OTPPurpose, id string) string {
	return filepath.Join(s.getOTPDir(userID, purpose), filepath.Base(id)+".json")
}

// otp ids are not enough to find a record, so an index maps id to its path
func (s *FSStore) getOTPIndexPath(id string) string {
	return filepath.Join(s.StoragePath, "otp", "by-id", filepath.Base(id)+".json")
}

type otpIndexEntry struct {
	UserID  string        `json:"user_id"`
	Purpose ac.OTPPurpose `json:"purpose"`
}

func (s *FSStore) CreateOTP(ctx context.Context, record *ac.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSONFile(s.getOTPPath(record.UserID, record.Purpose, record.ID), record); err != nil {
		return err
	}
	return writeJSONFile(s.getOTPIndexPath(record.ID), otpIndexEntry{UserID: record.UserID, Purpose: record.Purpose})
}

func (s *FSStore) LatestOTP(ctx context.Context, userID string, purpose ac.OTPPurpose) (*ac.OTPRecord, error) {
	entries, err := os.ReadDir(s.getOTPDir(userID, purpose))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ac.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var latest *ac.OTPRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		var record ac.OTPRecord
		if err := readJSONFile(filepath.Join(s.getOTPDir(userID, purpose), entry.Name()), &record); err != nil {
			continue
		}
		if record.ConsumedAt != nil {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			r := record
			latest = &r
		}
	}
	if latest == nil {
		return nil, ac.ErrNotFound
	}
	return latest, nil
}

func (s *FSStore) loadOTP(id string) (*ac.OTPRecord, string, error) {
	var entry otpIndexEntry
	if err := readJSONFile(s.getOTPIndexPath(id), &entry); err != nil {
		return nil, "", err
	}
	path := s.getOTPPath(entry.UserID, entry.Purpose, id)
	var record ac.OTPRecord
	if err := readJSONFile(path, &record); err != nil {
		return nil, "", err
	}
	return &record, path, nil
}

func (s *FSStore) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, path, err := s.loadOTP(id)
	if err != nil {
		return 0, err
	}
	record.Attempts++
	if err := writeJSONFile(path, record); err != nil {
		return 0, err
	}
	return record.Attempts, nil
}

func (s *FSStore) ConsumeOTP(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, path, err := s.loadOTP(id)
	if err != nil {
		return err
	}
	if record.ConsumedAt != nil {
		return ac.ErrAlreadyConsumed
	}
	record.ConsumedAt = &at
	return writeJSONFile(path, record)
}
