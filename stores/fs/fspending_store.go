package fs

import (
	"context"
	"path/filepath"
	"time"

	ac "github.com/panyam/authcore"
)

func (s *FSStore) getPendingPath(email string) string {
	return filepath.Join(s.StoragePath, "pending", safeName(ac.NormalizeEmail(email))+".json")
}

func (s *FSStore) GetPendingRegistration(ctx context.Context, email string) (*ac.PendingRegistration, error) {
	var pending ac.PendingRegistration
	if err := readJSONFile(s.getPendingPath(email), &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (s *FSStore) SavePendingRegistration(ctx context.Context, pending *ac.PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending.Email = ac.NormalizeEmail(pending.Email)
	return writeJSONFile(s.getPendingPath(pending.Email), pending)
}

func (s *FSStore) IncrementPendingAttempts(ctx context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.GetPendingRegistration(ctx, email)
	if err != nil {
		return 0, err
	}
	pending.Attempts++
	if err := writeJSONFile(s.getPendingPath(email), pending); err != nil {
		return 0, err
	}
	return pending.Attempts, nil
}

func (s *FSStore) ConsumePendingRegistration(ctx context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.GetPendingRegistration(ctx, email)
	if err != nil {
		return err
	}
	if pending.ConsumedAt != nil {
		return ac.ErrAlreadyConsumed
	}
	pending.ConsumedAt = &at
	return writeJSONFile(s.getPendingPath(email), pending)
}
