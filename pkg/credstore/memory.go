package credstore

import (
	"context"
	"sync"

	"onebookreader/pkg/domain"
)

// MemoryStore keeps credentials in-process (tests and throwaway sessions).
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	user  *domain.User
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Token(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != "", nil
}

func (s *MemoryStore) User(_ context.Context) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false, nil
	}
	return *s.user, true, nil
}

func (s *MemoryStore) Set(_ context.Context, token string, user domain.User) error {
	s.mu.Lock()
	s.token = token
	s.user = &user
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
