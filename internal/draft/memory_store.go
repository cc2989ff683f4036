package draft

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.RWMutex
	drafts     map[uuid.UUID]map[string]string
	heartbeats map[uuid.UUID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:     make(map[uuid.UUID]map[string]string),
		heartbeats: make(map[uuid.UUID]time.Time),
	}
}

func (s *MemoryStore) Put(_ context.Context, key Key, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.drafts[key.SessionID]
	if !ok {
		m = make(map[string]string)
		s.drafts[key.SessionID] = m
	}
	m[key.Field()] = content
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.drafts[key.SessionID][key.Field()]
	if !ok {
		return "", ErrNotFound
	}
	return content, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts[key.SessionID], key.Field())
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[sessionID] = at
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, sessionID uuid.UUID) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.heartbeats[sessionID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return at, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, sessionID)
	delete(s.heartbeats, sessionID)
	return nil
}
