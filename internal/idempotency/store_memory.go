package idempotency

import (
	"context"
	"sync"
	"time"

	"attesta/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger in a mutex-guarded map. Backs unit tests and
// single-instance deployments without redis.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Create(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Key]; exists {
		return sentinel.ErrConflict
	}
	s.records[record.Key] = record
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (s *InMemoryStore) Update(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Key]; !ok {
		return sentinel.ErrNotFound
	}
	s.records[record.Key] = record
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, record := range s.records {
		if record.ExpiresAt.Before(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}
