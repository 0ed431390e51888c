package memory

import (
	"context"
	"sync"
	"time"
)

// KVStore is an in-process key/value store. Contents are lost on restart.
type KVStore struct {
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]kvEntry
}

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewKVStore() *KVStore {
	return NewKVStoreWithClock(time.Now)
}

// NewKVStoreWithClock allows deterministic expiry in tests.
func NewKVStoreWithClock(now func() time.Time) *KVStore {
	return &KVStore{
		clock:   now,
		entries: make(map[string]kvEntry),
	}
}

func (s *KVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(s.clock()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *KVStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := kvEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *KVStore) Ping(context.Context) error {
	return nil
}
