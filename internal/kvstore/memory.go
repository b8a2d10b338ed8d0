package kvstore

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded in-process store with per-entry expiry.
// It backs the relay when redis is disabled or unreachable, and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// sweep evicts expired entries so abandoned keys (typing state with no
// stop event) do not accumulate between reads.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteByPattern(_ context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return err
		}
		if matched {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
