package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tickerboard/tickerboard-backend/pkg/kv"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store is an in-memory kv.Store. Expired keys are invisible to readers and
// removed by the janitor.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	janitorInterval time.Duration
	stopOnce        sync.Once
	janitorStop     chan struct{}
	janitorDone     chan struct{}
}

var _ kv.Store = (*Store)(nil)

// New creates a store. A positive janitorInterval starts background eviction.
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		entries:         make(map[string]entry),
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}
	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}
	return s
}

func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deleted int64
	for _, key := range keys {
		if e, ok := s.entries[key]; ok {
			if !e.expired(now) {
				deleted++
			}
			delete(s.entries, key)
		}
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var n int64
	for _, key := range keys {
		if e, ok := s.entries[key]; ok && !e.expired(now) {
			n++
		}
	}
	return n, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	now := time.Now()
	if !ok || e.expired(now) {
		return 0, kv.ErrNotFound
	}
	if e.expires.IsZero() {
		return -1, nil
	}
	return e.expires.Sub(now), nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close stops the janitor and drops all data. It is safe to call twice.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone

		s.mu.Lock()
		s.entries = make(map[string]entry)
		s.mu.Unlock()
	})
	return nil
}
