// Package memory provides a process-local KeyValueStore. It backs the "memory"
// kv kind and serves as the store fake in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
)

func init() {
	registrykv.Register(registrykv.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrykv.KeyValueStore, error) {
			return New(), nil
		},
	})
}

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Store is a mutex-guarded map with per-key expiry.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

// New returns an empty store using the wall clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty store that reads time from now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{data: map[string]entry{}, now: now}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok || s.expired(e, s.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Put(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return registrykv.ErrInvalidTTL
	}
	s.mu.Lock()
	s.data[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Store) PutForever(_ context.Context, key string, value string) error {
	s.mu.Lock()
	s.data[key] = entry{value: value}
	s.mu.Unlock()
	return nil
}

func (s *Store) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops every entry expired at now.
func (s *Store) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.data {
		if s.expired(e, now) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

// Expiry returns when key expires. The zero time means it never does.
// The second result is false when the key is absent.
func (s *Store) Expiry(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok || s.expired(e, s.now()) {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Keys lists the live keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	keys := make([]string, 0, len(s.data))
	for k, e := range s.data {
		if !s.expired(e, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) expired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

var (
	_ registrykv.KeyValueStore = (*Store)(nil)
	_ registrykv.Sweeper       = (*Store)(nil)
)
