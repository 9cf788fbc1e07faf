package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// KeyValueStore is the generic string cache backing alias edges and
// per-conversation state entries.
type KeyValueStore interface {
	// Get returns the value and true, or "" and false when the key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value with the given time to live. A non-positive ttl is rejected.
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
	// PutForever stores value without expiry.
	PutForever(ctx context.Context, key string, value string) error
	// Forget removes key. Removing an absent key is not an error.
	Forget(ctx context.Context, key string) error
}

// Sweeper is implemented by backends that expire keys lazily and need a
// periodic purge of dead entries.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ErrInvalidTTL is returned by Put for a non-positive ttl.
var ErrInvalidTTL = errors.New("kv: ttl must be positive")

type kvKey struct{}

// WithContext returns a new context carrying the given KeyValueStore.
func WithContext(ctx context.Context, s KeyValueStore) context.Context {
	return context.WithValue(ctx, kvKey{}, s)
}

// FromContext retrieves the KeyValueStore from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) KeyValueStore {
	s, _ := ctx.Value(kvKey{}).(KeyValueStore)
	return s
}

// Loader creates a KeyValueStore from config.
type Loader func(ctx context.Context) (KeyValueStore, error)

// Plugin represents a key-value plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a key-value plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered key-value plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named key-value plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown kv store %q; valid: %v", name, Names())
}
