package lock

import (
	"context"
	"errors"
	"fmt"
)

// Unlock releases a lease obtained from Locker.Lock.
type Unlock func(ctx context.Context) error

// Locker hands out a named lease. Lock blocks until the lease is held or ctx
// is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// ErrNotHeld is returned by an Unlock whose lease expired or was taken over.
var ErrNotHeld = errors.New("lock: lease no longer held")

// Loader creates a Locker from config.
type Loader func(ctx context.Context) (Locker, error)

// Plugin represents a lock plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a lock plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered lock plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named lock plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown lock %q; valid: %v", name, Names())
}
