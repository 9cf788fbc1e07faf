// Package local serializes leases inside one process.
package local

import (
	"context"
	"sync"

	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
)

func init() {
	registrylock.Register(registrylock.Plugin{
		Name: "local",
		Loader: func(context.Context) (registrylock.Locker, error) {
			return New(), nil
		},
	})
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker is a keyed mutex whose waits honour context cancellation.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{keys: map[string]*entry{}}
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (registrylock.Unlock, error) {
	e := l.acquire(key)
	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
		return nil
	}, nil
}

var _ registrylock.Locker = (*Locker)(nil)
