// Package none is the default lock plugin: every lease is granted immediately
// and nothing is serialized.
package none

import (
	"context"

	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
)

func init() {
	registrylock.Register(registrylock.Plugin{
		Name: "none",
		Loader: func(context.Context) (registrylock.Locker, error) {
			return Locker{}, nil
		},
	})
}

// Locker never blocks.
type Locker struct{}

func (Locker) Lock(context.Context, string) (registrylock.Unlock, error) {
	return func(context.Context) error { return nil }, nil
}
