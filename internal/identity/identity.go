// Package identity maps per-channel customer identities to one canonical
// conversation and consolidates what was recorded under each of them.
package identity

import (
	"github.com/chirino/conversation-identity/internal/config"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
)

// New builds an IdentityResolver from cfg over the given backends.
func New(cfg *config.Config, kv registrykv.KeyValueStore, store registrystore.Store, locker registrylock.Locker) (*IdentityResolver, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []StateMigratorOption{WithLocation(loc)}
	if cfg != nil {
		opts = append(opts, WithStateTTL(cfg.StateTTL))
	}
	return NewIdentityResolver(
		NewAliasDirectory(kv),
		NewMergeEngine(store, store, cfg.ResolvedHistoryLimit()),
		NewStateMigrator(kv, opts...),
		locker,
	), nil
}
