package identity

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/model"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
)

// AliasDirectory owns the alias edges: channel identity to canonical id and
// hashed business id to canonical id. Both edges never expire.
type AliasDirectory struct {
	kv registrykv.KeyValueStore
}

// NewAliasDirectory returns a directory backed by kv.
func NewAliasDirectory(kv registrykv.KeyValueStore) *AliasDirectory {
	return &AliasDirectory{kv: kv}
}

// ResolveByChannel returns the canonical id linked to the channel identity.
// The second result is false when no link was ever made.
func (d *AliasDirectory) ResolveByChannel(ctx context.Context, kind model.ChannelKind, channelIdentity string) (string, bool, error) {
	key := AliasKey(kind, channelIdentity)
	id, ok, err := d.kv.Get(ctx, key)
	if err != nil {
		return "", false, unavailable("get", key, err)
	}
	return id, ok, nil
}

// EnsureCanonicalForBusinessID returns the canonical id for businessID,
// recording the by-business-id edge the first time it is seen. Two racing
// callers write the same value.
func (d *AliasDirectory) EnsureCanonicalForBusinessID(ctx context.Context, businessID string) (string, error) {
	hash, err := HashBusinessID(businessID)
	if err != nil {
		return "", err
	}
	key := CanonicalKey(hash)
	existing, ok, err := d.kv.Get(ctx, key)
	if err != nil {
		return "", unavailable("get", key, err)
	}
	if ok && existing != "" {
		return existing, nil
	}
	canonical := CanonicalPrefix + hash
	if err := d.kv.PutForever(ctx, key, canonical); err != nil {
		return "", unavailable("put", key, err)
	}
	log.Debug("Created canonical conversation", "canonical", canonical)
	return canonical, nil
}

// SetAlias points the channel identity at canonicalID, replacing any earlier link.
func (d *AliasDirectory) SetAlias(ctx context.Context, kind model.ChannelKind, channelIdentity, canonicalID string) error {
	key := AliasKey(kind, channelIdentity)
	return unavailable("put", key, d.kv.PutForever(ctx, key, canonicalID))
}
