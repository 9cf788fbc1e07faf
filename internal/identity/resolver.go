package identity

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/model"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	"github.com/chirino/conversation-identity/internal/security"
)

// IdentityResolver links channel identities to canonical conversations and
// consolidates whatever the channel identity accumulated while provisional.
type IdentityResolver struct {
	aliases  *AliasDirectory
	merger   *MergeEngine
	migrator *StateMigrator
	locker   registrylock.Locker
}

// NewIdentityResolver wires the resolver. A nil locker leaves merge and
// migration unserialized.
func NewIdentityResolver(aliases *AliasDirectory, merger *MergeEngine, migrator *StateMigrator, locker registrylock.Locker) *IdentityResolver {
	return &IdentityResolver{aliases: aliases, merger: merger, migrator: migrator, locker: locker}
}

// Aliases exposes the underlying directory.
func (r *IdentityResolver) Aliases() *AliasDirectory { return r.aliases }

// LinkResult describes a completed link.
type LinkResult struct {
	ConversationID string
	Merge          MergeResult
	Migrated       []string
}

// ResolveByChannel returns the canonical id linked to the channel identity, if any.
func (r *IdentityResolver) ResolveByChannel(ctx context.Context, kind model.ChannelKind, channelIdentity string) (string, bool, error) {
	id, err := NormalizeChannelIdentity(kind, channelIdentity)
	if err != nil {
		return "", false, err
	}
	return r.aliases.ResolveByChannel(ctx, kind, id)
}

// Resolution is the conversation a channel identity should use right now.
type Resolution struct {
	ConversationID string `json:"conversationId"`
	// Linked is true when ConversationID is a canonical id.
	Linked bool `json:"linked"`
	// Degraded is true when the store could not be read and the raw channel
	// identity is used as a provisional conversation id.
	Degraded bool `json:"degraded"`
}

// ConversationFor returns the canonical id linked to the channel identity,
// or the channel identity itself while it is provisional. A store failure is
// logged and answered with the provisional id so the caller can keep serving.
func (r *IdentityResolver) ConversationFor(ctx context.Context, kind model.ChannelKind, channelIdentity string) (Resolution, error) {
	id, err := NormalizeChannelIdentity(kind, channelIdentity)
	if err != nil {
		return Resolution{}, err
	}
	canonical, ok, err := r.aliases.ResolveByChannel(ctx, kind, id)
	if err != nil {
		log.Warn("Identity lookup failed, using provisional conversation", "kind", kind, "conversationId", id, "err", err)
		return Resolution{ConversationID: id, Degraded: true}, nil
	}
	if !ok || canonical == "" {
		return Resolution{ConversationID: id}, nil
	}
	return Resolution{ConversationID: canonical, Linked: true}, nil
}

// LinkChannelToBusinessID derives the canonical id of businessID, points the
// channel identity at it and moves the channel identity's history, metadata
// and state there. It returns the canonical id.
func (r *IdentityResolver) LinkChannelToBusinessID(ctx context.Context, kind model.ChannelKind, channelIdentity, businessID string) (LinkResult, error) {
	id, err := NormalizeChannelIdentity(kind, channelIdentity)
	if err != nil {
		return LinkResult{}, err
	}
	canonical, err := r.aliases.EnsureCanonicalForBusinessID(ctx, businessID)
	if err != nil {
		recordLink(kind, err)
		return LinkResult{}, err
	}
	return r.link(ctx, kind, id, canonical)
}

// LinkChannelToCanonical is LinkChannelToBusinessID for a canonical id that is
// already known, typically a second channel of a customer already linked.
func (r *IdentityResolver) LinkChannelToCanonical(ctx context.Context, kind model.ChannelKind, channelIdentity, canonicalID string) (LinkResult, error) {
	id, err := NormalizeChannelIdentity(kind, channelIdentity)
	if err != nil {
		return LinkResult{}, err
	}
	if !IsCanonical(canonicalID) {
		return LinkResult{}, fmt.Errorf("%w: %q", ErrInvalidCanonicalID, canonicalID)
	}
	return r.link(ctx, kind, id, canonicalID)
}

func (r *IdentityResolver) link(ctx context.Context, kind model.ChannelKind, channelIdentity, canonical string) (res LinkResult, err error) {
	defer func() { recordLink(kind, err) }()
	res.ConversationID = canonical

	if err := r.aliases.SetAlias(ctx, kind, channelIdentity, canonical); err != nil {
		return res, err
	}

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, canonical)
		if err != nil {
			return res, fmt.Errorf("lock %s: %w", canonical, err)
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				log.Warn("Releasing link lease failed", "canonical", canonical, "err", uerr)
			}
		}()
	}

	res.Merge, err = r.merger.Merge(ctx, channelIdentity, canonical)
	if err != nil {
		return res, err
	}
	res.Migrated, err = r.migrator.Migrate(ctx, channelIdentity, canonical)
	if err != nil {
		return res, err
	}
	log.Info("Linked channel identity",
		"kind", kind,
		"canonical", canonical,
		"messages", res.Merge.Messages,
		"duplicates", res.Merge.Duplicates,
		"migrated", len(res.Migrated))
	return res, nil
}

// LinkPhoneToBusinessID links a messaging-channel phone number.
func (r *IdentityResolver) LinkPhoneToBusinessID(ctx context.Context, phone, businessID string) (string, error) {
	res, err := r.LinkChannelToBusinessID(ctx, model.ChannelPhone, phone, businessID)
	return res.ConversationID, err
}

// LinkWebSessionToBusinessID links an anonymous web session.
func (r *IdentityResolver) LinkWebSessionToBusinessID(ctx context.Context, sessionID, businessID string) (string, error) {
	res, err := r.LinkChannelToBusinessID(ctx, model.ChannelWeb, sessionID, businessID)
	return res.ConversationID, err
}

// LinkPhoneToCanonical links a phone number to a known canonical id.
func (r *IdentityResolver) LinkPhoneToCanonical(ctx context.Context, phone, canonicalID string) error {
	_, err := r.LinkChannelToCanonical(ctx, model.ChannelPhone, phone, canonicalID)
	return err
}

// LinkWebSessionToCanonical links a web session to a known canonical id.
func (r *IdentityResolver) LinkWebSessionToCanonical(ctx context.Context, sessionID, canonicalID string) error {
	_, err := r.LinkChannelToCanonical(ctx, model.ChannelWeb, sessionID, canonicalID)
	return err
}

func recordLink(kind model.ChannelKind, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsStoreUnavailable(err):
		outcome = "store_unavailable"
	default:
		outcome = "error"
	}
	security.RecordLink(string(kind), outcome)
}
