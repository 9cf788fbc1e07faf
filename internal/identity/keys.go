package identity

import "github.com/chirino/conversation-identity/internal/model"

// CanonicalPrefix starts every canonical conversation id.
const CanonicalPrefix = "cpf:"

// AliasKey is the key of the edge from a channel identity to its canonical id.
func AliasKey(kind model.ChannelKind, channelIdentity string) string {
	return "conv:alias:" + string(kind) + ":" + channelIdentity
}

// CanonicalKey is the key of the edge from a hashed business id to its canonical id.
func CanonicalKey(businessIDHash string) string {
	return "conv:canonical:by_cpf:" + businessIDHash
}

// StateKey is the key of one per-conversation state entry.
func StateKey(conversationID, suffix string) string {
	return "conv:" + conversationID + ":" + suffix
}

// IsCanonical reports whether id has the canonical form.
func IsCanonical(id string) bool {
	return len(id) == len(CanonicalPrefix)+64 && id[:len(CanonicalPrefix)] == CanonicalPrefix
}
