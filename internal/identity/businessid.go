package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"github.com/chirino/conversation-identity/internal/model"
	"github.com/google/uuid"
)

var (
	// ErrInvalidBusinessID is returned when a business id has no digits.
	ErrInvalidBusinessID = errors.New("business id has no digits")
	// ErrInvalidChannelIdentity is returned for a blank channel identity.
	ErrInvalidChannelIdentity = errors.New("channel identity is empty")
	// ErrInvalidCanonicalID is returned when a canonical id is not of the form cpf:{sha256}.
	ErrInvalidCanonicalID = errors.New("malformed canonical id")
)

// NormalizeBusinessID keeps only the ASCII digits of id.
func NormalizeBusinessID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashBusinessID returns the hex sha256 of the normalized business id.
func HashBusinessID(id string) (string, error) {
	normalized := NormalizeBusinessID(id)
	if normalized == "" {
		return "", ErrInvalidBusinessID
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalIDFor derives the canonical conversation id of a business id
// without touching any store.
func CanonicalIDFor(id string) (string, error) {
	hash, err := HashBusinessID(id)
	if err != nil {
		return "", err
	}
	return CanonicalPrefix + hash, nil
}

var businessIDPattern = regexp.MustCompile(`(?:^|\D)(\d{3}\.?\d{3}\.?\d{3}-?\d{2})(?:\D|$)`)

// FindBusinessID returns the first 11-digit business id written in text,
// with or without the usual dot and dash punctuation. Check digits are not
// verified.
func FindBusinessID(text string) (string, bool) {
	m := businessIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return NormalizeBusinessID(m[1]), true
}

// NormalizeChannelIdentity puts a channel identity in the form used for its
// alias key and provisional conversation id. Phone numbers keep their digits;
// web session ids that parse as UUIDs are lower-cased.
func NormalizeChannelIdentity(kind model.ChannelKind, channelIdentity string) (string, error) {
	s := strings.TrimSpace(channelIdentity)
	if s == "" {
		return "", ErrInvalidChannelIdentity
	}
	switch kind {
	case model.ChannelPhone:
		if digits := NormalizeBusinessID(s); digits != "" {
			return digits, nil
		}
	case model.ChannelWeb:
		if id, err := uuid.Parse(s); err == nil {
			return id.String(), nil
		}
	}
	return s, nil
}
