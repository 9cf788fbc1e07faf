package model

import (
	"fmt"
	"strings"
)

// ChannelKind names the medium a channel identity belongs to. The value is
// part of the persisted alias key.
type ChannelKind string

const (
	ChannelPhone ChannelKind = "wa"
	ChannelWeb   ChannelKind = "web"
)

// ParseChannelKind accepts the stored kind names plus a few aliases.
func ParseChannelKind(s string) (ChannelKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wa", "whatsapp", "phone":
		return ChannelPhone, nil
	case "web":
		return ChannelWeb, nil
	default:
		return "", fmt.Errorf("unknown channel kind %q; valid: wa, web", s)
	}
}
