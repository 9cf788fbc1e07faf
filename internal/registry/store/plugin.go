package store

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/model"
)

// ConversationStore is the bounded, append-only message log kept per conversation id.
type ConversationStore interface {
	// AppendMessage adds msg at the tail and trims the log to the configured
	// history limit.
	AppendMessage(ctx context.Context, conversationID string, msg model.Message) error
	// ListMessages returns up to limit of the most recent messages in
	// chronological order. A non-positive limit returns the whole log.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// ReplaceMessages overwrites the whole log. No bound is applied.
	ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error
	ClearMessages(ctx context.Context, conversationID string) error
}

// MetadataStore keeps an arbitrary string map per conversation id.
type MetadataStore interface {
	// GetMetadata returns an empty, non-nil map when nothing is stored.
	GetMetadata(ctx context.Context, conversationID string) (model.Metadata, error)
	// SetMetadata replaces the stored map.
	SetMetadata(ctx context.Context, conversationID string, md model.Metadata) error
	ForgetMetadata(ctx context.Context, conversationID string) error
}

// Store bundles both conversation collaborators; every backend provides both.
type Store interface {
	ConversationStore
	MetadataStore
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}

// DecodeMessages decodes stored JSON records, skipping the ones that are not
// JSON at all. Field validation is left to the caller.
func DecodeMessages(conversationID string, raws []string) []model.Message {
	out := make([]model.Message, 0, len(raws))
	for _, raw := range raws {
		m, err := model.DecodeMessage([]byte(raw))
		if err != nil {
			log.Warn("Skipping malformed message record", "conversationId", conversationID, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// Tail returns the last limit elements of msgs (all of them when limit <= 0).
func Tail(msgs []model.Message, limit int) []model.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
