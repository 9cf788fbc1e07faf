package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedRecord marks a stored message or metadata entry that cannot be parsed.
var ErrMalformedRecord = errors.New("malformed record")

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single entry of a conversation log.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a message stamped with at in ISO-8601 form.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{Role: role, Content: content, Timestamp: at.Format(time.RFC3339)}
}

// Validate returns an ErrMalformedRecord-wrapping error when m is unusable.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrMalformedRecord, m.Role)
	}
	if strings.TrimSpace(m.Timestamp) == "" {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}
	if _, ok := m.Time(); !ok {
		return fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedRecord, m.Timestamp)
	}
	return nil
}

// DedupKey is the composite identity used when consolidating two logs:
// timestamp, role and a hash of the content.
func (m Message) DedupKey() string {
	sum := sha256.Sum256([]byte(m.Content))
	return m.Timestamp + "|" + string(m.Role) + "|" + hex.EncodeToString(sum[:])
}

// Time parses the timestamp. The second result is false when it is not a
// recognizable ISO-8601 value.
func (m Message) Time() (time.Time, bool) {
	ts := strings.TrimSpace(m.Timestamp)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Before orders messages chronologically. Both messages must have passed
// Validate; an unparseable timestamp sorts as the zero time.
func (m Message) Before(other Message) bool {
	a, _ := m.Time()
	b, _ := other.Time()
	return a.Before(b)
}

// Encode serializes m to its stored JSON form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage decodes a stored JSON message without validating its fields.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	m.Role = Role(strings.ToLower(strings.TrimSpace(string(m.Role))))
	return m, nil
}

// ParseMessage decodes and validates a stored JSON message.
func ParseMessage(raw []byte) (Message, error) {
	m, err := DecodeMessage(raw)
	if err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Metadata holds durable per-conversation facts.
type Metadata map[string]string

const (
	MetadataLastBusinessID   = "last_cpf"
	MetadataBusinessIDSeenAt = "last_cpf_at"
)
