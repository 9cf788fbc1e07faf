package identity

import (
	"context"
	"time"

	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	"github.com/chirino/conversation-identity/internal/security"
)

// State entry suffixes that move with a conversation when it is linked.
const (
	SuffixSessionCredentialValue  = "session_credential_value"
	SuffixSessionCredentialStatus = "session_credential_status"
	SuffixSessionCredentialHash   = "session_credential_hash"
	SuffixLastBusinessID          = "last_business_id"
	SuffixCurrentIntent           = "current_intent"
	SuffixLastFreeText            = "last_free_text"
	SuffixPendingRequestMarker    = "pending_request_marker"
	SuffixCardPayloadRequest      = "card_payload_request"
	SuffixLastToolUsed            = "last_tool_used"
	SuffixTicketResults           = "ticket_results"
	SuffixTicketError             = "ticket_error"
	SuffixTicketErrorDetail       = "ticket_error_detail"
	SuffixCardBeneficiaries       = "card_beneficiaries"
	SuffixCardPlans               = "card_plans"
	SuffixCardFinancialStatement  = "card_financial_statement"
	SuffixCardCoparticipation     = "card_coparticipation"
	SuffixIRDocuments             = "ir_documents"
	SuffixIRDocument              = "ir_document"
)

// StateSuffixes is the migration allow-list, in migration order.
var StateSuffixes = []string{
	SuffixSessionCredentialValue,
	SuffixSessionCredentialStatus,
	SuffixSessionCredentialHash,
	SuffixLastBusinessID,
	SuffixCurrentIntent,
	SuffixLastFreeText,
	SuffixPendingRequestMarker,
	SuffixCardPayloadRequest,
	SuffixLastToolUsed,
	SuffixTicketResults,
	SuffixTicketError,
	SuffixTicketErrorDetail,
	SuffixCardBeneficiaries,
	SuffixCardPlans,
	SuffixCardFinancialStatement,
	SuffixCardCoparticipation,
	SuffixIRDocuments,
	SuffixIRDocument,
}

// Expiry is the lifetime given to a migrated state entry.
type Expiry int

const (
	// ExpiryFixed expires after the migrator's fixed TTL.
	ExpiryFixed Expiry = iota
	// ExpiryEndOfDay expires at the next local midnight.
	ExpiryEndOfDay
	// ExpiryNever does not expire.
	ExpiryNever
)

func (e Expiry) String() string {
	switch e {
	case ExpiryEndOfDay:
		return "end-of-day"
	case ExpiryNever:
		return "never"
	default:
		return "fixed"
	}
}

// ExpiryFor returns the expiry tier of suffix.
func ExpiryFor(suffix string) Expiry {
	switch suffix {
	case SuffixSessionCredentialValue, SuffixSessionCredentialStatus, SuffixSessionCredentialHash,
		SuffixPendingRequestMarker, SuffixLastFreeText:
		return ExpiryEndOfDay
	case SuffixLastBusinessID:
		return ExpiryNever
	default:
		return ExpiryFixed
	}
}

// DefaultStateTTL is the fixed tier lifetime.
const DefaultStateTTL = time.Hour

// UntilEndOfDay returns the time left from now until the next midnight in loc.
func UntilEndOfDay(now time.Time, loc *time.Location) time.Duration {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc).Sub(local)
}

// StateMigrator moves allow-listed state entries between conversations.
// Entries are moved one by one; a failure part way leaves the rest on the source.
type StateMigrator struct {
	kv       registrykv.KeyValueStore
	ttl      time.Duration
	location *time.Location
	now      func() time.Time
}

// StateMigratorOption customizes a StateMigrator.
type StateMigratorOption func(*StateMigrator)

// WithStateTTL sets the fixed tier lifetime.
func WithStateTTL(ttl time.Duration) StateMigratorOption {
	return func(m *StateMigrator) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLocation sets the time zone whose calendar day bounds end-of-day entries.
func WithLocation(loc *time.Location) StateMigratorOption {
	return func(m *StateMigrator) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StateMigratorOption {
	return func(m *StateMigrator) {
		if now != nil {
			m.now = now
		}
	}
}

// NewStateMigrator returns a migrator over kv.
func NewStateMigrator(kv registrykv.KeyValueStore, opts ...StateMigratorOption) *StateMigrator {
	m := &StateMigrator{kv: kv, ttl: DefaultStateTTL, location: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate copies every present allow-listed entry from source to target,
// overwriting the target, then forgets it on the source. It returns the
// suffixes moved.
func (m *StateMigrator) Migrate(ctx context.Context, sourceID, targetID string) ([]string, error) {
	if sourceID == targetID {
		return nil, nil
	}
	var moved []string
	for _, suffix := range StateSuffixes {
		sourceKey := StateKey(sourceID, suffix)
		value, ok, err := m.kv.Get(ctx, sourceKey)
		if err != nil {
			return moved, unavailable("get", sourceKey, err)
		}
		if !ok {
			continue
		}
		targetKey := StateKey(targetID, suffix)
		if err := m.put(ctx, targetKey, value, ExpiryFor(suffix)); err != nil {
			return moved, unavailable("put", targetKey, err)
		}
		if err := m.kv.Forget(ctx, sourceKey); err != nil {
			return moved, unavailable("forget", sourceKey, err)
		}
		moved = append(moved, suffix)
		security.RecordMigrated(suffix)
	}
	return moved, nil
}

func (m *StateMigrator) put(ctx context.Context, key, value string, expiry Expiry) error {
	switch expiry {
	case ExpiryNever:
		return m.kv.PutForever(ctx, key, value)
	case ExpiryEndOfDay:
		return m.kv.Put(ctx, key, value, UntilEndOfDay(m.now(), m.location))
	default:
		return m.kv.Put(ctx, key, value, m.ttl)
	}
}
