package identity_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chirino/conversation-identity/internal/identity"
	"github.com/chirino/conversation-identity/internal/model"
	kvmemory "github.com/chirino/conversation-identity/internal/plugin/kv/memory"
	"github.com/chirino/conversation-identity/internal/plugin/lock/local"
	storememory "github.com/chirino/conversation-identity/internal/plugin/store/memory"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	phone      = "5511999999999"
	businessID = "11144477735"
)

var saoPaulo = time.FixedZone("BRT", -3*60*60)

type fixture struct {
	now      time.Time
	kv       *kvmemory.Store
	store    *storememory.Store
	resolver *identity.IdentityResolver
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLocker(t, nil)
}

func newFixtureWithLocker(t *testing.T, locker registrylock.Locker) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 5, 10, 15, 30, 0, 0, saoPaulo)}
	clock := func() time.Time { return f.now }
	f.kv = kvmemory.NewWithClock(clock)
	f.store = storememory.New(50)
	f.resolver = identity.NewIdentityResolver(
		identity.NewAliasDirectory(f.kv),
		identity.NewMergeEngine(f.store, f.store, 50),
		identity.NewStateMigrator(f.kv, identity.WithClock(clock), identity.WithLocation(saoPaulo)),
		locker,
	)
	return f
}

func canonical(t *testing.T) string {
	t.Helper()
	id, err := identity.CanonicalIDFor(businessID)
	require.NoError(t, err)
	return id
}

func msg(role model.Role, content, ts string) model.Message {
	return model.Message{Role: role, Content: content, Timestamp: ts}
}

func (f *fixture) messages(t *testing.T, id string) []model.Message {
	t.Helper()
	got, err := f.store.ListMessages(context.Background(), id, 0)
	require.NoError(t, err)
	return got
}

func (f *fixture) get(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.kv.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func TestEnsureCanonicalForBusinessID_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dir := f.resolver.Aliases()

	a, err := dir.EnsureCanonicalForBusinessID(ctx, "111.444.777-35")
	require.NoError(t, err)
	b, err := dir.EnsureCanonicalForBusinessID(ctx, businessID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, canonical(t), a)

	hash := a[len(identity.CanonicalPrefix):]
	v, ok := f.get(t, identity.CanonicalKey(hash))
	require.True(t, ok)
	assert.Equal(t, a, v)
	exp, ok := f.kv.Expiry(identity.CanonicalKey(hash))
	require.True(t, ok)
	assert.True(t, exp.IsZero(), "canonical edge never expires")
}

func TestEnsureCanonicalForBusinessID_ReturnsRecordedEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hash, err := identity.HashBusinessID(businessID)
	require.NoError(t, err)
	require.NoError(t, f.kv.PutForever(ctx, identity.CanonicalKey(hash), "cpf:legacy"))

	got, err := f.resolver.Aliases().EnsureCanonicalForBusinessID(ctx, businessID)
	require.NoError(t, err)
	assert.Equal(t, "cpf:legacy", got)
}

func TestResolveByChannel_BeforeAndAfterLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, ok, err := f.resolver.ResolveByChannel(ctx, model.ChannelPhone, phone)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.resolver.LinkPhoneToBusinessID(ctx, phone, businessID)
	require.NoError(t, err)

	id, ok, err := f.resolver.ResolveByChannel(ctx, model.ChannelPhone, phone)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, got, id)

	other, err := identity.CanonicalIDFor("52998224725")
	require.NoError(t, err)
	require.NoError(t, f.resolver.LinkPhoneToCanonical(ctx, phone, other))
	id, ok, err = f.resolver.ResolveByChannel(ctx, model.ChannelPhone, phone)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, other, id, "most recent link wins")
}

func TestMerge_SourceIntoEmptyTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := msg(model.RoleUser, "oi", "2024-01-01T10:00:00Z")
	require.NoError(t, f.store.AppendMessage(ctx, "src", m))

	engine := identity.NewMergeEngine(f.store, f.store, 50)
	res, err := engine.Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Messages)

	assert.Equal(t, []model.Message{m}, f.messages(t, "dst"))
	assert.Empty(t, f.messages(t, "src"))
}

func TestMerge_Deduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shared := msg(model.RoleUser, "bom dia", "2024-01-01T10:00:00Z")
	require.NoError(t, f.store.AppendMessage(ctx, "src", shared))
	require.NoError(t, f.store.AppendMessage(ctx, "dst", shared))

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, []model.Message{shared}, f.messages(t, "dst"))
}

func TestMerge_OrdersByTimestampTargetFirstOnTies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.ReplaceMessages(ctx, "dst", []model.Message{
		msg(model.RoleUser, "t1", "2024-01-01T10:00:00Z"),
		msg(model.RoleAssistant, "t3", "2024-01-01T10:02:00Z"),
	}))
	require.NoError(t, f.store.ReplaceMessages(ctx, "src", []model.Message{
		msg(model.RoleUser, "s0", "2024-01-01T09:59:00Z"),
		msg(model.RoleUser, "s1", "2024-01-01T10:00:00Z"),
		msg(model.RoleUser, "s2", "2024-01-01T07:01:00-03:00"),
	}))

	_, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)

	var contents []string
	for _, m := range f.messages(t, "dst") {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"s0", "t1", "s1", "s2", "t3"}, contents)
}

func TestMerge_SkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := msg(model.RoleAssistant, "oi!", "2024-01-01T10:00:01Z")
	require.NoError(t, f.store.ReplaceMessages(ctx, "src", []model.Message{
		{Role: "system", Content: "x", Timestamp: "2024-01-01T10:00:00Z"},
		{Role: model.RoleUser, Content: "no time"},
		good,
	}))

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, []model.Message{good}, f.messages(t, "dst"))
	assert.Empty(t, f.messages(t, "src"))
}

func TestMerge_SkipsUnparseableTimestamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := msg(model.RoleUser, "A", "2024-01-01T10:00:00-03:00")
	b := msg(model.RoleAssistant, "B", "2024-01-01T12:00:00Z")
	require.NoError(t, f.store.ReplaceMessages(ctx, "dst", []model.Message{a}))
	require.NoError(t, f.store.ReplaceMessages(ctx, "src", []model.Message{
		msg(model.RoleUser, "X", "2024-01-01T11"),
		b,
	}))

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Malformed)
	// 10:00-03:00 is 13:00Z.
	assert.Equal(t, []model.Message{b, a}, f.messages(t, "dst"))
}

// The merged log is written whole and may be longer than the append bound.
func TestMerge_DoesNotTruncateMergedLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		require.NoError(t, f.store.AppendMessage(ctx, "src", model.NewMessage(model.RoleUser, "s", base.Add(time.Duration(2*i)*time.Second))))
		require.NoError(t, f.store.AppendMessage(ctx, "dst", model.NewMessage(model.RoleUser, "t", base.Add(time.Duration(2*i+1)*time.Second))))
	}

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 80, res.Messages)
	assert.Len(t, f.messages(t, "dst"), 80)

	require.NoError(t, f.store.AppendMessage(ctx, "dst", model.NewMessage(model.RoleUser, "new", base.Add(time.Hour))))
	assert.Len(t, f.messages(t, "dst"), 50, "next append trims to the store bound")
}

func TestMerge_ReadsOnlyTheRecentWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.AppendMessage(ctx, "src", model.NewMessage(model.RoleUser, "s", base.Add(time.Duration(i)*time.Minute))))
	}

	res, err := identity.NewMergeEngine(f.store, f.store, 3).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Messages)
	assert.Empty(t, f.messages(t, "src"))
}

func TestMerge_MetadataTargetWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.AppendMessage(ctx, "src", msg(model.RoleUser, "oi", "2024-01-01T10:00:00Z")))
	require.NoError(t, f.store.SetMetadata(ctx, "dst", model.Metadata{"last_cpf": "111", "empty": ""}))
	require.NoError(t, f.store.SetMetadata(ctx, "src", model.Metadata{"last_cpf": "222", "note": "x", "empty": "filled"}))

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, 2, res.MetadataFilled)

	md, err := f.store.GetMetadata(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, model.Metadata{"last_cpf": "111", "note": "x", "empty": "filled"}, md)

	md, err = f.store.GetMetadata(ctx, "src")
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestMergeMetadata(t *testing.T) {
	merged, filled := identity.MergeMetadata(
		model.Metadata{"last_cpf": "111"},
		model.Metadata{"last_cpf": "222", "note": "x"},
	)
	assert.Equal(t, model.Metadata{"last_cpf": "111", "note": "x"}, merged)
	assert.Equal(t, 1, filled)
}

func TestMerge_EmptyLogsStillTombstoneSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetMetadata(ctx, "src", model.Metadata{"note": "x"}))

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Zero(t, res.Messages)

	md, err := f.store.GetMetadata(ctx, "src")
	require.NoError(t, err)
	assert.Empty(t, md)
	md, err = f.store.GetMetadata(ctx, "dst")
	require.NoError(t, err)
	assert.Empty(t, md, "the empty-log path skips the metadata merge")
}

func TestMerge_SameIDIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := msg(model.RoleUser, "oi", "2024-01-01T10:00:00Z")
	require.NoError(t, f.store.AppendMessage(ctx, "x", m))

	res, err := identity.NewMergeEngine(f.store, f.store, 50).Merge(ctx, "x", "x")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, []model.Message{m}, f.messages(t, "x"))
}

func TestMigrate_TTLTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.kv.Put(ctx, identity.StateKey("src", identity.SuffixSessionCredentialValue), "token", time.Hour))
	require.NoError(t, f.kv.Put(ctx, identity.StateKey("src", identity.SuffixLastBusinessID), businessID, time.Hour))
	require.NoError(t, f.kv.Put(ctx, identity.StateKey("src", identity.SuffixLastToolUsed), "tickets", 5*time.Minute))
	require.NoError(t, f.kv.PutForever(ctx, "conv:src:not_on_the_list", "stay"))

	moved, err := identity.NewStateMigrator(f.kv,
		identity.WithClock(func() time.Time { return f.now }),
		identity.WithLocation(saoPaulo),
	).Migrate(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, []string{
		identity.SuffixSessionCredentialValue,
		identity.SuffixLastBusinessID,
		identity.SuffixLastToolUsed,
	}, moved)

	exp, ok := f.kv.Expiry(identity.StateKey("dst", identity.SuffixSessionCredentialValue))
	require.True(t, ok)
	assert.True(t, time.Date(2024, 5, 11, 0, 0, 0, 0, saoPaulo).Equal(exp), exp)

	exp, ok = f.kv.Expiry(identity.StateKey("dst", identity.SuffixLastBusinessID))
	require.True(t, ok)
	assert.True(t, exp.IsZero())

	exp, ok = f.kv.Expiry(identity.StateKey("dst", identity.SuffixLastToolUsed))
	require.True(t, ok)
	assert.True(t, f.now.Add(3600*time.Second).Equal(exp), exp)

	for _, suffix := range moved {
		_, ok := f.get(t, identity.StateKey("src", suffix))
		assert.False(t, ok, suffix)
	}
	v, ok := f.get(t, "conv:src:not_on_the_list")
	assert.True(t, ok)
	assert.Equal(t, "stay", v)
}

func TestMigrate_OverwritesTargetAndSkipsAbsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.kv.Put(ctx, identity.StateKey("dst", identity.SuffixCurrentIntent), "old", time.Hour))
	require.NoError(t, f.kv.Put(ctx, identity.StateKey("dst", identity.SuffixTicketResults), "keep", time.Hour))
	require.NoError(t, f.kv.Put(ctx, identity.StateKey("src", identity.SuffixCurrentIntent), "new", time.Hour))

	_, err := identity.NewStateMigrator(f.kv).Migrate(ctx, "src", "dst")
	require.NoError(t, err)

	v, _ := f.get(t, identity.StateKey("dst", identity.SuffixCurrentIntent))
	assert.Equal(t, "new", v)
	v, _ = f.get(t, identity.StateKey("dst", identity.SuffixTicketResults))
	assert.Equal(t, "keep", v)
}

// putFailingKV fails every Put whose key ends in failSuffix.
type putFailingKV struct {
	*kvmemory.Store
	failSuffix string
}

func (k putFailingKV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if strings.HasSuffix(key, ":"+k.failSuffix) {
		return errors.New("connection reset by peer")
	}
	return k.Store.Put(ctx, key, value, ttl)
}

func TestMigrate_StopsAtFirstFailedWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	kv := putFailingKV{Store: f.kv, failSuffix: identity.SuffixSessionCredentialStatus}
	for _, suffix := range []string{
		identity.SuffixSessionCredentialValue,
		identity.SuffixSessionCredentialStatus,
		identity.SuffixSessionCredentialHash,
	} {
		require.NoError(t, f.kv.Put(ctx, identity.StateKey("src", suffix), suffix+"-v", time.Hour))
	}

	moved, err := identity.NewStateMigrator(kv, identity.WithClock(func() time.Time { return f.now })).Migrate(ctx, "src", "dst")
	require.Error(t, err)
	assert.True(t, identity.IsStoreUnavailable(err))
	assert.Equal(t, []string{identity.SuffixSessionCredentialValue}, moved)

	v, ok := f.get(t, identity.StateKey("dst", identity.SuffixSessionCredentialValue))
	assert.True(t, ok)
	assert.Equal(t, "session_credential_value-v", v)
	_, ok = f.get(t, identity.StateKey("src", identity.SuffixSessionCredentialValue))
	assert.False(t, ok)

	// Nothing after the failure was touched.
	for _, suffix := range []string{identity.SuffixSessionCredentialStatus, identity.SuffixSessionCredentialHash} {
		_, ok = f.get(t, identity.StateKey("dst", suffix))
		assert.False(t, ok, suffix)
		v, ok = f.get(t, identity.StateKey("src", suffix))
		assert.True(t, ok, suffix)
		assert.Equal(t, suffix+"-v", v)
	}
}

func TestUntilEndOfDay(t *testing.T) {
	now := time.Date(2024, 5, 10, 23, 59, 0, 0, saoPaulo)
	assert.Equal(t, time.Minute, identity.UntilEndOfDay(now, saoPaulo))
	// 02:30 UTC is still the previous evening in São Paulo.
	now = time.Date(2024, 5, 11, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, identity.UntilEndOfDay(now, saoPaulo))
	assert.Equal(t, identity.ExpiryEndOfDay, identity.ExpiryFor(identity.SuffixPendingRequestMarker))
	assert.Equal(t, identity.ExpiryNever, identity.ExpiryFor(identity.SuffixLastBusinessID))
	assert.Equal(t, identity.ExpiryFixed, identity.ExpiryFor(identity.SuffixIRDocument))
}

func TestLinkChannelToBusinessID_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hello := model.NewMessage(model.RoleUser, "bom dia", f.now.Add(-2*time.Minute))
	reply := model.NewMessage(model.RoleAssistant, "oi!", f.now.Add(-time.Minute))
	require.NoError(t, f.store.AppendMessage(ctx, phone, hello))
	require.NoError(t, f.store.AppendMessage(ctx, phone, reply))
	require.NoError(t, f.kv.Put(ctx, identity.StateKey(phone, identity.SuffixSessionCredentialStatus), "valid", time.Hour))

	res, err := f.resolver.LinkChannelToBusinessID(ctx, model.ChannelPhone, phone, businessID)
	require.NoError(t, err)
	want := canonical(t)
	assert.Equal(t, want, res.ConversationID)

	id, ok, err := f.resolver.ResolveByChannel(ctx, model.ChannelPhone, phone)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, id)

	assert.Equal(t, []model.Message{hello, reply}, f.messages(t, want))
	assert.Empty(t, f.messages(t, phone))

	_, ok = f.get(t, identity.StateKey(phone, identity.SuffixSessionCredentialStatus))
	assert.False(t, ok)
	v, ok := f.get(t, identity.StateKey(want, identity.SuffixSessionCredentialStatus))
	assert.True(t, ok)
	assert.Equal(t, "valid", v)

	exp, ok := f.kv.Expiry(identity.AliasKey(model.ChannelPhone, phone))
	require.True(t, ok)
	assert.True(t, exp.IsZero(), "alias edge never expires")
}

func TestLinkChannelToBusinessID_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.AppendMessage(ctx, phone, msg(model.RoleUser, "oi", "2024-01-01T10:00:00Z")))

	first, err := f.resolver.LinkPhoneToBusinessID(ctx, phone, businessID)
	require.NoError(t, err)
	count := len(f.messages(t, first))

	second, err := f.resolver.LinkPhoneToBusinessID(ctx, phone, businessID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, f.messages(t, second), count)
}

func TestLinkWebSessionToCanonical_ConsolidatesSecondChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithLocker(t, local.New())
	session := "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	require.NoError(t, f.store.AppendMessage(ctx, phone, msg(model.RoleUser, "whatsapp", "2024-01-01T10:00:00Z")))
	require.NoError(t, f.store.AppendMessage(ctx, session, msg(model.RoleUser, "web", "2024-01-02T10:00:00Z")))

	id, err := f.resolver.LinkPhoneToBusinessID(ctx, phone, businessID)
	require.NoError(t, err)
	require.NoError(t, f.resolver.LinkWebSessionToCanonical(ctx, strings.ToUpper(session), id))

	var contents []string
	for _, m := range f.messages(t, id) {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"whatsapp", "web"}, contents)

	got, ok, err := f.resolver.ResolveByChannel(ctx, model.ChannelWeb, session)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	err = f.resolver.LinkWebSessionToCanonical(ctx, session, "cpf:nope")
	require.ErrorIs(t, err, identity.ErrInvalidCanonicalID)
}

func TestLinkWebSessionToBusinessID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, err := f.resolver.LinkWebSessionToBusinessID(ctx, "session-1", "111.444.777-35")
	require.NoError(t, err)
	assert.Equal(t, canonical(t), id)

	_, err = f.resolver.LinkWebSessionToBusinessID(ctx, "session-1", "no digits")
	require.ErrorIs(t, err, identity.ErrInvalidBusinessID)
}

type failingKV struct {
	*kvmemory.Store
	err error
}

func (f failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	kv := failingKV{Store: kvmemory.New(), err: boom}
	store := storememory.New(50)
	resolver := identity.NewIdentityResolver(
		identity.NewAliasDirectory(kv),
		identity.NewMergeEngine(store, store, 50),
		identity.NewStateMigrator(kv),
		nil,
	)

	_, err := resolver.LinkPhoneToBusinessID(ctx, phone, businessID)
	require.Error(t, err)
	assert.True(t, identity.IsStoreUnavailable(err))
	assert.ErrorIs(t, err, boom)

	_, _, err = resolver.ResolveByChannel(ctx, model.ChannelPhone, phone)
	assert.True(t, identity.IsStoreUnavailable(err))

	res, err := resolver.ConversationFor(ctx, model.ChannelPhone, "+55 11 99999-9999")
	require.NoError(t, err)
	assert.Equal(t, identity.Resolution{ConversationID: phone, Degraded: true}, res)
}

func TestConversationFor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.resolver.ConversationFor(ctx, model.ChannelPhone, phone)
	require.NoError(t, err)
	assert.Equal(t, identity.Resolution{ConversationID: phone}, res)

	id, err := f.resolver.LinkPhoneToBusinessID(ctx, phone, businessID)
	require.NoError(t, err)
	res, err = f.resolver.ConversationFor(ctx, model.ChannelPhone, phone)
	require.NoError(t, err)
	assert.Equal(t, identity.Resolution{ConversationID: id, Linked: true}, res)
}
