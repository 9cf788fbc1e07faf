package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/chirino/conversation-identity/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCanonicalIDFor_IgnoresFormatting(t *testing.T) {
	want := "cpf:" + sha("11144477735")
	for _, in := range []string{"11144477735", "111.444.777-35", " 111 444 777 35 ", "111444777/35"} {
		got, err := CanonicalIDFor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.True(t, IsCanonical(got))
	}

	_, err := CanonicalIDFor("abc")
	require.ErrorIs(t, err, ErrInvalidBusinessID)
}

func TestFindBusinessID(t *testing.T) {
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"meu cpf é 111.444.777-35", "11144477735", true},
		{"11144477735", "11144477735", true},
		{"cpf:11144477735, obrigado", "11144477735", true},
		{"telefone 5511999999999", "", false},
		{"1234", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := FindBusinessID(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestNormalizeChannelIdentity(t *testing.T) {
	got, err := NormalizeChannelIdentity(model.ChannelPhone, "+55 (11) 99999-9999")
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", got)

	got, err = NormalizeChannelIdentity(model.ChannelWeb, "3F2504E0-4F89-11D3-9A0C-0305E82C3301")
	require.NoError(t, err)
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", got)

	got, err = NormalizeChannelIdentity(model.ChannelWeb, "session-abc")
	require.NoError(t, err)
	assert.Equal(t, "session-abc", got)

	_, err = NormalizeChannelIdentity(model.ChannelPhone, "  ")
	require.ErrorIs(t, err, ErrInvalidChannelIdentity)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "conv:alias:wa:5511999999999", AliasKey(model.ChannelPhone, "5511999999999"))
	assert.Equal(t, "conv:alias:web:abc", AliasKey(model.ChannelWeb, "abc"))
	assert.Equal(t, "conv:canonical:by_cpf:"+sha("1"), CanonicalKey(sha("1")))
	assert.Equal(t, "conv:p:last_tool_used", StateKey("p", SuffixLastToolUsed))
	assert.False(t, IsCanonical("cpf:short"))
	assert.False(t, IsCanonical("5511999999999"))
}
