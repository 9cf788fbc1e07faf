package identities

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/conversation-identity/internal/identity"
	"github.com/chirino/conversation-identity/internal/model"
	kvmemory "github.com/chirino/conversation-identity/internal/plugin/kv/memory"
	storememory "github.com/chirino/conversation-identity/internal/plugin/store/memory"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	phone      = "5511999999999"
	businessID = "111.444.777-35"
)

func newRouter(kv registrykv.KeyValueStore, store *storememory.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	resolver := identity.NewIdentityResolver(
		identity.NewAliasDirectory(kv),
		identity.NewMergeEngine(store, store, identity.DefaultMergeWindow),
		identity.NewStateMigrator(kv),
		nil,
	)
	r := gin.New()
	MountRoutes(r, resolver, func(c *gin.Context) { c.Next() })
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestResolveAndLink(t *testing.T) {
	ctx := context.Background()
	kv := kvmemory.New()
	store := storememory.New(50)
	r := newRouter(kv, store)

	require.NoError(t, store.AppendMessage(ctx, phone, model.NewMessage(model.RoleUser, "oi", time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))))
	require.NoError(t, kv.Put(ctx, identity.StateKey(phone, identity.SuffixLastToolUsed), "tickets", time.Hour))

	w := do(r, http.MethodGet, "/v1/identities/wa/"+phone, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		ConversationID string `json:"conversationId"`
		Linked         bool   `json:"linked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, phone, res.ConversationID)
	assert.False(t, res.Linked)

	w = do(r, http.MethodPost, "/v1/identities/whatsapp/"+phone+"/link", `{"businessId":"`+businessID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var linked linkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &linked))
	canonical, err := identity.CanonicalIDFor(businessID)
	require.NoError(t, err)
	assert.Equal(t, canonical, linked.ConversationID)
	assert.Equal(t, 1, linked.Messages)
	assert.Equal(t, []string{identity.SuffixLastToolUsed}, linked.Migrated)

	w = do(r, http.MethodGet, "/v1/identities/wa/"+phone, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, canonical, res.ConversationID)
	assert.True(t, res.Linked)
}

func TestLinkToCanonical(t *testing.T) {
	r := newRouter(kvmemory.New(), storememory.New(50))
	canonical, err := identity.CanonicalIDFor(businessID)
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/v1/identities/web/0F6C2A9E-3B1D-4C5E-8F7A-9B0C1D2E3F40/link", `{"canonicalId":"`+canonical+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), canonical)
}

func TestLinkValidation(t *testing.T) {
	r := newRouter(kvmemory.New(), storememory.New(50))

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown kind", "/v1/identities/fax/" + phone + "/link", `{"businessId":"11144477735"}`},
		{"neither id", "/v1/identities/wa/" + phone + "/link", `{}`},
		{"both ids", "/v1/identities/wa/" + phone + "/link", `{"businessId":"11144477735","canonicalId":"cpf:x"}`},
		{"bad canonical", "/v1/identities/wa/" + phone + "/link", `{"canonicalId":"cpf:x"}`},
		{"bad business id", "/v1/identities/wa/" + phone + "/link", `{"businessId":"abc"}`},
		{"bad json", "/v1/identities/wa/" + phone + "/link", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

type failingKV struct{ registrykv.KeyValueStore }

func (failingKV) PutForever(context.Context, string, string) error {
	return errors.New("connection refused")
}

func TestLinkStoreUnavailable(t *testing.T) {
	r := newRouter(failingKV{kvmemory.New()}, storememory.New(50))
	w := do(r, http.MethodPost, "/v1/identities/wa/"+phone+"/link", `{"businessId":"11144477735"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "store_unavailable")
}
