package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/identity"
	boltkv "github.com/chirino/conversation-identity/internal/plugin/kv/bolt"
	kvmemory "github.com/chirino/conversation-identity/internal/plugin/kv/memory"
	"github.com/chirino/conversation-identity/internal/plugin/lock/local"
	storememory "github.com/chirino/conversation-identity/internal/plugin/store/memory"
	storemetrics "github.com/chirino/conversation-identity/internal/plugin/store/metrics"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/conversations/x/messages", func(c *gin.Context) {
		n, err := io.Copy(io.Discard, c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, "%d", n)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/conversations/x/messages", strings.NewReader("0123456789")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/conversations/x/messages", strings.NewReader("012")))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Body.String())
}

func TestStartServer_InMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.KVType = "memory"
	cfg.StoreType = "memory"
	cfg.LockType = "local"
	cfg.Listener.Port = 0
	cfg.TimeZone = "UTC"
	cfg.APIKeys = map[string]string{"k1": "gateway"}

	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()
	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Port())
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/v1/conversations/5511999999999/messages",
		strings.NewReader(`{"role":"user","content":"meu cpf e 111.444.777-35","timestamp":"2024-05-10T12:00:00Z"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "k1")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, base+"/v1/identities/wa/5511999999999/link",
		strings.NewReader(`{"businessId":"111.444.777-35"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "k1")
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var linked struct {
		ConversationID string `json:"conversationId"`
		Messages       int    `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&linked))
	canonical, err := identity.CanonicalIDFor("11144477735")
	require.NoError(t, err)
	assert.Equal(t, canonical, linked.ConversationID)
	assert.Equal(t, 1, linked.Messages)

	msgs, err := srv.Store.ListMessages(ctx, canonical, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestStartServer_ReleasesBackendsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.KVType = "bolt"
	cfg.BoltPath = path
	cfg.StoreType = "memory"
	cfg.LockType = "none"
	cfg.Listener.Port = 0
	cfg.TimeZone = "Nowhere/Atlantis"

	ctx := config.WithContext(context.Background(), &cfg)
	_, err := StartServer(ctx, &cfg)
	require.ErrorContains(t, err, "invalid time zone")

	// The bolt file lock must be free again.
	kv, err := boltkv.Open(path)
	require.NoError(t, err)
	require.NoError(t, kv.Close())
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

type closingKV struct {
	registrykv.KeyValueStore
	*closeCounter
}

type closingStore struct {
	registrystore.Store
	*closeCounter
}

type closingLocker struct {
	registrylock.Locker
	*closeCounter
}

func TestBackendsClose_ClosesEveryBackend(t *testing.T) {
	kv, store, locker := &closeCounter{}, &closeCounter{}, &closeCounter{}
	b := Backends{
		KV:     closingKV{kvmemory.New(), kv},
		Store:  storemetrics.Wrap(closingStore{storememory.New(50), store}),
		Locker: closingLocker{local.New(), locker},
	}
	require.NoError(t, b.Close())
	assert.Equal(t, 1, kv.n)
	assert.Equal(t, 1, store.n)
	assert.Equal(t, 1, locker.n)

	assert.NoError(t, Backends{}.Close())
}
