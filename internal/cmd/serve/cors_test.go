package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins(t *testing.T) {
	require.True(t, parseOrigins(" , ")["*"])
	origins := parseOrigins("https://chat.example.com/, https://app.example.com")
	assert.True(t, origins["https://chat.example.com"])
	assert.True(t, origins["https://app.example.com"])
	assert.False(t, origins["*"])
}

func TestCorsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware("https://chat.example.com"))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/v1/identities/:kind/:channelIdentity", ok)
	router.POST("/v1/identities/:kind/:channelIdentity/link", ok)
	router.GET("/metrics", ok)

	send := func(method, path, origin, requestMethod string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if requestMethod != "" {
			req.Header.Set("Access-Control-Request-Method", requestMethod)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodGet, "/v1/identities/web/abc", "https://chat.example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = send(http.MethodOptions, "/v1/identities/web/abc/link", "https://chat.example.com", http.MethodPost)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	rec = send(http.MethodGet, "/v1/identities/web/abc", "https://evil.example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = send(http.MethodOptions, "/v1/identities/web/abc/link", "https://evil.example.com", http.MethodPost)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(http.MethodGet, "/metrics", "https://chat.example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
