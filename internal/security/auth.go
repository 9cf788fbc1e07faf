package security

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyClientID is the gin context key for the authenticated client ID.
	ContextKeyClientID = "clientID"

	// AnonymousClient is the client ID given to unauthenticated callers in testing mode.
	AnonymousClient = "anonymous"
)

var (
	errMissingKey = errors.New("missing API key")
	errInvalidKey = errors.New("invalid API key")
)

// KeyResolver maps API keys to client IDs. It is built once at startup.
type KeyResolver struct {
	apiKeys     map[string]string
	testingMode bool
}

// NewKeyResolver creates a KeyResolver from the application config.
func NewKeyResolver(cfg *config.Config) *KeyResolver {
	if len(cfg.APIKeys) == 0 && cfg.Mode != config.ModeTesting {
		log.Warn("No API keys configured; every API request will be rejected")
	}
	return &KeyResolver{apiKeys: cfg.APIKeys, testingMode: cfg.Mode == config.ModeTesting}
}

// Resolve returns the client ID owning apiKey.
func (r *KeyResolver) Resolve(apiKey string) (string, error) {
	if apiKey == "" {
		if r.testingMode {
			return AnonymousClient, nil
		}
		return "", errMissingKey
	}
	for key, client := range r.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return client, nil
		}
	}
	return "", errInvalidKey
}

// GetClientID returns the authenticated client ID from the gin context.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}

func requestKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
		return strings.TrimSpace(token)
	}
	return ""
}

// AuthMiddleware rejects requests that do not carry a known API key in the
// X-API-Key header or as a bearer token.
func AuthMiddleware(resolver *KeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, err := resolver.Resolve(requestKey(c))
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ContextKeyClientID, clientID)
		c.Next()
	}
}
