package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMethods lists what a browser-hosted web channel may call, per API group.
// Probe and metrics routes are not exposed cross-origin.
var corsMethods = map[string]string{
	"/v1/identities/":    "GET, POST, OPTIONS",
	"/v1/conversations/": "GET, POST, PUT, OPTIONS",
}

func corsMethodsFor(path string) (string, bool) {
	for prefix, methods := range corsMethods {
		if strings.HasPrefix(path, prefix) {
			return methods, true
		}
	}
	return "", false
}

// corsMiddleware lets the web chat widget resolve and link its session id.
// Preflights from origins outside originsCSV are refused.
func corsMiddleware(originsCSV string) gin.HandlerFunc {
	origins := parseOrigins(originsCSV)
	allowAny := origins["*"]
	return func(c *gin.Context) {
		methods, ok := corsMethodsFor(c.Request.URL.Path)
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if !ok || origin == "" {
			c.Next()
			return
		}
		allowed := allowAny || origins[origin]
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !allowed {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		if preflight {
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func parseOrigins(raw string) map[string]bool {
	result := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimRight(strings.TrimSpace(part), "/"); v != "" {
			result[v] = true
		}
	}
	if len(result) == 0 {
		result["*"] = true
	}
	return result
}
