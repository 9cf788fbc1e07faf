package security

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs one line per request, keyed by route template.
// Channel identities and provisional conversation ids are phone numbers or
// session ids, so only their last four characters are logged. Canonical ids
// are already hashes and are logged whole. Requests whose path is in
// skipPaths are not logged.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if kind := c.Param("kind"); kind != "" {
			fields = append(fields, "kind", kind)
		}
		if id := c.Param("channelIdentity"); id != "" {
			fields = append(fields, "channelIdentity", MaskIdentity(id))
		}
		if id := c.Param("conversationId"); id != "" {
			if !strings.HasPrefix(id, "cpf:") {
				id = MaskIdentity(id)
			}
			fields = append(fields, "conversationId", id)
		}
		if client := GetClientID(c); client != "" {
			fields = append(fields, "client", client)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "err", c.Errors.Last().Error())
		}
		if c.Writer.Status() >= 500 {
			log.Warn("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}

// MaskIdentity keeps the last four characters of a channel identity.
func MaskIdentity(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}
