package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/conversation-identity/internal/registry/route"
)

// Probe reports whether a backing store can currently serve requests.
type Probe func(ctx context.Context) error

var (
	ready atomic.Bool
	probe atomic.Pointer[Probe]
)

// MarkReady flips /ready to 200 once StartServer has wired every store.
// The optional probe is consulted on every readiness request afterwards.
func MarkReady(p Probe) {
	if p != nil {
		probe.Store(&p)
	}
	ready.Store(true)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				if p := probe.Load(); p != nil {
					ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
					defer cancel()
					if err := (*p)(ctx); err != nil {
						c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store_unavailable", "error": err.Error()})
						return
					}
				}
				c.JSON(http.StatusOK, gin.H{"status": "ready"})
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
