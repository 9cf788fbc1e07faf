package serve

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	registryroute "github.com/chirino/conversation-identity/internal/registry/route"
	"github.com/chirino/conversation-identity/internal/security"
	"github.com/gin-gonic/gin"
)

// mountManagement mounts the management route plugins (/health, /ready,
// /metrics). With a dedicated management port they get their own engine and
// listener; otherwise they share the main router.
func mountManagement(cfg *config.Config, main *gin.Engine) (*Listener, error) {
	if !cfg.ManagementListenerEnabled {
		return nil, registryroute.Mount(main, registryroute.RouteTypeManagement)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	}
	if err := registryroute.Mount(router, registryroute.RouteTypeManagement); err != nil {
		return nil, err
	}

	// The management listener shares the main listener's certificate.
	mgmtCfg := cfg.ManagementListener
	mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
	mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
	if !mgmtCfg.EnablePlainText && !mgmtCfg.EnableTLS {
		mgmtCfg.EnablePlainText = true
	}
	lis, err := startListener("management", mgmtCfg, router)
	if err != nil {
		return nil, fmt.Errorf("failed to start management server: %w", err)
	}
	log.Info("Management server listening", "addr", lis.Addr)
	return lis, nil
}
