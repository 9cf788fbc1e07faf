package serve

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/identity"
	"github.com/chirino/conversation-identity/internal/plugin/route/conversations"
	"github.com/chirino/conversation-identity/internal/plugin/route/identities"
	routesystem "github.com/chirino/conversation-identity/internal/plugin/route/system"
	storemetrics "github.com/chirino/conversation-identity/internal/plugin/store/metrics"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	registrymigrate "github.com/chirino/conversation-identity/internal/registry/migrate"
	registryroute "github.com/chirino/conversation-identity/internal/registry/route"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/chirino/conversation-identity/internal/security"
	"github.com/chirino/conversation-identity/internal/service"
	"github.com/gin-gonic/gin"
)

// readinessKey is read by the /ready probe to check the kv backend.
const readinessKey = "conv:ready:probe"

// Server holds the running server and its subsystems.
type Server struct {
	Config     *config.Config
	KV         registrykv.KeyValueStore
	Store      registrystore.Store
	Resolver   *identity.IdentityResolver
	Router     *gin.Engine
	Main       *Listener
	Management *Listener
	stop       context.CancelFunc
	backends   Backends
}

// Port is the bound port of the main listener.
func (s *Server) Port() int { return s.Main.Port }

// Shutdown stops background services and gracefully drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.Management != nil {
		_ = s.Management.Close(ctx)
	}
	err := s.Main.Close(ctx)
	if cerr := s.backends.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Backends are the plugin instances selected by config.
type Backends struct {
	KV     registrykv.KeyValueStore
	Store  registrystore.Store
	Locker registrylock.Locker
}

// Close releases every backend that holds a client or a file lock. Backends
// that were never loaded are skipped.
func (b Backends) Close() error {
	var errs []error
	for _, backend := range []any{b.Locker, b.Store, b.KV} {
		if c, ok := backend.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// LoadBackends selects and initializes the kv, store and lock plugins named in
// cfg. ctx must carry cfg.
func LoadBackends(ctx context.Context, cfg *config.Config) (b Backends, err error) {
	defer func() {
		if err != nil {
			_ = b.Close()
			b = Backends{}
		}
	}()

	kvLoader, err := registrykv.Select(cfg.KVType)
	if err != nil {
		return b, err
	}
	kv, err := kvLoader(ctx)
	if err != nil {
		return b, fmt.Errorf("failed to initialize kv store: %w", err)
	}
	b.KV = kv

	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return b, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return b, fmt.Errorf("failed to initialize store: %w", err)
	}
	b.Store = storemetrics.Wrap(store)

	lockLoader, err := registrylock.Select(cfg.LockType)
	if err != nil {
		return b, err
	}
	locker, err := lockLoader(ctx)
	if err != nil {
		return b, fmt.Errorf("failed to initialize lock: %w", err)
	}
	b.Locker = locker
	return b, nil
}

// StartServer initializes all subsystems and starts the HTTP listeners.
// Use cfg.Listener.Port=0 for a random port; the bound one is Server.Port().
func StartServer(ctx context.Context, cfg *config.Config) (srv *Server, err error) {
	log.Info("Starting conversation identity service",
		"port", cfg.Listener.Port,
		"kv", cfg.KVType,
		"store", cfg.StoreType,
		"lock", cfg.LockType,
		"historyLimit", cfg.ResolvedHistoryLimit(),
		"stateTTL", cfg.StateTTL,
		"timeZone", cfg.TimeZone,
	)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	backends, err := LoadBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	var management *Listener
	defer func() {
		if err == nil {
			return
		}
		stop()
		if management != nil {
			_ = management.Close(ctx)
		}
		if cerr := backends.Close(); cerr != nil {
			log.Warn("Failed to release backends", "err", cerr)
		}
	}()

	resolver, err := identity.New(cfg, backends.KV, backends.Store, backends.Locker)
	if err != nil {
		return nil, err
	}

	if sweeper := service.NewSweeperService(backends.KV, cfg.SweepInterval); sweeper != nil {
		go sweeper.Start(bgCtx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	if err = registryroute.Mount(router, registryroute.RouteTypeMain); err != nil {
		return nil, err
	}

	auth := security.AuthMiddleware(security.NewKeyResolver(cfg))
	identities.MountRoutes(router, resolver, auth)
	conversations.MountRoutes(router, backends.Store, auth)

	if management, err = mountManagement(cfg, router); err != nil {
		return nil, err
	}

	mainLis, err := startListener("main", cfg.Listener, router)
	if err != nil {
		return nil, err
	}
	log.Info("Server listening",
		"port", mainLis.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	kv := backends.KV
	routesystem.MarkReady(func(ctx context.Context) error {
		_, _, err := kv.Get(ctx, readinessKey)
		return err
	})
	return &Server{
		Config:     cfg,
		KV:         backends.KV,
		Store:      backends.Store,
		Resolver:   resolver,
		Router:     router,
		Main:       mainLis,
		Management: management,
		stop:       stop,
		backends:   backends,
	}, nil
}
