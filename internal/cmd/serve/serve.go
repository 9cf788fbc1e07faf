package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/conversation-identity/internal/plugin/kv/bolt"
	_ "github.com/chirino/conversation-identity/internal/plugin/kv/infinispan"
	_ "github.com/chirino/conversation-identity/internal/plugin/kv/memory"
	_ "github.com/chirino/conversation-identity/internal/plugin/kv/redis"
	_ "github.com/chirino/conversation-identity/internal/plugin/lock/local"
	_ "github.com/chirino/conversation-identity/internal/plugin/lock/none"
	_ "github.com/chirino/conversation-identity/internal/plugin/lock/redis"
	_ "github.com/chirino/conversation-identity/internal/plugin/route/system"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/memory"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/mongo"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/postgres"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/redis"
	_ "github.com/chirino/conversation-identity/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	readHeaderTimeoutSecs := 5
	var apiKeys string
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the conversation identity HTTP server",
		Flags: append(flags(&cfg, &readHeaderTimeoutSecs, &apiKeys), BackendFlags(&cfg)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			keys, err := config.ParseAPIKeys(apiKeys)
			if err != nil {
				return err
			}
			cfg.APIKeys = keys
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

// BackendFlags are the storage and identity flags shared by every
// sub-command that opens the backends.
func BackendFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Key-Value ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "kv-kind",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_KV_KIND"),
			Destination: &cfg.KVType,
			Value:       cfg.KVType,
			Usage:       "Alias and state backend (" + strings.Join(registrykv.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-hosts",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_REDIS_HOSTS", "REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_INFINISPAN_HOST"),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP host:port (e.g. localhost:11222)",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_INFINISPAN_USERNAME"),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_INFINISPAN_PASSWORD"),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},
		&cli.StringFlag{
			Name:        "bolt-path",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_BOLT_PATH"),
			Destination: &cfg.BoltPath,
			Value:       cfg.BoltPath,
			Usage:       "Bolt database file for the bolt kv backend",
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Category:    "Key-Value:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_SWEEP_INTERVAL"),
			Destination: &cfg.SweepInterval,
			Value:       cfg.SweepInterval,
			Usage:       "How often expired keys are purged from backends without native expiry (0 disables)",
		},

		// ── Conversation Store ────────────────────────────────────
		&cli.StringFlag{
			Name:        "store-kind",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "History and metadata backend (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres, sqlite or mongo store)",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.StringFlag{
			Name:        "mongo-database",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MONGO_DATABASE"),
			Destination: &cfg.MongoDatabase,
			Value:       cfg.MongoDatabase,
			Usage:       "Mongo database name when the URL does not name one",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Create or update the store schema on startup",
		},
		&cli.IntFlag{
			Name:        "history-limit",
			Category:    "Conversation Store:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_HISTORY_LIMIT"),
			Destination: &cfg.HistoryLimit,
			Value:       cfg.HistoryLimit,
			Usage:       "Messages kept per conversation on append; also the merge read window",
		},

		// ── Identity ──────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "state-ttl",
			Category:    "Identity:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_STATE_TTL"),
			Destination: &cfg.StateTTL,
			Value:       cfg.StateTTL,
			Usage:       "Expiry applied to migrated short-lived state entries",
		},
		&cli.StringFlag{
			Name:        "time-zone",
			Category:    "Identity:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_TIME_ZONE", "TZ"),
			Destination: &cfg.TimeZone,
			Value:       cfg.TimeZone,
			Usage:       "IANA zone whose midnight ends session credential state",
		},
		&cli.StringFlag{
			Name:        "lock-kind",
			Category:    "Identity:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_LOCK_KIND"),
			Destination: &cfg.LockType,
			Value:       cfg.LockType,
			Usage:       "Lease held around one merge and migrate (" + strings.Join(registrylock.Names(), "|") + ")",
		},
		&cli.DurationFlag{
			Name:        "lock-ttl",
			Category:    "Identity:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_LOCK_TTL"),
			Destination: &cfg.LockTTL,
			Value:       cfg.LockTTL,
			Usage:       "Expiry of a distributed link lease",
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int, apiKeys *string) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "prod or testing; testing accepts requests without an API key",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Answer CORS requests from browser-hosted web channel clients",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "api-keys",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_API_KEYS"),
			Destination: apiKeys,
			Usage:       "Comma-separated clientId=key pairs accepted via X-API-Key or Bearer",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONVERSATION_IDENTITY_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	srv, err := StartServer(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
