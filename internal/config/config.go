package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	// DefaultConfig names an IANA zone; images without zoneinfo still need it.
	_ "time/tzdata"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the conversation identity service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode requests without an API key are accepted.
	Mode string

	// Key-value backend for alias edges and conversation state entries.
	KVType string // "redis", "infinispan", "bolt" or "memory"

	// Conversation history + metadata backend.
	StoreType string // "redis", "postgres", "sqlite", "mongo" or "memory"

	// Lease used around one merge+migrate pair.
	LockType string // "none", "local" or "redis"
	LockTTL  time.Duration

	// Redis
	RedisURL string

	// Infinispan (RESP protocol, connects via go-redis under the covers)
	InfinispanHost           string // host:port (e.g. "localhost:11222")
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// Bolt file used by the "bolt" key-value backend.
	BoltPath string

	// Database (postgres, sqlite or mongo)
	DBURL          string
	DBMaxOpenConns int
	DBMaxIdleConns int
	MongoDatabase  string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// HistoryLimit bounds the conversation log on append and the merge fetch window.
	HistoryLimit int

	// StateTTL is the fixed expiry tier for migrated state entries.
	StateTTL time.Duration

	// TimeZone is the IANA location whose calendar day bounds session-scoped state.
	TimeZone string

	// SweepInterval controls how often expired keys are purged from backends
	// without native expiry (bolt, memory). Zero disables the sweeper.
	SweepInterval time.Duration

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool

	// CORS for browser-hosted web channel clients.
	CORSEnabled bool
	CORSOrigins string

	// APIKeys maps API key values to client IDs.
	APIKeys map[string]string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                     ModeProd,
		KVType:                   "redis",
		StoreType:                "redis",
		LockType:                 "none",
		LockTTL:                  10 * time.Second,
		InfinispanStartupTimeout: 30 * time.Second,
		BoltPath:                 "conversation-identity.bolt",
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           5,
		MongoDatabase:            "conversation_identity",
		DatastoreMigrateAtStart:  true,
		HistoryLimit:             50,
		StateTTL:                 time.Hour,
		TimeZone:                 "America/Sao_Paulo",
		SweepInterval:            time.Minute,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MaxBodySize:   1024 * 1024,
		DrainTimeout:  30,
		MetricsLabels: "service=conversation-identity",
	}
}

// Location resolves TimeZone, falling back to the process local time.
func (c *Config) Location() (*time.Location, error) {
	if c == nil || strings.TrimSpace(c.TimeZone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.TimeZone))
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// ResolvedHistoryLimit returns HistoryLimit or the default of 50.
func (c *Config) ResolvedHistoryLimit() int {
	if c == nil || c.HistoryLimit <= 0 {
		return 50
	}
	return c.HistoryLimit
}

// ParseAPIKeys parses "clientA=key1,clientB=key2" into a key → client map.
func ParseAPIKeys(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	keys := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 || idx == len(pair)-1 {
			return nil, fmt.Errorf("invalid api key %q: expected clientId=key", pair)
		}
		keys[strings.TrimSpace(pair[idx+1:])] = strings.TrimSpace(pair[:idx])
	}
	return keys, nil
}
