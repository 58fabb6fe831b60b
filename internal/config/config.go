package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
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

// Config holds all configuration for the federated memory service.
type Config struct {
	// BaseURL is the externally visible URL of this service. It is embedded in
	// WWW-Authenticate challenges and OAuth protected-resource metadata.
	BaseURL string

	// Database
	DBURL string

	// Run datastore migrations on startup.
	MigrateAtStart bool

	// DB pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime time.Duration

	// Embedding provider type: "openai" or "local".
	EmbedType string

	// OpenAI
	OpenAIAPIKey    string
	OpenAIModelName string
	OpenAIBaseURL   string

	// Embedding dimensions for the two tiers.
	EmbeddingDimensionFull       int
	EmbeddingDimensionCompressed int

	// EmbeddingCompression selects the compression function for the CMI tier:
	// "truncate" (deterministic truncation + L2 renormalization of the full
	// vector) or "native" (ask the provider for a short vector directly).
	// A deployment must never mix the two.
	EmbeddingCompression string

	// Embedding call timeout and retry budget.
	EmbedTimeout     time.Duration
	EmbedMaxAttempts int

	// Embedding cache backend: "ristretto", "redis", or "none".
	CacheType string
	RedisURL  string

	// Routing
	DefaultModule string
	// FanoutFactor scales the CMI candidate count: N = limit * FanoutFactor.
	FanoutFactor int

	// Sessions
	SessionIdleTimeout time.Duration
	ToolDeadline       time.Duration
	SSEKeepAlive       time.Duration

	// Auth
	OIDCIssuer       string
	OIDCDiscoveryURL string
	APIKeyPrefix     string

	// Reindex sweep
	ReindexInterval  time.Duration
	ReindexBatchSize int

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly
	// provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	CORSEnabled               bool
	CORSOrigins               string
	// MaxBodySize caps request bodies on the MCP transports, in bytes.
	MaxBodySize int64

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:                      "http://localhost:8080",
		MigrateAtStart:               true,
		DBMaxOpenConns:               25,
		DBMaxIdleConns:               5,
		DBConnMaxIdleTime:            5 * time.Minute,
		EmbedType:                    "openai",
		OpenAIModelName:              "text-embedding-3-small",
		OpenAIBaseURL:                "https://api.openai.com/v1",
		EmbeddingDimensionFull:       1536,
		EmbeddingDimensionCompressed: 512,
		EmbeddingCompression:         "truncate",
		EmbedTimeout:                 10 * time.Second,
		EmbedMaxAttempts:             3,
		CacheType:                    "ristretto",
		DefaultModule:                "personal",
		FanoutFactor:                 3,
		SessionIdleTimeout:           10 * time.Minute,
		ToolDeadline:                 30 * time.Second,
		SSEKeepAlive:                 25 * time.Second,
		APIKeyPrefix:                 "fmkey_",
		ReindexInterval:              5 * time.Minute,
		ReindexBatchSize:             500,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  4 << 20,
		DrainTimeout: 30,
	}
}
