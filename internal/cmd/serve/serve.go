package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/fedmem/federated-memory/internal/config"
	registrycache "github.com/fedmem/federated-memory/internal/registry/cache"
	registryembed "github.com/fedmem/federated-memory/internal/registry/embed"

	// Import all plugins to trigger init() registration
	_ "github.com/fedmem/federated-memory/internal/plugin/cache/noop"
	_ "github.com/fedmem/federated-memory/internal/plugin/cache/redis"
	_ "github.com/fedmem/federated-memory/internal/plugin/cache/ristretto"
	_ "github.com/fedmem/federated-memory/internal/plugin/embed/local"
	_ "github.com/fedmem/federated-memory/internal/plugin/embed/openai"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the federated memory MCP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "base-url",
			Category:    "Server:",
			Sources:     cli.EnvVars("BASE_URL", "FEDERATED_MEMORY_BASE_URL"),
			Destination: &cfg.BaseURL,
			Value:       cfg.BaseURL,
			Usage:       "Externally visible URL; embedded in OAuth challenges and discovery metadata",
		},
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_PORT", "PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS on the main listener",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics; when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_CORS"),
			Destination: &cfg.CORSEnabled,
			Value:       cfg.CORSEnabled,
			Usage:       "Enable CORS handling for browser-based MCP clients",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("DATABASE_URL", "FEDERATED_MEMORY_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Postgres connection URL",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_MIGRATE_AT_START"),
			Destination: &cfg.MigrateAtStart,
			Value:       cfg.MigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("DB_POOL_MAX", "FEDERATED_MEMORY_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.DurationFlag{
			Name:        "db-conn-max-idle-time",
			Category:    "Database:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_DB_CONN_MAX_IDLE_TIME"),
			Destination: &cfg.DBConnMaxIdleTime,
			Value:       cfg.DBConnMaxIdleTime,
			Usage:       "How long a connection may sit idle before being closed",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("OPENAI_API_KEY", "FEDERATED_MEMORY_OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_MODEL", "FEDERATED_MEMORY_EMBEDDING_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "Embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension-full",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_DIMENSION_FULL", "FEDERATED_MEMORY_EMBEDDING_DIMENSION_FULL"),
			Destination: &cfg.EmbeddingDimensionFull,
			Value:       cfg.EmbeddingDimensionFull,
			Usage:       "Vector dimension for module-level embeddings",
		},
		&cli.IntFlag{
			Name:        "embedding-dimension-compressed",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_DIMENSION_COMPRESSED", "FEDERATED_MEMORY_EMBEDDING_DIMENSION_COMPRESSED"),
			Destination: &cfg.EmbeddingDimensionCompressed,
			Value:       cfg.EmbeddingDimensionCompressed,
			Usage:       "Vector dimension for central index embeddings",
		},
		&cli.StringFlag{
			Name:        "embedding-compression",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_EMBEDDING_COMPRESSION"),
			Destination: &cfg.EmbeddingCompression,
			Value:       cfg.EmbeddingCompression,
			Usage:       "Compression for the central index tier (truncate|native); never mix within a deployment",
		},
		&cli.DurationFlag{
			Name:        "embedding-timeout",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_EMBEDDING_TIMEOUT"),
			Destination: &cfg.EmbedTimeout,
			Value:       cfg.EmbedTimeout,
			Usage:       "Per-call embedding provider timeout",
		},
		&cli.IntFlag{
			Name:        "embedding-max-attempts",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_EMBEDDING_MAX_ATTEMPTS"),
			Destination: &cfg.EmbedMaxAttempts,
			Value:       cfg.EmbedMaxAttempts,
			Usage:       "Retry budget for transient embedding failures",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Embedding cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("REDIS_URL", "FEDERATED_MEMORY_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for the redis cache backend",
		},

		// ── Routing ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "default-module",
			Category:    "Routing:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_DEFAULT_MODULE"),
			Destination: &cfg.DefaultModule,
			Value:       cfg.DefaultModule,
			Usage:       "Module that receives unclassifiable memories",
		},
		&cli.IntFlag{
			Name:        "fanout-factor",
			Category:    "Routing:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_FANOUT_FACTOR"),
			Destination: &cfg.FanoutFactor,
			Value:       cfg.FanoutFactor,
			Usage:       "Central index candidate multiplier: candidates = limit * factor",
		},

		// ── Sessions ──────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "session-idle-timeout",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("SESSION_IDLE_TIMEOUT", "FEDERATED_MEMORY_SESSION_IDLE_TIMEOUT"),
			Destination: &cfg.SessionIdleTimeout,
			Value:       cfg.SessionIdleTimeout,
			Usage:       "Idle timeout for MCP sessions",
		},
		&cli.DurationFlag{
			Name:        "tool-deadline",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("TOOL_DEADLINE", "FEDERATED_MEMORY_TOOL_DEADLINE"),
			Destination: &cfg.ToolDeadline,
			Value:       cfg.ToolDeadline,
			Usage:       "Per-invocation tool deadline",
		},
		&cli.DurationFlag{
			Name:        "sse-keep-alive",
			Category:    "Sessions:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_SSE_KEEP_ALIVE"),
			Destination: &cfg.SSEKeepAlive,
			Value:       cfg.SSEKeepAlive,
			Usage:       "SSE keep-alive interval; capped at 30s",
		},

		// ── Auth ──────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Auth:",
			Sources:     cli.EnvVars("OIDC_ISSUER", "FEDERATED_MEMORY_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OAuth/OIDC issuer URL; empty disables session bearer auth",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Auth:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "Discovery URL when it differs from the issuer (e.g. internal hostname)",
		},
		&cli.StringFlag{
			Name:        "api-key-prefix",
			Category:    "Auth:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_API_KEY_PREFIX"),
			Destination: &cfg.APIKeyPrefix,
			Value:       cfg.APIKeyPrefix,
			Usage:       "Prefix that distinguishes API keys from session bearers",
		},

		// ── Maintenance ───────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "reindex-interval",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_REINDEX_INTERVAL"),
			Destination: &cfg.ReindexInterval,
			Value:       cfg.ReindexInterval,
			Usage:       "Interval between index coverage sweeps",
		},
		&cli.IntFlag{
			Name:        "reindex-batch-size",
			Category:    "Maintenance:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_REINDEX_BATCH_SIZE"),
			Destination: &cfg.ReindexBatchSize,
			Value:       cfg.ReindexBatchSize,
			Usage:       "Rows scanned per sweep batch",
		},

		// ── Observability ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Observability:",
			Sources:     cli.EnvVars("FEDERATED_MEMORY_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=federated-memory",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
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
