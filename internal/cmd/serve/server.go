package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/fedmem/federated-memory/internal/category"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/mcpserver"
	"github.com/fedmem/federated-memory/internal/module"
	registrycache "github.com/fedmem/federated-memory/internal/registry/cache"
	registryembed "github.com/fedmem/federated-memory/internal/registry/embed"
	registrymigrate "github.com/fedmem/federated-memory/internal/registry/migrate"
	"github.com/fedmem/federated-memory/internal/relationship"
	"github.com/fedmem/federated-memory/internal/router"
	"github.com/fedmem/federated-memory/internal/security"
	"github.com/fedmem/federated-memory/internal/service"
	"github.com/fedmem/federated-memory/internal/storage"
	"github.com/fedmem/federated-memory/internal/userstore"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	DB              *gorm.DB
	Router          *router.Router
	Engine          *gin.Engine
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.closeMain(ctx)
}

// StartServer initializes all subsystems and starts serving MCP traffic.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting federated-memory",
		"port", cfg.Listener.Port,
		"embedding", cfg.EmbedType,
		"cache", cfg.CacheType,
		"defaultModule", cfg.DefaultModule,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if cfg.MigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	db, err := storage.Open(ctx)
	if err != nil {
		return nil, err
	}

	// Initialize the embedding provider and its cache. A missing cache is a
	// degradation, not a startup failure.
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var cache registrycache.VectorCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if c, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		cache = c
	}

	provider := embedding.NewProvider(embedder, cache, cfg)

	// Wire the module federation: the registry is created empty, the router
	// maintains the central index, and each module indexes through the router.
	registry := module.NewRegistry()
	index := router.NewGormIndex(db)
	rels := relationship.NewGormStore(db)
	rt := router.New(registry, index, rels, provider, cfg)
	for _, def := range module.StandardDefinitions() {
		store := vectorstore.NewPGStore(db, def.TableName, cfg.EmbeddingDimensionFull)
		if err := registry.Register(module.New(def, store, provider, rt)); err != nil {
			return nil, err
		}
	}

	users := userstore.NewGormUsers(db)
	var validator security.AccessTokenValidator
	if v := security.NewOIDCValidator(cfg); v != nil {
		validator = v
	}
	resolver := security.NewResolver(users, validator, cfg.APIKeyPrefix)
	categories := category.NewGormStore(db)

	mcps := mcpserver.New(cfg, rt, resolver, categories)
	go mcps.ReapIdleSessions(ctx)

	// Background index coverage sweeps.
	reindexer := service.NewReindexer(registry, index, rt, cfg.ReindexInterval, cfg.ReindexBatchSize)
	go reindexer.Start(ctx)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		engine.Use(security.AccessLogMiddleware())
	} else {
		engine.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	engine.Use(security.MetricsMiddleware())
	engine.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		engine.Use(corsMiddleware(cfg.CORSOrigins))
	}

	mountMCPRoutes(engine, cfg, mcps)

	// Management endpoints go on a dedicated listener when one is configured,
	// otherwise on the main port.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmt := gin.New()
		mgmt.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmt.Use(security.AccessLogMiddleware())
		}
		mountManagementRoutes(mgmt, db)
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		closeManagement, err = startHTTPServer(mgmtCfg, mgmt)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		mountManagementRoutes(engine, db)
	}

	closeMain, err := startHTTPServer(cfg.Listener, engine)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", cfg.Listener.Port,
		"tls", cfg.Listener.EnableTLS,
	)
	return &Server{
		Config:          cfg,
		DB:              db,
		Router:          rt,
		Engine:          engine,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}

// mountMCPRoutes wires both MCP transports plus the discovery endpoints.
func mountMCPRoutes(engine *gin.Engine, cfg *config.Config, mcps *mcpserver.Server) {
	streamable := gin.WrapH(mcps.StreamableHandler())
	engine.Any("/mcp", mcps.ChallengeMiddleware(), streamable)

	sseHandler, messageHandler := mcps.SSEHandlers()
	engine.GET("/t/:token/sse", gin.WrapH(sseHandler))
	engine.POST("/t/:token/message", gin.WrapH(messageHandler))

	engine.GET("/sse/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    mcpserver.ServerName,
			"version": mcpserver.ServerVersion,
			"transports": gin.H{
				"streamableHttp": "/mcp",
				"sse":            "/t/{token}/sse",
			},
		})
	})

	// OAuth protected-resource metadata is only published when an authority
	// is configured; token-in-URL deployments have nothing to discover.
	if cfg.OIDCIssuer != "" {
		engine.GET("/.well-known/oauth-protected-resource", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"resource":                 cfg.BaseURL,
				"authorization_servers":    []string{cfg.OIDCIssuer},
				"bearer_methods_supported": []string{"header"},
			})
		})
	}
}

func mountManagementRoutes(engine *gin.Engine, db *gorm.DB) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(pingCtx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}

// startHTTPServer starts an HTTP or HTTPS listener for the given handler and
// returns its shutdown function.
func startHTTPServer(cfg config.ListenerConfig, handler http.Handler) (func(context.Context) error, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed on port %d: %w", cfg.Port, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if cfg.EnableTLS {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			_ = lis.Close()
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		lis = tls.NewListener(lis, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
	}

	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "port", cfg.Port, "err", err)
		}
	}()

	var closeOnce sync.Once
	return func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if err := srv.Shutdown(ctx); err != nil && err != context.Canceled {
				shutdownErr = err
			}
		})
		return shutdownErr
	}, nil
}
