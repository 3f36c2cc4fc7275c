package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gatewaylabs/toolgate/internal/embeddings"
	"github.com/gatewaylabs/toolgate/internal/health"
	"github.com/gatewaylabs/toolgate/internal/registry/handler"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
	"github.com/gatewaylabs/toolgate/internal/registry/storage"
	"github.com/gatewaylabs/toolgate/internal/scanner"
	"github.com/gatewaylabs/toolgate/internal/search"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("registry exited with error", zap.Error(err))
	}
}

func setDefaults() {
	viper.SetDefault("registry.port", 8080)
	viper.SetDefault("registry.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("registry.rate_limit_rps", 20)
	viper.SetDefault("registry.auth_secret", "")

	viper.SetDefault("servers_dir", "data/servers")
	viper.SetDefault("agents_dir", "data/agents")
	viper.SetDefault("scans_root", "data")

	viper.SetDefault("embeddings.provider", embeddings.ProviderLocal)
	viper.SetDefault("embeddings.model_name", "")
	viper.SetDefault("embeddings.model_dimensions", embeddings.DefaultLocalDimensions)
	viper.SetDefault("embeddings.api_key", "")
	viper.SetDefault("embeddings.api_base", "")
	viper.SetDefault("embeddings.aws_region", "")

	viper.SetDefault("health_check_interval_seconds", 300)
	viper.SetDefault("health_check_timeout_seconds", 2)

	for _, prefix := range []string{"security", "agent_security"} {
		viper.SetDefault(prefix+".enabled", false)
		viper.SetDefault(prefix+".scan_on_registration", true)
		viper.SetDefault(prefix+".block_unsafe", false)
		viper.SetDefault(prefix+".analyzers", "")
		viper.SetDefault(prefix+".scan_timeout_seconds", scanner.DefaultScanTimeout)
		viper.SetDefault(prefix+".llm_api_key", "")
		viper.SetDefault(prefix+".add_security_pending_tag", true)
	}
	viper.SetDefault("security.scan_concurrency", scanner.DefaultScanConcurrency)
}

func scanConfig(prefix string) scanner.Config {
	return scanner.Config{
		Enabled:               viper.GetBool(prefix + ".enabled"),
		ScanOnRegistration:    viper.GetBool(prefix + ".scan_on_registration"),
		BlockUnsafe:           viper.GetBool(prefix + ".block_unsafe"),
		Analyzers:             viper.GetString(prefix + ".analyzers"),
		ScanTimeoutSeconds:    viper.GetInt(prefix + ".scan_timeout_seconds"),
		LLMAPIKey:             viper.GetString(prefix + ".llm_api_key"),
		AddSecurityPendingTag: viper.GetBool(prefix + ".add_security_pending_tag"),
	}
}

func run(logger *zap.Logger) error {
	viper.SetConfigName("toolgate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("TOOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// Stores
	serversDir := viper.GetString("servers_dir")
	agentsDir := viper.GetString("agents_dir")
	serverStore := storage.NewServerStore(serversDir, logger)
	if err := serverStore.Load(); err != nil {
		return fmt.Errorf("load server store: %w", err)
	}
	agentStore := storage.NewAgentStore(agentsDir, logger)
	if err := agentStore.Load(); err != nil {
		return fmt.Errorf("load agent store: %w", err)
	}

	// Embeddings + search index
	embedder, err := embeddings.New(embeddings.Config{
		Provider:        viper.GetString("embeddings.provider"),
		ModelName:       viper.GetString("embeddings.model_name"),
		ModelDimensions: viper.GetInt("embeddings.model_dimensions"),
		APIKey:          viper.GetString("embeddings.api_key"),
		APIBase:         viper.GetString("embeddings.api_base"),
		AWSRegion:       viper.GetString("embeddings.aws_region"),
	}, logger)
	if err != nil {
		return fmt.Errorf("embeddings backend: %w", err)
	}

	index := search.NewIndex(serversDir, embedder, logger)
	if err := index.Load(); err != nil {
		return fmt.Errorf("load search index: %w", err)
	}
	engine := search.NewEngine(index, logger)
	indexSync := service.NewIndexSync(engine, logger)

	// Services share per-path locks with the scan orchestrator so toggles
	// and verdicts serialize.
	locks := storage.NewPathLocks()
	serverSvc := service.NewServerService(serverStore, indexSync, locks, logger)
	agentSvc := service.NewAgentService(agentStore, indexSync, engine, locks, logger)
	agentSvc.SetHealthTimeout(time.Duration(viper.GetInt("health_check_timeout_seconds")) * time.Second)
	catalogSvc := service.NewCatalogService(serverStore)

	// Scan orchestrator
	scansRoot := viper.GetString("scans_root")
	runner := scanner.NewCommandRunner(scanner.DefaultServerScannerBin, scanner.DefaultAgentScannerBin, logger)
	orchestrator := scanner.New(scanner.Options{
		ServerConfig:  scanConfig("security"),
		AgentConfig:   scanConfig("agent_security"),
		ServerScanner: runner,
		AgentScanner:  runner,
		ServerArchive: scanner.NewArchive(filepath.Join(scansRoot, scanner.ServerScanDir), logger),
		AgentArchive:  scanner.NewArchive(filepath.Join(scansRoot, scanner.AgentScanDir), logger),
		Servers:       serverStore,
		Agents:        agentStore,
		Reindexer:     indexSync,
		Locks:         locks,
		Workers:       viper.GetInt("security.scan_concurrency"),
		Logger:        logger,
	})
	serverSvc.SetScanner(orchestrator)
	agentSvc.SetScanner(orchestrator)
	orchestrator.SetMetricsRecord(handler.RecordScan)

	// Gauges refresh after every index write; seed them once from the
	// freshly loaded stores.
	refreshGauges := func() {
		handler.SetEntitiesGauge("server", "enabled", float64(len(serverStore.EnabledPaths())))
		handler.SetEntitiesGauge("server", "disabled", float64(len(serverStore.DisabledPaths())))
		handler.SetEntitiesGauge("agent", "enabled", float64(len(agentStore.EnabledPaths())))
		handler.SetEntitiesGauge("agent", "disabled", float64(len(agentStore.DisabledPaths())))
		handler.SetIndexSize(index.Size())
	}
	indexSync.SetChangeObserver(refreshGauges)
	refreshGauges()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	orchestrator.Start(rootCtx)

	// Health prober
	checker := health.New(service.NewHealthTargets(serverStore, agentStore), health.Config{
		CheckInterval: time.Duration(viper.GetInt("health_check_interval_seconds")) * time.Second,
		ProbeTimeout:  time.Duration(viper.GetInt("health_check_timeout_seconds")) * time.Second,
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)

	// The prober gets its own done channel so it never races main for the
	// one buffered signal.
	proberDone := make(chan struct{})
	go checker.Start(proberDone)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Handlers
	auth := handler.NewAuthenticator(viper.GetString("registry.auth_secret"), logger)
	serverHandler := handler.NewServerHandler(serverSvc, logger)
	agentHandler := handler.NewAgentHandler(agentSvc, logger)
	searchHandler := handler.NewSearchHandler(engine, logger)
	catalogHandler := handler.NewCatalogHandler(catalogSvc, logger)
	wkHandler := handler.NewWellKnownHandler(serverSvc, checker, logger)

	// Router
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())

	corsOrigins := viper.GetStringSlice("registry.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	rps := viper.GetInt("registry.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// Public surface
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())
	wkHandler.Register(router)
	catalogHandler.Register(router)

	// Authenticated API
	api := router.Group("/api")
	api.Use(auth.Middleware())
	serverHandler.Register(api)
	agentHandler.Register(api)
	searchHandler.Register(api)

	httpPort := viper.GetInt("registry.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("registry HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down registry...")
	close(proberDone)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	orchestrator.Close()

	logger.Info("registry stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
