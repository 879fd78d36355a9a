package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/config"
	"github.com/clawcierge/clawcierge/internal/connection"
	"github.com/clawcierge/clawcierge/internal/pipeline"
	"github.com/clawcierge/clawcierge/internal/registry/handler"
	"github.com/clawcierge/clawcierge/internal/registry/repository"
	"github.com/clawcierge/clawcierge/internal/registry/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("clawcierge exited with error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.AppEnv == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	zc.Level = level
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// rootCtx ends on SIGINT/SIGTERM; every background loop hangs off it.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	// ── Wire up layers ────────────────────────────────────────────────────────
	agentRepo := repository.NewAgentRepository(db)
	keyRepo := repository.NewAPIKeyRepository(db)
	contractRepo := repository.NewContractRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	keys := service.NewKeyService(keyRepo, logger)
	reg := connection.NewRegistry(logger)
	contracts := service.NewContractService(contractRepo, policyRepo, logger)
	agents := service.NewAgentService(agentRepo, keys, contractRepo, reg, logger)
	tracker := service.NewTracker(requestRepo, logger)
	exec := pipeline.NewExecutor(cfg.PipelineStageTimeout, logger)
	dispatch := service.NewDispatcher(agentRepo, contracts, exec, tracker, reg, cfg.RequestExpiry, logger)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		router.Use(handler.RateLimiter(rootCtx, cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	infoHandler := handler.NewInfoHandler(db)
	router.GET("/healthz", infoHandler.Health)
	router.GET("/metrics", handler.MetricsHandler())

	wsCfg := handler.WSConfig{
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		HeartbeatTimeout:  cfg.WSHeartbeatTimeout,
		MaxMessageSize:    cfg.WSMaxMessageSize,
	}

	// Public surface: registration, resolve, directory, info, agent channel.
	v1 := router.Group("/v1")
	handler.NewAgentHandler(agents, logger).Register(v1)
	handler.NewDirectoryHandler(agents, logger).Register(v1)
	infoHandler.Register(v1)
	handler.NewWSHandler(keys, agents, tracker, reg, wsCfg, logger).Register(v1)

	// Key-authenticated surface: contract uploads, submit, poll.
	authed := router.Group("/v1")
	authed.Use(handler.BearerAuth(keys, logger))
	handler.NewContractHandler(contracts, logger).Register(authed)
	handler.NewRequestHandler(dispatch, logger).Register(authed)

	// ── Background: time out stale requests every 30 seconds ────────────────
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if _, err := tracker.ExpireStale(ctx); err != nil {
					logger.Warn("stale request sweep error", zap.Error(err))
				}
				handler.SetConnectedAgents(reg.Count())
				cancel()
			case <-rootCtx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("clawcierge listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-rootCtx.Done()
	stop()
	logger.Info("shutting down clawcierge...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("clawcierge stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
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
