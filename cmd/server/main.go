package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appmetering "github.com/voxsuite/backend/internal/application/metering"
	"github.com/voxsuite/backend/internal/infrastructure/auth"
	"github.com/voxsuite/backend/internal/infrastructure/cache"
	"github.com/voxsuite/backend/internal/infrastructure/config"
	"github.com/voxsuite/backend/internal/infrastructure/logger"
	"github.com/voxsuite/backend/internal/infrastructure/persistence"
	"github.com/voxsuite/backend/internal/infrastructure/telemetry"
	"github.com/voxsuite/backend/internal/interfaces/http/handler"
	"github.com/voxsuite/backend/internal/interfaces/http/middleware"
	"github.com/voxsuite/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting VoxSuite Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Tracing
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Database connection with zap-backed GORM logging
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.EnableDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled: cfg.Telemetry.Enabled && cfg.Telemetry.DBTracingEnabled,
	}, log); err != nil {
		log.Warn("Failed to enable database tracing", zap.Error(err))
	}

	// Redis backs the plan cache and token revocation. Both fall back to
	// their persistent source, so a missing Redis degrades rather than
	// aborts startup.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing redis client", zap.Error(err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis unreachable, plan cache and token revocation degraded", zap.Error(err))
	} else {
		log.Info("Redis connected successfully")
	}

	// Repositories
	accountRepo := persistence.NewAccountRepository(db.DB)
	historyRepo := persistence.NewUsageHistoryRepository(db.DB)
	planRepo := persistence.NewPlanRepository(db.DB)

	// Seed the built-in plan catalog; existing rows win
	if err := planRepo.SeedDefaults(context.Background()); err != nil {
		log.Fatal("Failed to seed plan catalog", zap.Error(err))
	}

	planCache := cache.NewRedisPlanCache(redisClient, planRepo,
		cache.WithPlanCacheTTL(cfg.Ledger.PlanCacheTTL),
		cache.WithPlanCacheLogger(log),
	)

	// Application services
	quotaService := appmetering.NewQuotaService(accountRepo, planCache, log)
	ledgerService := appmetering.NewLedgerService(accountRepo, planCache, log,
		appmetering.LedgerServiceConfig{MaxRetries: cfg.Ledger.DeductMaxRetries})
	rolloverService := appmetering.NewRolloverService(accountRepo, log)

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT)
	tokenRevoker := auth.NewRedisTokenRevoker(redisClient)

	// HTTP handlers
	usageHandler := handler.NewUsageHandler(quotaService, ledgerService, historyRepo)
	adminHandler := handler.NewAdminHandler(rolloverService)
	systemHandler := handler.NewSystemHandler()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db))

	// Versioned API routes behind JWT auth
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService:   jwtService,
		TokenRevoker: tokenRevoker,
		SkipPaths: []string{
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Logger: log,
	}))
	r.Use(middleware.TraceAttributes())

	// Deductions are the one mutation clients retry on timeouts, so they
	// get idempotency-key protection
	idempotencyStore := cache.NewRedisIdempotencyStore(redisClient)
	deductIdempotency := middleware.Idempotency(middleware.IdempotencyConfig{
		Store:  idempotencyStore,
		TTL:    cfg.Ledger.IdempotencyTTL,
		Logger: log,
	})

	usageRoutes := router.NewDomainGroup("usage", "/usage")
	usageRoutes.POST("/validate", usageHandler.ValidateUsage)
	usageRoutes.POST("/track", usageHandler.TrackUsage)
	usageRoutes.POST("/deduct", deductIdempotency, usageHandler.DeductUsage)
	usageRoutes.GET("/summary", usageHandler.GetUsageSummary)
	usageRoutes.GET("/history", usageHandler.GetUsageHistory)

	adminRoutes := router.NewDomainGroup("admin", "/admin")
	adminUsage := adminRoutes.Group("usage", "/usage")
	adminUsage.POST("/reset", adminHandler.ResetPeriod)
	adminUsage.GET("/statistics", adminHandler.GetStatistics)

	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	r.Register(usageRoutes).
		Register(adminRoutes).
		Register(systemRoutes)

	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler reports liveness including database reachability
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
