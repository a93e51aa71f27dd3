package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	entitlementapp "github.com/casevault/backend/internal/application/entitlement"
	quotaapp "github.com/casevault/backend/internal/application/quota"
	"github.com/casevault/backend/internal/infrastructure/cache"
	"github.com/casevault/backend/internal/infrastructure/catalog"
	"github.com/casevault/backend/internal/infrastructure/config"
	"github.com/casevault/backend/internal/infrastructure/logger"
	"github.com/casevault/backend/internal/infrastructure/persistence"
	"github.com/casevault/backend/internal/infrastructure/scheduler"
	"github.com/casevault/backend/internal/interfaces/http/handler"
	"github.com/casevault/backend/internal/interfaces/http/middleware"
	"github.com/casevault/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CaseVault Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Load the tier catalog
	tierCatalog, err := catalog.New(cfg.Catalog, log)
	if err != nil {
		log.Fatal("Failed to load tier catalog", zap.Error(err))
	}
	log.Info("Tier catalog loaded",
		zap.String("path", cfg.Catalog.Path),
		zap.Int("tiers", len(tierCatalog.Tiers())),
	)

	// Initialize repositories
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	counterRepo := persistence.NewGormUsageCounterRepository(db.DB)
	reservationRepo := persistence.NewGormReservationRepository(db.DB)
	chargeRepo := persistence.NewGormOverageChargeRepository(db.DB)

	// Idempotency store guards period close against double-charging.
	// Redis when available, in-memory otherwise.
	idempotencyFactory := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
	)
	idempotencyStore, err := idempotencyFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Initialize application services
	enforcerConfig := quotaapp.DefaultEnforcerConfig()
	if cfg.Quota.ReservationTTL > 0 {
		enforcerConfig.ReservationTTL = cfg.Quota.ReservationTTL
	}
	if cfg.Quota.MaxRetries > 0 {
		enforcerConfig.MaxRetries = cfg.Quota.MaxRetries
	}
	enforcer := quotaapp.NewEnforcer(subscriptionRepo, counterRepo, reservationRepo, tierCatalog, log, enforcerConfig)

	subscriptionService := entitlementapp.NewSubscriptionService(subscriptionRepo, counterRepo, tierCatalog, log)

	periodCloseConfig := quotaapp.DefaultPeriodCloseConfig()
	if cfg.Scheduler.BatchSize > 0 {
		periodCloseConfig.BatchSize = cfg.Scheduler.BatchSize
	}
	if cfg.Quota.IdempotencyTTL > 0 {
		periodCloseConfig.IdempotencyTTL = cfg.Quota.IdempotencyTTL
	}
	periodCloseService := quotaapp.NewPeriodCloseService(
		subscriptionRepo, counterRepo, reservationRepo, chargeRepo,
		tierCatalog, idempotencyStore, log, periodCloseConfig,
	)

	expiryConfig := quotaapp.DefaultExpiryConfig()
	if cfg.Scheduler.BatchSize > 0 {
		expiryConfig.BatchSize = cfg.Scheduler.BatchSize
	}
	if cfg.Quota.ReservationRetention > 0 {
		expiryConfig.RetainResolvedFor = cfg.Quota.ReservationRetention
	}
	expiryService := quotaapp.NewReservationExpiryService(reservationRepo, counterRepo, log, expiryConfig)

	// Start background schedulers
	periodCloseSchedulerConfig := scheduler.DefaultPeriodCloseSchedulerConfig()
	periodCloseSchedulerConfig.Enabled = cfg.Scheduler.Enabled
	if cfg.Scheduler.PeriodCloseInterval > 0 {
		periodCloseSchedulerConfig.Interval = cfg.Scheduler.PeriodCloseInterval
	}
	if cfg.Scheduler.JobTimeout > 0 {
		periodCloseSchedulerConfig.JobTimeout = cfg.Scheduler.JobTimeout
	}
	periodCloseScheduler := scheduler.NewPeriodCloseScheduler(periodCloseService, log, periodCloseSchedulerConfig)
	if err := periodCloseScheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start period close scheduler", zap.Error(err))
	}
	defer func() {
		if err := periodCloseScheduler.Stop(context.Background()); err != nil {
			log.Error("Error stopping period close scheduler", zap.Error(err))
		}
	}()

	sweeperConfig := scheduler.DefaultReservationSweeperConfig()
	sweeperConfig.Enabled = cfg.Scheduler.Enabled
	if cfg.Scheduler.SweepInterval > 0 {
		sweeperConfig.Interval = cfg.Scheduler.SweepInterval
	}
	if cfg.Scheduler.JobTimeout > 0 {
		sweeperConfig.JobTimeout = cfg.Scheduler.JobTimeout
	}
	reservationSweeper := scheduler.NewReservationSweeper(expiryService, log, sweeperConfig)
	if err := reservationSweeper.Start(context.Background()); err != nil {
		log.Fatal("Failed to start reservation sweeper", zap.Error(err))
	}
	defer func() {
		if err := reservationSweeper.Stop(context.Background()); err != nil {
			log.Error("Error stopping reservation sweeper", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	quotaHandler := handler.NewQuotaHandler(enforcer)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService)
	catalogHandler := handler.NewCatalogHandler(tierCatalog)
	billingHandler := handler.NewBillingHandler(chargeRepo)
	systemHandler := handler.NewSystemHandler(db)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	rateLimiter := middleware.NewRateLimiter(300, time.Minute)
	defer rateLimiter.Close()

	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.RateLimit(rateLimiter))

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(quotaHandler).
		Register(subscriptionHandler).
		Register(catalogHandler).
		Register(billingHandler).
		Register(systemHandler)
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
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
