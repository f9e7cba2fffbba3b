// Package main provides the main entry point for the Exchange Bridge order desk
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Exchange-Bridge/app/handlers"
	"github.com/amirphl/Exchange-Bridge/app/middleware"
	"github.com/amirphl/Exchange-Bridge/app/router"
	"github.com/amirphl/Exchange-Bridge/app/scheduler"
	"github.com/amirphl/Exchange-Bridge/app/services"
	businessflow "github.com/amirphl/Exchange-Bridge/business_flow"
	"github.com/amirphl/Exchange-Bridge/config"
	"github.com/amirphl/Exchange-Bridge/migrations"
	"github.com/amirphl/Exchange-Bridge/models"
	"github.com/amirphl/Exchange-Bridge/repository"
	"github.com/amirphl/Exchange-Bridge/sequence"
	"github.com/amirphl/Exchange-Bridge/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	closeLog := utils.SetupLogger(utils.LogOptions{
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	defer func() { _ = closeLog() }()

	log.Printf("Starting Exchange Bridge %s (%s)...", cfg.Deployment.Version, cfg.Deployment.CommitHash)

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase opens the connection pool and applies the schema
func initializeDatabase(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		// unique violations surface as gorm.ErrDuplicatedKey for the order retry path
		TranslateError: true,
		Logger: gormlogger.New(log.Default(), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  utils.GormLogLevel(logLevel, cfg.SlowQueryLog),
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrations.Apply(ctx, sqlDB)
	if err != nil {
		return nil, err
	}

	log.Printf("Database connection established with %d max open connections, %d migrations applied",
		cfg.MaxOpenConns, len(applied))

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis. The returned function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf(`{"level":"warn","event":"redis_healthcheck_failed","error":%q}`, err.Error())
				}
				c()
			}
		}
	}()

	return cancel
}

// initializeCounterStore picks the backend the allocator keeps its daily counters in
func initializeCounterStore(cfg *config.ProductionConfig, db *gorm.DB, rc *redis.Client, orderRepo repository.ExchangeOrderRepository) (sequence.CounterStore, repository.SequenceCounterRepository, error) {
	switch cfg.Exchange.SequenceBackend {
	case config.SequenceBackendRedis:
		if rc == nil {
			return nil, nil, errors.New("redis sequence backend requires the cache to be enabled")
		}
		return sequence.NewRedisStore(rc, cfg.Cache.RedisPrefix, cfg.Exchange.CounterTTL, orderRepo), nil, nil
	case config.SequenceBackendMemory:
		log.Println("Using in-memory sequence counters; identifiers are unique to this process only")
		return sequence.NewMemoryStoreWithChecker(orderRepo), nil, nil
	default:
		counterRepo := repository.NewSequenceCounterRepository(db)
		return counterRepo, counterRepo, nil
	}
}

// initializeLicense runs the startup license gate and keeps re-checking in the background
func initializeLicense(cfg *config.ProductionConfig) (*services.LicenseServiceImpl, func(), error) {
	if !cfg.License.Enabled {
		return nil, func() {}, nil
	}

	instanceID := cfg.License.InstanceID
	if instanceID == "" {
		instanceID = services.DeriveInstanceID(cfg.Deployment.Domain)
	}

	cache, err := services.NewLicenseCache(cfg.License.CachePath, cfg.License.Key, instanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize license cache: %w", err)
	}

	license := services.NewLicenseService(services.LicenseOptions{
		ServerURL:     cfg.License.ServerURL,
		LicenseKey:    cfg.License.Key,
		Secret:        cfg.License.Secret,
		Domain:        cfg.Deployment.Domain,
		InstanceID:    instanceID,
		CheckInterval: cfg.License.CheckInterval,
		GracePeriod:   cfg.License.GracePeriod,
		Timeout:       cfg.License.Timeout,
	}, cache)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.License.Timeout+5*time.Second)
	status, err := license.Check(ctx)
	cancel()
	if err != nil && (status == nil || !status.Valid) {
		return nil, nil, fmt.Errorf("license check failed: %w", err)
	}
	if !status.Valid {
		return nil, nil, fmt.Errorf("license is not valid: %s", status.Message)
	}
	log.Printf(`{"level":"info","event":"license_valid","source":"%s","expires_at":"%s"}`,
		status.Source, status.ExpiresAt.Format(time.RFC3339))

	runCtx, stop := context.WithCancel(context.Background())
	go license.Run(runCtx)

	return license, stop, nil
}

// ensureBootstrapOperator creates the configured operator when it does not exist yet
func ensureBootstrapOperator(operatorRepo repository.OperatorRepository, cfg *config.ProductionConfig) error {
	username := cfg.Operator.BootstrapUsername
	if username == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	existing, err := operatorRepo.ByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to look up bootstrap operator: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Operator.BootstrapPassword), cfg.Security.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap operator password: %w", err)
	}

	now := utils.UTCNow()
	operator := &models.Operator{
		UUID:         uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     utils.ToPtr(true),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := operatorRepo.Save(ctx, operator); err != nil {
		return fmt.Errorf("failed to create bootstrap operator: %w", err)
	}

	log.Printf(`{"level":"info","event":"bootstrap_operator_created","username":%q}`, username)
	return nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 30*time.Second))
	}

	clock, err := sequence.NewSystemClock(cfg.Exchange.Timezone)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	orderRepo := repository.NewExchangeOrderRepository(db)
	rateRepo := repository.NewExchangeRateRepository(db)
	operatorRepo := repository.NewOperatorRepository(db)

	if err := ensureBootstrapOperator(operatorRepo, cfg); err != nil {
		return nil, err
	}

	store, counterRepo, err := initializeCounterStore(cfg, db, rc, orderRepo)
	if err != nil {
		return nil, err
	}
	allocator := sequence.NewAllocator(store, clock, sequence.WithLockTimeout(cfg.Exchange.LockTimeout))
	log.Printf("Reference allocator ready (prefix=%s, timezone=%s, backend=%s)",
		cfg.Exchange.ReferencePrefix, cfg.Exchange.Timezone, cfg.Exchange.SequenceBackend)

	if counterRepo != nil && cfg.Exchange.CounterRetention > 0 {
		janitor := scheduler.NewCounterJanitor(counterRepo, clock, cfg.Exchange.CounterRetention, cfg.Exchange.JanitorInterval, log.Default())
		stopFuncs = append(stopFuncs, janitor.Start(context.Background()))
	}

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	license, stopLicense, err := initializeLicense(cfg)
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, stopLicense)

	// Initialize flows
	exchangeFlow := businessflow.NewExchangeFlow(allocator, orderRepo, rateRepo, rc, &cfg.Cache, &cfg.Exchange, clock)
	operatorFlow := businessflow.NewOperatorFlow(operatorRepo, orderRepo, rateRepo, tokenService, rc, &cfg.Cache, &cfg.Exchange, clock)

	// Initialize handlers
	exchangeHandler := handlers.NewExchangeHandler(exchangeFlow)
	operatorHandler := handlers.NewOperatorHandler(operatorFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	var licenseChecker middleware.LicenseChecker
	if license != nil {
		licenseChecker = license
	}

	appRouter := router.NewFiberRouter(cfg, exchangeHandler, operatorHandler, authMiddleware, licenseChecker)

	fiberRouter := appRouter.(*router.FiberRouter)
	return &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
