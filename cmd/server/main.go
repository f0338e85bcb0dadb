package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openctemio/invitations/internal/config"
	"github.com/openctemio/invitations/internal/infra/http"
	"github.com/openctemio/invitations/internal/infra/http/handler"
	"github.com/openctemio/invitations/internal/infra/http/routes"
	"github.com/openctemio/invitations/internal/infra/jobs"
	"github.com/openctemio/invitations/internal/infra/postgres"
	"github.com/openctemio/invitations/internal/infra/redis"
	"github.com/openctemio/invitations/pkg/crypto"
	"github.com/openctemio/invitations/pkg/logger"
	"github.com/openctemio/invitations/pkg/tracing"
	"github.com/openctemio/invitations/pkg/validator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var showRoutes = flag.Bool("routes", false, "Print all registered routes and exit")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewBootstrap()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env, "version", version)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
		return 1
	}

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.Connect(ctx, &cfg.Database,
		postgres.WithStartupRetry(cfg.Database.ConnectAttempts, cfg.Database.ConnectBackoff),
		postgres.WithConnectLogger(log),
	)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if cfg.Database.AutoMigrate {
		if err := migrate(db, log); err != nil {
			log.Error("failed to migrate database", "error", err)
			return 1
		}
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	redis.RegisterPoolMetrics(prometheus.DefaultRegisterer, "invitations", redisClient)
	log.Info("redis connected")

	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	enc, err := newEncryptor(cfg)
	if err != nil {
		log.Error("failed to initialize encryption", "error", err)
		return 1
	}
	repos := NewRepositories(db, enc)

	services, err := NewServices(ctx, &ServiceDeps{
		Config:        cfg,
		Log:           log,
		Repos:         repos,
		RedisClient:   redisClient,
		EmailEnqueuer: jobClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Log:         log,
		Validator:   validator.New(),
		DB:          db,
		RedisClient: redisClient,
		Services:    services,
		Version:     version,
	})

	server := http.NewServer(cfg, log)

	publicLimit, stopLimiter, err := newPublicRateLimit(cfg, redisClient, services, log)
	if err != nil {
		log.Error("failed to initialize rate limiter", "error", err)
		return 1
	}
	server.OnShutdown(stopLimiter)

	routes.Register(server.Router(), handlers, routes.Options{
		TokenValidator:  services.Sessions,
		PublicRateLimit: publicLimit,
	}, log)

	if *showRoutes {
		for _, r := range http.CollectRoutes(server.Router()) {
			fmt.Printf("%-7s %s\n", r.Method, r.Path)
		}
		return 0
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Services: services,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if err := workers.Start(workerCtx, log); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before the workers go away.
	exitCode := 0
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}

	cancelWorkers()
	workers.Stop(shutdownCtx, log)

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("failed to flush traces", "error", err)
	}

	log.Info("application stopped")
	return exitCode
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	logCfg := logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	}
	if cfg.Log.SamplingEnabled {
		sampling := logger.DefaultSamplingConfig()
		//nolint:gosec // G115: validated non-negative in config.Validate()
		sampling.Threshold = uint64(cfg.Log.SamplingThreshold)
		//nolint:gosec // G115: validated non-negative in config.Validate()
		sampling.Every = uint64(cfg.Log.SamplingEvery)
		logCfg.Sampling = sampling
	}

	log := logger.New(logCfg)
	log.SetDefault()
	return log
}

func newEncryptor(cfg *config.Config) (crypto.Encryptor, error) {
	if !cfg.Encryption.IsConfigured() {
		return crypto.NoOpEncryptor{}, nil
	}
	return crypto.NewCipherFromHex(cfg.Encryption.Key)
}

func migrate(db *postgres.DB, log *logger.Logger) error {
	migrator, err := postgres.NewMigrator(db)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}
	v, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	log.Info("database migrated", "version", v, "dirty", dirty)
	return nil
}

// newPublicRateLimit limits the acceptance endpoints through Redis, with
// an in-process fallback. Rejections are written to the audit trail.
func newPublicRateLimit(cfg *config.Config, redisClient *redis.Client, services *Services, log *logger.Logger) (routes.Middleware, func(), error) {
	if !cfg.RateLimit.Enabled {
		log.Warn("public rate limiting disabled")
		return nil, func() {}, nil
	}
	store, err := redis.NewRateLimiter(redisClient, "invitation_acceptance", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	if err != nil {
		return nil, nil, err
	}
	mw, stop := routes.PublicRateLimit(cfg.RateLimit, store, handler.OnRateLimited(services.Audit), log)
	return mw, stop, nil
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
