package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	apierrors "github.com/CodexShaper-Devs/license-sub000/internal/errors"
	"github.com/CodexShaper-Devs/license-sub000/internal/hardware"
	"github.com/CodexShaper-Devs/license-sub000/internal/infrastructure"
	"github.com/CodexShaper-Devs/license-sub000/internal/keys"
	"github.com/CodexShaper-Devs/license-sub000/internal/license"
	"github.com/CodexShaper-Devs/license-sub000/internal/marketplace"
	customMiddleware "github.com/CodexShaper-Devs/license-sub000/internal/middleware"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
	"github.com/CodexShaper-Devs/license-sub000/internal/services"
	handlers "github.com/CodexShaper-Devs/license-sub000/internal/transport/http"
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Services      *ServiceContainer
	Clock         clock.Clock
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Repository *repository.GormRepository
	KeyStorage keys.BlobStorage
	License    *license.Service
	Health     *services.HealthService
}

// NewApplication loads configuration from the environment and builds the
// application with the process-wide logger.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("keys_backend", cfg.Keys.Backend),
		slog.Bool("redis_enabled", cfg.Redis.Enabled))

	return New(ctx, cfg, logger)
}

// New wires every component from cfg. On error, anything already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	a := &Application{
		Config: cfg,
		Logger: logger,
		Clock:  clock.Real(),
	}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	if err := a.initializeServices(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config

	db, err := repository.Open(ctx, cfg.Database, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
	}

	var cache repository.LicenseCache
	if a.Redis != nil {
		cache = repository.NewRedisCache(a.Redis, cfg.Redis.KeyPrefix, cfg.License.CacheTTL, a.Logger)
	} else {
		cache = repository.NewMemoryCache(cfg.License.CacheTTL, cfg.License.CacheMaxSize, a.Clock)
	}
	repo := repository.New(db, cache, a.Logger)

	storage, err := a.keyStorage()
	if err != nil {
		return err
	}
	km := keys.NewManager(storage, cfg.Keys.Version, cfg.Keys.Algorithm, a.Clock, a.Logger)
	engine, err := security.NewEngine(km, cfg.Keys.Algorithm, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create encryption engine: %w", err)
	}

	var resolver domains.Resolver
	if cfg.Domain.ResolveLocal {
		resolver = net.DefaultResolver
	}
	domainService := domains.NewService(
		domains.NewValidator(cfg.Domain.LocalSuffixes, resolver, cfg.Domain.VerificationTimeout, a.Logger),
		a.Clock,
		cfg.Domain,
		a.Logger,
		domains.NewDNSVerifier(cfg.Domain.DNSServer, cfg.Domain.TXTRecordPrefix, cfg.Domain.VerificationTimeout, a.Logger),
		domains.NewFileVerifier(nil, cfg.Domain.VerificationPath, cfg.Domain.VerificationTimeout, a.Logger),
	)

	var limiter hardware.AttemptLimiter
	if a.Redis != nil {
		limiter = hardware.NewRedisLimiter(a.Redis, cfg.Redis.KeyPrefix+":hw", cfg.Hardware.MaxAttempts, cfg.Hardware.AttemptWindow)
	} else {
		limiter = hardware.NewMemoryLimiter(cfg.Hardware.MaxAttempts, cfg.Hardware.AttemptWindow, a.Clock)
	}

	verifiers := []marketplace.Verifier{marketplace.NewManualVerifier(models.SourceOther)}
	if cfg.Marketplace.EnvatoToken != "" {
		verifiers = append(verifiers, marketplace.NewEnvatoVerifier(nil, cfg.Marketplace.EnvatoBaseURL, cfg.Marketplace.EnvatoToken, cfg.Marketplace.Timeout, a.Logger))
	} else {
		a.Logger.WarnContext(ctx, "Envato token not configured; envato purchase codes cannot be verified")
	}

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	licenseService := license.NewService(license.Dependencies{
		Repository:  repo,
		Security:    license.NewSecurityService(km, engine, cfg.Keys.Algorithm, a.Clock, a.Logger),
		Domains:     domainService,
		Hardware:    hardware.NewValidator(limiter, a.Clock, cfg.Hardware, cfg.License.CheckInInterval, a.Logger),
		Marketplace: marketplace.NewRegistry(verifiers...),
		Clock:       a.Clock,
		Config:      cfg.License,
		Metrics:     metrics,
		Logger:      a.Logger,
	})

	checks := []services.Check{services.DatabaseCheck(db), services.KeyStorageCheck(storage)}
	if a.Redis != nil {
		checks = append(checks, services.RedisCheck(a.Redis))
	}

	a.Services = &ServiceContainer{
		Repository: repo,
		KeyStorage: storage,
		License:    licenseService,
		Health:     services.NewHealthService(config.AppVersion, a.Clock, a.Logger, checks...),
	}
	return nil
}

func (a *Application) keyStorage() (keys.BlobStorage, error) {
	switch a.Config.Keys.Backend {
	case "memory":
		a.Logger.Warn("Key material is kept in memory and is lost on restart")
		return keys.NewMemoryStorage(), nil
	case "redis":
		if a.Redis == nil {
			return nil, errors.New("keys backend redis requires redis to be enabled")
		}
		return keys.NewRedisStorage(a.Redis, a.Config.Redis.KeyPrefix+":keys"), nil
	default:
		storage, err := keys.NewFileStorage(a.Config.Keys.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open key storage: %w", err)
		}
		return storage, nil
	}
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	// RequestID → RealIP → Actor must run before anything that logs.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.Actor)

	health := handlers.NewHealthHandler(a.Services.Health, a.Logger)
	r.Get("/healthz", health.LivenessCheck)
	r.Get("/readyz", health.ReadinessCheck)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(apierrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
				MaxAge:         300,
			}))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.Use(chimiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(customMiddleware.BodyLimit(customMiddleware.DefaultMaxBodySize))
		r.Use(customMiddleware.ContentTypeJSON)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		licenseHandler := handlers.NewLicenseHandler(
			a.Services.License,
			customMiddleware.NewValidator(a.Logger),
			errorHandler,
			a.Logger,
		)

		r.Mount("/api/v1/licenses", licenseHandler.ClientRoutes())
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AdminAuth(a.Config.Security.AdminToken, a.Logger))
			r.Mount("/api/v1/admin/licenses", licenseHandler.AdminRoutes())
		})
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Migrate creates or updates the schema for all models.
func (a *Application) Migrate(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Running schema migration", slog.String("driver", a.Config.Database.Driver))
	if err := repository.Migrate(ctx, a.DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.Logger.InfoContext(ctx, "Schema migration complete")
	return nil
}

// Start starts the HTTP server in the background. Errors other than a
// clean shutdown are delivered on the returned channel.
func (a *Application) Start(ctx context.Context) <-chan error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	status := a.Services.Health.ReadinessCheck(ctx)
	if status.Status != services.StatusReady {
		a.Logger.WarnContext(ctx, "Starting with unavailable dependencies", slog.Any("services", status.Services))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	a.close(shutdownCtx)

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) close(ctx context.Context) {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing redis client", slog.String("error", err.Error()))
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.ErrorContext(ctx, "Error closing database", slog.String("error", err.Error()))
			}
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := a.Start(ctx)
	select {
	case err := <-errCh:
		if err != nil {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			_ = a.Stop(context.Background())
			return err
		}
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	}

	return a.Stop(context.Background())
}
