// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bracken-sec/conmon/internal/authorization"
	authorizationpostgres "github.com/bracken-sec/conmon/internal/authorization/postgres"
	"github.com/bracken-sec/conmon/internal/changes"
	changespostgres "github.com/bracken-sec/conmon/internal/changes/postgres"
	"github.com/bracken-sec/conmon/internal/config"
	"github.com/bracken-sec/conmon/internal/evidence"
	evidences3 "github.com/bracken-sec/conmon/internal/evidence/s3"
	"github.com/bracken-sec/conmon/internal/incidents"
	incidentspostgres "github.com/bracken-sec/conmon/internal/incidents/postgres"
	"github.com/bracken-sec/conmon/internal/indicators"
	indicatorspostgres "github.com/bracken-sec/conmon/internal/indicators/postgres"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
	"github.com/bracken-sec/conmon/internal/pkg/metrics"
	"github.com/bracken-sec/conmon/internal/pkg/postgres"
	"github.com/bracken-sec/conmon/internal/reports"
	reportspostgres "github.com/bracken-sec/conmon/internal/reports/postgres"
	"github.com/bracken-sec/conmon/internal/sink"
	"github.com/bracken-sec/conmon/internal/validation"
	"github.com/bracken-sec/conmon/internal/validation/executor"
	validationpostgres "github.com/bracken-sec/conmon/internal/validation/postgres"
	"github.com/bracken-sec/conmon/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	scheduler     *validation.Scheduler
	sinkWorker    *sink.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application: the scheduler stops
// dispatching, the sink drains, then both HTTP servers close.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Stop producers before canceling the background context so the sink
	// can still drain buffered events.
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.sinkWorker != nil {
		a.sinkWorker.Stop()
	}
	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(httputil.ActorMiddleware)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	// Outbound event sink
	var publisher sink.Publisher = sink.NopPublisher{}
	if a.config.Sink.Enabled {
		sender := sink.NewWebhookSender(sink.WebhookConfig{
			URL:     a.config.Sink.WebhookURL,
			Timeout: a.config.Sink.Timeout,
		})
		worker := sink.NewWorker(sender, a.config.Sink.BufferSize)
		worker.Start(ctx)
		a.sinkWorker = worker
		publisher = worker
	}

	// Evidence store
	var evidenceStore evidence.Store
	if a.config.Evidence.Enabled {
		store, err := evidences3.New(ctx, evidences3.Config{
			Bucket: a.config.Evidence.S3Bucket,
			Prefix: a.config.Evidence.S3Prefix,
			Region: a.config.Evidence.AWSRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("create evidence store: %w", err)
		}
		evidenceStore = store
	}

	// Indicator ledger and authorization rollup reference each other:
	// the ledger triggers recounts, the rollup reads the ledger.
	indicatorsRepo := indicatorspostgres.NewRepository(a.db)
	authorizationRepo := authorizationpostgres.NewRepository(a.db)
	authorizationService := authorization.NewService(authorizationRepo, indicatorsRepo)
	indicatorsService := indicators.NewService(indicatorsRepo, evidenceStore, authorizationService)
	indicatorsHandler := indicators.NewHandler(indicatorsService)
	authorizationHandler := authorization.NewHandler(authorizationService)

	// Validation scheduler
	validationRepo := validationpostgres.NewRepository(a.db)
	validationService := validation.NewService(validationRepo, indicatorsService, publisher)

	var runner validation.Runner
	if a.config.Scheduler.Enabled {
		registry := executor.NewRegistry(
			executor.NewScannerExecutor(nil),
			executor.NewAPIProbeExecutor(nil),
			executor.NewConfigCheckExecutor(nil),
			executor.NewLogQueryExecutor(nil),
			executor.NewScriptExecutor(),
		)
		if evidenceStore != nil {
			registry.Register(executor.NewEvidenceFreshnessExecutor(evidenceStore))
		}

		schedulerConfig := validation.DefaultSchedulerConfig()
		schedulerConfig.ScanInterval = a.config.Scheduler.ScanInterval
		schedulerConfig.NumWorkers = a.config.Scheduler.Workers
		schedulerConfig.CheckTimeout = a.config.Scheduler.CheckTimeout
		schedulerConfig.LaunchesPerSec = a.config.Scheduler.LaunchesPerSec
		schedulerConfig.LaunchBurst = a.config.Scheduler.LaunchBurst

		scheduler := validation.NewScheduler(schedulerConfig, validationService, validationRepo, registry)
		scheduler.Start(ctx)
		a.scheduler = scheduler
		runner = scheduler
	}
	validationHandler := validation.NewHandler(validationService, runner)

	// Operator-driven lifecycles
	incidentsRepo := incidentspostgres.NewRepository(a.db)
	incidentsService := incidents.NewService(incidentsRepo, publisher)
	incidentsHandler := incidents.NewHandler(incidentsService)

	changesRepo := changespostgres.NewRepository(a.db)
	changesService := changes.NewService(changesRepo, publisher)
	changesHandler := changes.NewHandler(changesService)

	// Report aggregator reads all of the above, mutates none of them.
	reportsRepo := reportspostgres.NewRepository(a.db)
	reportsService := reports.NewService(reportsRepo, reports.Sources{
		Indicators: indicatorsService,
		Incidents:  incidentsService,
		Changes:    changesService,
		Rules:      validationService,
	}, publisher)
	reportsHandler := reports.NewHandler(reportsService)

	r.Route("/api/v1", func(r chi.Router) {
		indicatorsHandler.RegisterRoutes(r)
		validationHandler.RegisterRoutes(r)
		incidentsHandler.RegisterRoutes(r)
		changesHandler.RegisterRoutes(r)
		authorizationHandler.RegisterRoutes(r)
		reportsHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
