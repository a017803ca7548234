// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docgen-gateway/internal/api"
	"github.com/JakeFAU/docgen-gateway/internal/artifact"
	"github.com/JakeFAU/docgen-gateway/internal/clock/system"
	"github.com/JakeFAU/docgen-gateway/internal/config"
	"github.com/JakeFAU/docgen-gateway/internal/download"
	"github.com/JakeFAU/docgen-gateway/internal/id/uuid"
	"github.com/JakeFAU/docgen-gateway/internal/invoker"
	"github.com/JakeFAU/docgen-gateway/internal/job"
	"github.com/JakeFAU/docgen-gateway/internal/lock"
	redislock "github.com/JakeFAU/docgen-gateway/internal/lock/redis"
	memorypublisher "github.com/JakeFAU/docgen-gateway/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/docgen-gateway/internal/publisher/pubsub"
	"github.com/JakeFAU/docgen-gateway/internal/staging"
	"github.com/JakeFAU/docgen-gateway/internal/storage"
	memorystorage "github.com/JakeFAU/docgen-gateway/internal/storage/memory"
	pgstore "github.com/JakeFAU/docgen-gateway/internal/storage/postgres"
	"github.com/JakeFAU/docgen-gateway/internal/store"
	"github.com/JakeFAU/docgen-gateway/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	service        *job.Service
	files          *download.Gateway
	history        store.HistoryRepository
	apiServer      *api.Server
	readyChecks    []api.Option
	closers        []namedCloser
	tracerShutdown func(context.Context) error
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	logger.Info("creating application",
		zap.Int("port", cfg.Server.Port),
		zap.String("output_dir", cfg.Paths.OutputDir),
		zap.String("upload_dir", cfg.Paths.UploadDir),
		zap.String("worker", cfg.Worker.Command),
		zap.String("lock", cfg.Jobs.Lock),
		zap.String("storage", cfg.Storage.Backend),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Service returns the job service.
func (a *App) Service() *job.Service {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every client opened by Build, newest first.
func (a *App) Close(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	a.logger.Info("shutdown complete")
	// Sync fails on terminals and pipes; nothing useful can be done about it.
	_ = a.logger.Sync()
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := build(ctx, app); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, app *App) error {
	cfg := app.cfg

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	if tp != nil {
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")
	if err = os.MkdirAll(cfg.Paths.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return err
	}
	locker, err := setupLocker(ctx, app)
	if err != nil {
		return err
	}
	if err = setupService(app, locker, blobs, publisher); err != nil {
		return err
	}

	app.files, err = download.New(cfg.Paths.OutputDir)
	if err != nil {
		return fmt.Errorf("download gateway init failed: %w", err)
	}
	app.apiServer = api.NewServer(
		app.service,
		app.files,
		app.history,
		*cfg,
		app.logger.Named("api"),
		app.readyChecks...,
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) (storage.BlobStore, error) {
	blobs, closer, err := storage.New(ctx, app.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("blob store init failed: %w", err)
	}
	app.addCloser("blob store", closer.Close)
	if blobs == nil {
		app.logger.Info("artifact mirroring disabled")
		return nil, nil
	}
	app.logger.Info("artifact mirroring enabled",
		zap.String("backend", app.cfg.Storage.Backend),
		zap.String("prefix", app.cfg.Storage.Prefix),
	)
	return blobs, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping job history in memory")
		app.history = memorystorage.NewJobStore()
		return nil
	}
	pg, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	app.addCloser("job store", func() error {
		pg.Close()
		return nil
	})
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("job store schema failed: %w", err)
	}
	app.history = pg
	app.readyChecks = append(app.readyChecks, api.WithReadyCheck("database", pg.Ping))
	app.logger.Info("job store initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (job.Publisher, error) {
	topic := app.cfg.PubSub.TopicName
	switch {
	case topic == "":
		app.logger.Info("no Pub/Sub topic configured, job events disabled")
		return nil, nil
	case app.cfg.PubSub.ProjectID == "":
		app.logger.Warn("Pub/Sub topic set without a project, using in-memory publisher", zap.String("topic", topic))
		return memorypublisher.New(), nil
	}
	p, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.addCloser("pubsub", p.Close)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", topic),
	)
	return p, nil
}

func setupLocker(ctx context.Context, app *App) (lock.Locker, error) {
	switch app.cfg.Jobs.Lock {
	case config.LockNone:
		app.logger.Warn("output directory lock disabled; concurrent jobs may misattribute artifacts")
		return lock.Noop{}, nil
	case config.LockRedis:
		l, err := redislock.New(ctx, redislock.Config{
			URL:       app.cfg.Redis.URL,
			KeyPrefix: app.cfg.Redis.KeyPrefix,
			TTL:       app.cfg.LockTTL(),
		}, uuid.NewUUIDGenerator())
		if err != nil {
			return nil, fmt.Errorf("redis lock init failed: %w", err)
		}
		app.addCloser("redis", l.Close)
		app.readyChecks = append(app.readyChecks, api.WithReadyCheck("redis", l.Ping))
		app.logger.Info("using redis output lock", zap.Duration("ttl", app.cfg.LockTTL()))
		return l, nil
	default:
		app.logger.Info("using in-process output lock")
		return lock.NewLocal(), nil
	}
}

func setupService(app *App, locker lock.Locker, blobs storage.BlobStore, publisher job.Publisher) error {
	cfg := app.cfg
	stager, err := staging.New(cfg.Paths.UploadDir, uuid.NewUUIDGenerator())
	if err != nil {
		return fmt.Errorf("staging init failed: %w", err)
	}
	runner, err := invoker.New(invoker.Config{
		Command: cfg.Worker.Command,
		Args:    cfg.Worker.Args,
		Dir:     cfg.Paths.WorkDir,
		Env:     cfg.Worker.Env,
		Timeout: cfg.WorkerTimeout(),
	})
	if err != nil {
		return fmt.Errorf("invoker init failed: %w", err)
	}

	// Options are only added for collaborators that exist, so a nil
	// pointer never hides behind a non-nil interface.
	var opts []job.Option
	if blobs != nil {
		opts = append(opts, job.WithBlobStore(blobs))
	}
	if publisher != nil {
		opts = append(opts, job.WithPublisher(publisher))
	}
	if app.history != nil {
		opts = append(opts, job.WithAuditStore(app.history))
	}

	jobCfg := job.Config{
		OutputDir:         cfg.Paths.OutputDir,
		DownloadPrefix:    cfg.API.DownloadPrefix,
		Strict:            cfg.Validation.Mode == config.ValidationStrict,
		AllowedExtensions: cfg.Validation.AllowedExtensions,
		CleanupStaged:     cfg.Jobs.CleanupStaged,
		Topic:             cfg.PubSub.TopicName,
		BlobPrefix:        cfg.Storage.Prefix,
		ContentType:       download.ContentTypeFor(cfg.Resolver.Prefix + cfg.Resolver.Extension),
	}
	app.service, err = job.NewService(
		jobCfg,
		stager,
		runner,
		artifact.NewResolver(cfg.Resolver.Prefix, cfg.Resolver.Extension),
		locker,
		system.New(),
		app.logger.Named("job"),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("job service init failed: %w", err)
	}
	app.logger.Info("job service ready",
		zap.String("worker", cfg.Worker.Command),
		zap.Strings("args", cfg.Worker.Args),
		zap.Duration("timeout", cfg.WorkerTimeout()),
		zap.Bool("strict", jobCfg.Strict),
		zap.Bool("cleanup_staged", jobCfg.CleanupStaged),
	)
	return nil
}
