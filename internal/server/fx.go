// Package server builds the publisher's dependencies and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/api"
	"github.com/JakeFAU/listing-publisher/internal/browser/headless"
	"github.com/JakeFAU/listing-publisher/internal/clock/system"
	"github.com/JakeFAU/listing-publisher/internal/config"
	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-publisher/internal/publish"
	memorypublisher "github.com/JakeFAU/listing-publisher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/listing-publisher/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/listing-publisher/internal/queue/memory"
	"github.com/JakeFAU/listing-publisher/internal/session"
	"github.com/JakeFAU/listing-publisher/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *Store
	vault     *session.Vault
	watcher   *session.Watcher
	browser   *headless.Browser
	storage   *storage.Client
	pubsub    *gcppublisher.Publisher
	queue     *queuememory.Queue
	worker    *worker.Worker
	apiServer *api.Server
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("images_backend", cfg.Images.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
		zap.Bool("api_key_required", cfg.API.APIKey != ""),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the worker and the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.logger.Info("publish worker started")
		a.worker.Run(ctx)
		a.logger.Info("publish worker stopped")
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	wg.Wait()

	return a.Close(shutdownCtx)
}

// Close releases every external resource the app opened.
func (a *App) Close(_ context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("session watcher close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsub != nil {
		a.pubsub.Close()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()
	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	clock := system.New()

	var err error
	if a.store, err = OpenStore(ctx, a.cfg, clock, a.logger); err != nil {
		return err
	}
	if a.vault, err = NewVault(a.cfg, clock, a.logger); err != nil {
		return err
	}
	if a.watcher, err = session.NewWatcher(a.cfg.Session.Path, a.logger.Named("session_watcher")); err != nil {
		return fmt.Errorf("session watcher init failed: %w", err)
	}
	if a.browser, err = NewBrowser(a.cfg, a.logger); err != nil {
		return err
	}
	images, err := setupImages(ctx, a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}

	pacingCfg := a.cfg.Pacing
	pacingCfg.Site = metrics.SanitizeSite(a.cfg.Browser.PostURL)
	pacer := ratelimit.New(pacingCfg)
	a.logger.Info("submission pacing",
		zap.Duration("min_interval", pacingCfg.MinInterval),
		zap.Int("burst", pacingCfg.Burst),
	)

	a.queue = queuememory.NewQueue(a.store, clock)
	a.worker = worker.New(
		a.store,
		a.queue,
		a.browser,
		a.vault,
		images,
		publisher,
		pacer,
		clock,
		a.watcher.Changes(),
		a.cfg.Worker,
		a.logger.Named("worker"),
	)
	a.logger.Info("worker config",
		zap.Int("max_attempts", a.cfg.Worker.MaxAttempts),
		zap.Duration("submit_timeout", a.cfg.Worker.SubmitTimeout),
		zap.Duration("recheck_interval", a.cfg.Worker.RecheckInterval),
		zap.String("topic", a.cfg.Worker.Topic),
	)

	a.apiServer = api.NewServer(api.Deps{
		Store:  a.store,
		Queue:  a.queue,
		Vault:  a.vault,
		Worker: a.worker,
		Ready:  a.store.Ready,
	}, a.cfg.API, a.logger.Named("api"))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (publish.Publisher, error) {
	if app.cfg.Publisher.Backend != "pubsub" {
		app.logger.Info("using in-memory outcome publisher")
		return memorypublisher.New(app.cfg.Publisher.Capacity, app.logger.Named("outcomes")), nil
	}
	var err error
	app.pubsub, err = gcppublisher.New(ctx, app.cfg.Publisher.PubSub)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.Publisher.PubSub.ProjectID),
		zap.String("topic", app.cfg.Publisher.PubSub.Topic),
	)
	return app.pubsub, nil
}
