package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/browser/headless"
	"github.com/JakeFAU/listing-publisher/internal/browser/httpprobe"
	"github.com/JakeFAU/listing-publisher/internal/config"
	"github.com/JakeFAU/listing-publisher/internal/id/uuid"
	gcsimages "github.com/JakeFAU/listing-publisher/internal/images/gcs"
	localimages "github.com/JakeFAU/listing-publisher/internal/images/local"
	"github.com/JakeFAU/listing-publisher/internal/publish"
	"github.com/JakeFAU/listing-publisher/internal/session"
	pgstore "github.com/JakeFAU/listing-publisher/internal/storage/postgres"
	"github.com/JakeFAU/listing-publisher/internal/storage/snapshot"
)

// Store is an opened listing store and the hooks the app needs around it.
type Store struct {
	publish.ListingStore
	// Ready reports whether the backend is reachable; nil for file-backed stores.
	Ready func(ctx context.Context) error
	Close func()
}

// OpenStore opens the configured listing store backend.
func OpenStore(ctx context.Context, cfg *config.Config, clock publish.Clock, logger *zap.Logger) (*Store, error) {
	orderer := publish.NewOrderer(cfg.Ordering)
	ids := uuid.New()
	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := pgstore.NewListingStore(ctx, cfg.Storage.Postgres, ids, clock, orderer)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		logger.Info("using postgres listing store", zap.String("table", cfg.Storage.Postgres.Table))
		return &Store{ListingStore: pg, Ready: pg.Ping, Close: pg.Close}, nil
	default:
		snap, err := snapshot.New(cfg.Storage.Snapshot, ids, clock, orderer, logger.Named("snapshot"))
		if err != nil {
			return nil, fmt.Errorf("snapshot store init failed: %w", err)
		}
		logger.Info("using snapshot listing store", zap.String("path", cfg.Storage.Snapshot.Path))
		return &Store{ListingStore: snap, Close: func() {}}, nil
	}
}

// NewVault builds the session vault.
func NewVault(cfg *config.Config, clock publish.Clock, logger *zap.Logger) (*session.Vault, error) {
	vault, err := session.NewVault(cfg.Session, nil, clock, logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("session vault init failed: %w", err)
	}
	return vault, nil
}

// NewBrowser builds the headless marketplace browser.
func NewBrowser(cfg *config.Config, logger *zap.Logger) (*headless.Browser, error) {
	browser, err := headless.New(cfg.Browser, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}
	return browser, nil
}

// NewProbe builds the cookie-carrying HTTP prober.
func NewProbe(cfg *config.Config) (*httpprobe.Probe, error) {
	probe, err := httpprobe.New(cfg.Probe)
	if err != nil {
		return nil, fmt.Errorf("http probe init failed: %w", err)
	}
	return probe, nil
}

func setupImages(ctx context.Context, app *App) (publish.ImageSource, error) {
	switch app.cfg.Images.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		src, err := gcsimages.New(client, app.cfg.Images.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs image source init failed: %w", err)
		}
		app.logger.Info("using GCS image source", zap.String("bucket", app.cfg.Images.GCS.Bucket))
		return src, nil
	default:
		src, err := localimages.New(app.cfg.Images.Local)
		if err != nil {
			return nil, fmt.Errorf("local image source init failed: %w", err)
		}
		app.logger.Info("using local image source", zap.String("path", app.cfg.Images.Local.BaseDir))
		return src, nil
	}
}
