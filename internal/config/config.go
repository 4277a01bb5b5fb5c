// Package config loads and validates publisher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-publisher/internal/api"
	"github.com/JakeFAU/listing-publisher/internal/browser/headless"
	"github.com/JakeFAU/listing-publisher/internal/browser/httpprobe"
	gcsimages "github.com/JakeFAU/listing-publisher/internal/images/gcs"
	localimages "github.com/JakeFAU/listing-publisher/internal/images/local"
	"github.com/JakeFAU/listing-publisher/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-publisher/internal/publish"
	pubsubpublisher "github.com/JakeFAU/listing-publisher/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-publisher/internal/session"
	"github.com/JakeFAU/listing-publisher/internal/storage/postgres"
	"github.com/JakeFAU/listing-publisher/internal/storage/snapshot"
	"github.com/JakeFAU/listing-publisher/internal/worker"
)

// EnvPrefix namespaces environment overrides, e.g. PUBLISHER_SERVER_PORT=9090.
const EnvPrefix = "PUBLISHER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	API       api.Config             `mapstructure:"api"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Storage   StorageConfig          `mapstructure:"storage"`
	Ordering  publish.OrderingConfig `mapstructure:"ordering"`
	Session   session.Config         `mapstructure:"session"`
	Browser   headless.Config        `mapstructure:"browser"`
	Probe     httpprobe.Config       `mapstructure:"probe"`
	Images    ImagesConfig           `mapstructure:"images"`
	Publisher PublisherConfig        `mapstructure:"publisher"`
	Pacing    ratelimit.Config       `mapstructure:"pacing"`
	Worker    worker.Config          `mapstructure:"worker"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects the listing store backend.
type StorageConfig struct {
	// Backend is "snapshot" or "postgres".
	Backend  string          `mapstructure:"backend"`
	Snapshot snapshot.Config `mapstructure:"snapshot"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// ImagesConfig selects where listing images are read from.
type ImagesConfig struct {
	// Backend is "local" or "gcs".
	Backend string             `mapstructure:"backend"`
	Local   localimages.Config `mapstructure:"local"`
	GCS     gcsimages.Config   `mapstructure:"gcs"`
}

// PublisherConfig selects the outcome event sink.
type PublisherConfig struct {
	// Backend is "memory" or "pubsub".
	Backend  string                 `mapstructure:"backend"`
	Capacity int                    `mapstructure:"capacity"`
	PubSub   pubsubpublisher.Config `mapstructure:"pubsub"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.request_timeout", "30s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("storage.backend", "snapshot")
	v.SetDefault("storage.snapshot.path", "data/listings.json")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "listings")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("ordering.series", publish.DefaultOrdering.Series)
	v.SetDefault("ordering.fixed_names", publish.DefaultOrdering.FixedNames)

	v.SetDefault("session.path", "data/session.json")
	v.SetDefault("session.protected_url", "")
	v.SetDefault("session.login_paths", []string{"/login", "/auth"})
	v.SetDefault("session.required_cookies", []string{})
	v.SetDefault("session.max_attempts", 2)
	v.SetDefault("session.backoff", "linear")
	v.SetDefault("session.backoff_step", "3s")
	v.SetDefault("session.backoff_max", "30s")

	v.SetDefault("browser.post_url", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.submit_timeout", "3m")
	v.SetDefault("browser.settle_delay", "500ms")
	v.SetDefault("browser.form.submit_button", "")
	v.SetDefault("browser.form.upload_settle", "2s")
	v.SetDefault("probe.timeout", "15s")

	v.SetDefault("images.backend", "local")
	v.SetDefault("images.local.base_dir", "data/images")
	v.SetDefault("images.gcs.bucket", "")
	v.SetDefault("images.gcs.prefix", "")

	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("publisher.capacity", 1000)
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.pubsub.topic", "")

	v.SetDefault("pacing.min_interval", "30s")
	v.SetDefault("pacing.burst", 1)

	v.SetDefault("worker.max_attempts", 3)
	// Zero inherits browser.submit_timeout.
	v.SetDefault("worker.submit_timeout", "0s")
	v.SetDefault("worker.recheck_interval", "5m")
	v.SetDefault("worker.topic", "listing.outcome")
}

// normalize fills values derived from other sections.
func (c *Config) normalize() {
	if len(c.Browser.Form.LoginPaths) == 0 {
		c.Browser.Form.LoginPaths = c.Session.LoginPaths
	}
	if c.Probe.UserAgent == "" {
		c.Probe.UserAgent = c.Browser.UserAgent
	}
	if c.Probe.BaseURL == "" {
		c.Probe.BaseURL = c.Session.ProtectedURL
	}
	if c.Worker.SubmitTimeout <= 0 {
		c.Worker.SubmitTimeout = c.Browser.SubmitTimeout
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Backend {
	case "snapshot":
		if c.Storage.Snapshot.Path == "" {
			return fmt.Errorf("storage.snapshot.path must be set for the snapshot backend")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of snapshot, postgres", c.Storage.Backend)
	}
	if c.Session.Path == "" {
		return fmt.Errorf("session.path must be set")
	}
	if c.Session.ProtectedURL == "" {
		return fmt.Errorf("session.protected_url must be set")
	}
	if c.Browser.PostURL == "" {
		return fmt.Errorf("browser.post_url must be set")
	}
	if c.Browser.Form.SubmitButton == "" {
		return fmt.Errorf("browser.form.submit_button must be set")
	}
	switch c.Images.Backend {
	case "local":
		if c.Images.Local.BaseDir == "" {
			return fmt.Errorf("images.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Images.GCS.Bucket == "" {
			return fmt.Errorf("images.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("images.backend %q is not one of local, gcs", c.Images.Backend)
	}
	switch c.Publisher.Backend {
	case "memory":
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.Topic == "" {
			return fmt.Errorf("publisher.pubsub.project_id and topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of memory, pubsub", c.Publisher.Backend)
	}
	if c.Pacing.MinInterval < 0 {
		return fmt.Errorf("pacing.min_interval must be >= 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	return nil
}
