// Package gcs downloads listing images from a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config captures the parameters required to read from GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every image key.
	Prefix string `mapstructure:"prefix"`
	// TempDir is where downloads are staged; empty uses the OS default.
	TempDir string `mapstructure:"temp_dir"`
}

type openFunc func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// Source stages bucket objects on local disk so a browser can upload them.
type Source struct {
	cfg  Config
	open openFunc
}

var _ publish.ImageSource = (*Source)(nil)

// New creates a GCS-backed Source.
func New(client *storage.Client, cfg Config) (*Source, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newSource(cfg, func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	})
}

func newSource(cfg Config, open openFunc) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Source{cfg: cfg, open: open}, nil
}

// Materialize downloads keys into a fresh temp directory. cleanup removes it.
func (s *Source) Materialize(ctx context.Context, keys []string) ([]string, func(), error) {
	if len(keys) == 0 {
		return nil, func() {}, nil
	}
	dir, err := os.MkdirTemp(s.cfg.TempDir, "listing-images-")
	if err != nil {
		return nil, func() {}, fmt.Errorf("create staging dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	paths := make([]string, 0, len(keys))
	for i, key := range keys {
		if strings.TrimSpace(key) == "" {
			cleanup()
			return nil, func() {}, fmt.Errorf("image key is required")
		}
		dst := filepath.Join(dir, fmt.Sprintf("%02d-%s", i, path.Base(key)))
		if err := s.download(ctx, path.Join(s.cfg.Prefix, key), dst); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		paths = append(paths, dst)
	}
	return paths, cleanup, nil
}

func (s *Source) download(ctx context.Context, object, dst string) error {
	r, err := s.open(ctx, s.cfg.Bucket, object)
	if err != nil {
		return fmt.Errorf("open gs://%s/%s: %w", s.cfg.Bucket, object, err)
	}
	defer func() { _ = r.Close() }()

	// #nosec G304 -- dst is inside the staging dir created above.
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		closeErr := f.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close file: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}
