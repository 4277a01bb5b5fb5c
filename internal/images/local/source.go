// Package local resolves listing image keys against a directory on disk.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config captures the parameters for the local image directory.
type Config struct {
	// BaseDir is the root directory image keys are relative to.
	BaseDir string `mapstructure:"base_dir"`
}

// Source serves images straight from BaseDir.
type Source struct {
	baseDir string
}

var _ publish.ImageSource = (*Source)(nil)

// New creates a Source, creating the directory if it does not exist.
func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	return &Source{baseDir: abs}, nil
}

// Materialize returns absolute paths for keys. Nothing is copied, so cleanup is a no-op.
func (s *Source) Materialize(_ context.Context, keys []string) ([]string, func(), error) {
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := s.resolve(key)
		if err != nil {
			return nil, func() {}, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, func() {}, fmt.Errorf("image %q: %w", key, err)
		}
		if info.IsDir() {
			return nil, func() {}, fmt.Errorf("image %q is a directory", key)
		}
		paths = append(paths, p)
	}
	return paths, func() {}, nil
}

func (s *Source) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("image key is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, key))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected in %q", key)
	}
	return full, nil
}
