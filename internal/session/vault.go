// Package session persists and validates the marketplace cookie jar.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/fileutil"
	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config captures where the session lives and how it is validated.
type Config struct {
	// Path is the JSON cookie array written by the manual login tool.
	Path string `mapstructure:"path"`
	// ProtectedURL requires authentication; a valid session stays on its path.
	ProtectedURL string `mapstructure:"protected_url"`
	// LoginPaths are path prefixes the marketplace redirects unauthenticated users to.
	LoginPaths []string `mapstructure:"login_paths"`
	// RequiredCookies are the auth cookie names checked by the advisory expiry test.
	RequiredCookies []string `mapstructure:"required_cookies"`
	// MaxAttempts bounds navigation retries inside Validate.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Backoff is "linear" (attempt * BackoffStep) or "exponential" (BackoffStep doubling
	// up to BackoffMax, jittered).
	Backoff     string        `mapstructure:"backoff"`
	BackoffStep time.Duration `mapstructure:"backoff_step"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// Vault is the file-backed publish.SessionVault.
type Vault struct {
	cfg       Config
	protected *url.URL
	backoff   publish.BackoffPolicy
	clock     publish.Clock
	logger    *zap.Logger
}

var _ publish.SessionVault = (*Vault)(nil)

// NewVault builds a Vault. A nil backoff is derived from cfg.Backoff.
func NewVault(cfg Config, backoff publish.BackoffPolicy, clock publish.Clock, logger *zap.Logger) (*Vault, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("session path is required")
	}
	protected, err := url.Parse(cfg.ProtectedURL)
	if err != nil || protected.Host == "" {
		return nil, fmt.Errorf("invalid protected url %q", cfg.ProtectedURL)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = 3 * time.Second
	}
	if backoff == nil {
		switch cfg.Backoff {
		case "", "linear":
			backoff = publish.NewLinearBackoff(cfg.BackoffStep)
		case "exponential":
			exp := publish.NewExponentialBackoff()
			exp.Base = cfg.BackoffStep
			if cfg.BackoffMax > 0 {
				exp.Max = cfg.BackoffMax
			}
			backoff = exp
		default:
			return nil, fmt.Errorf("unknown session backoff %q", cfg.Backoff)
		}
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		cfg:       cfg,
		protected: protected,
		backoff:   backoff,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Path returns the session file location.
func (v *Vault) Path() string {
	return v.cfg.Path
}

// Save writes the jar's cookies to the session file.
func (v *Vault) Save(ctx context.Context, jar publish.CookieJar) error {
	cookies, err := jar.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read browser cookies: %w", err)
	}
	if cookies == nil {
		cookies = []publish.Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	if err := fileutil.WriteAtomic(v.cfg.Path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	v.logger.Debug("session saved", zap.Int("cookies", len(cookies)))
	return nil
}

// Load restores the saved cookies into jar. It reports false, without error, when
// there is nothing usable on disk.
func (v *Vault) Load(ctx context.Context, jar publish.CookieJar) (bool, error) {
	cookies, err := v.Stored()
	if err != nil {
		v.logger.Warn("session file unusable", zap.Error(err))
		return false, nil
	}
	if len(cookies) == 0 {
		return false, nil
	}
	if err := jar.SetCookies(ctx, cookies); err != nil {
		return false, fmt.Errorf("restore cookies: %w", err)
	}
	return true, nil
}

// Stored decodes the session file. A missing or empty file yields no cookies.
func (v *Vault) Stored() ([]publish.Cookie, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(v.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var cookies []publish.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return cookies, nil
}

// Validate probes the protected URL. It is the only authoritative session check.
func (v *Vault) Validate(ctx context.Context, nav publish.Navigator) bool {
	for attempt := 1; attempt <= v.cfg.MaxAttempts; attempt++ {
		final, err := nav.Navigate(ctx, v.protected.String())
		switch {
		case err != nil:
			v.logger.Warn("session probe failed", zap.Int("attempt", attempt), zap.Error(err))
		case v.onLoginPath(final):
			v.logger.Info("session redirected to login", zap.String("final_url", final))
			metrics.ObserveSessionValidation(false)
			return false
		case v.onProtectedPath(final):
			metrics.ObserveSessionValidation(true)
			return true
		default:
			v.logger.Warn("session probe ended on unexpected page",
				zap.Int("attempt", attempt),
				zap.String("final_url", final),
			)
		}
		if attempt == v.cfg.MaxAttempts {
			break
		}
		if err := publish.Sleep(ctx, v.clock, v.backoff.Delay(attempt)); err != nil {
			break
		}
	}
	metrics.ObserveSessionValidation(false)
	return false
}

func (v *Vault) onProtectedPath(final string) bool {
	u, err := url.Parse(final)
	if err != nil {
		return false
	}
	if u.Host != "" && !strings.EqualFold(u.Hostname(), v.protected.Hostname()) {
		return false
	}
	want := strings.TrimSuffix(v.protected.Path, "/")
	return u.Path == want || strings.HasPrefix(u.Path, want+"/")
}

func (v *Vault) onLoginPath(final string) bool {
	u, err := url.Parse(final)
	if err != nil {
		return false
	}
	for _, p := range v.cfg.LoginPaths {
		if p != "" && strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	return false
}

// IsExpired is an advisory hint from stored cookie expiries. It never replaces Validate.
// With required cookies configured, any absent or expired one marks the session expired.
// Otherwise the session is expired only when no stored cookie remains usable.
func (v *Vault) IsExpired() bool {
	cookies, err := v.Stored()
	if err != nil || len(cookies) == 0 {
		return true
	}
	now := v.clock.Now()
	usable := func(c publish.Cookie) bool {
		exp, ok := c.ExpiresAt()
		return !ok || exp.After(now)
	}
	if len(v.cfg.RequiredCookies) == 0 {
		for _, c := range cookies {
			if usable(c) {
				return false
			}
		}
		return true
	}
	byName := make(map[string]publish.Cookie, len(cookies))
	for _, c := range cookies {
		byName[c.Name] = c
	}
	for _, name := range v.cfg.RequiredCookies {
		c, ok := byName[name]
		if !ok || !usable(c) {
			return true
		}
	}
	return false
}

// Exists reports whether a non-empty session file is present.
func (v *Vault) Exists() bool {
	info, err := os.Stat(v.cfg.Path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Delete removes the session file. A missing file is not an error.
func (v *Vault) Delete() error {
	if err := os.Remove(v.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session: %w", err)
	}
	v.logger.Info("session deleted", zap.String("path", v.cfg.Path))
	return nil
}
