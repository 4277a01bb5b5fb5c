// Package headless drives the marketplace web UI through headless Chrome.
package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config controls the headless browser and the marketplace form it fills.
type Config struct {
	// PostURL is the marketplace page holding the listing-creation form.
	PostURL           string        `mapstructure:"post_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SubmitTimeout     time.Duration `mapstructure:"submit_timeout"`
	// SettleDelay is the pause after navigation so client-side redirects finish.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	Form        FormConfig    `mapstructure:"form"`
}

// Browser opens isolated tabs on one shared Chrome allocator.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

var _ publish.Browser = (*Browser)(nil)

// New creates a Browser. Chrome is started lazily on the first Open.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if strings.TrimSpace(cfg.PostURL) == "" {
		return nil, fmt.Errorf("browser post url is required")
	}
	if err := cfg.Form.validate(); err != nil {
		return nil, err
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts down Chrome.
func (b *Browser) Close() {
	b.allocCancel()
}

// Open starts a fresh tab. Cancelling ctx closes the tab.
func (b *Browser) Open(ctx context.Context) (publish.BrowserSession, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	stop := context.AfterFunc(ctx, tabCancel)

	setup := chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
	if err := chromedp.Run(tabCtx, setup); err != nil {
		stop()
		tabCancel()
		return nil, fmt.Errorf("open browser tab: %w", err)
	}
	return &Session{
		cfg:    b.cfg,
		tab:    tabCtx,
		cancel: tabCancel,
		stop:   stop,
		logger: b.logger,
	}, nil
}

// Session is one browser tab. It is not safe for concurrent use.
type Session struct {
	cfg    Config
	tab    context.Context
	cancel context.CancelFunc
	stop   func() bool
	logger *zap.Logger
}

var _ publish.BrowserSession = (*Session)(nil)

// Cookies returns every cookie in the browser context.
func (s *Session) Cookies(ctx context.Context) ([]publish.Cookie, error) {
	var out []publish.Cookie
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = fromNetworkCookies(cookies)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return out, nil
}

// SetCookies injects cookies into the browser context.
func (s *Session) SetCookies(ctx context.Context, cookies []publish.Cookie) error {
	params := toCookieParams(cookies)
	if len(params) == 0 {
		return nil
	}
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Navigate loads url and returns the location after redirects settle.
func (s *Session) Navigate(ctx context.Context, url string) (string, error) {
	var finalURL string
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.settle()),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return finalURL, nil
}

// Submit fills the listing-creation form and reports what the marketplace showed.
func (s *Session) Submit(ctx context.Context, listing publish.Listing, imagePaths []string) (publish.SubmitResult, error) {
	form := s.cfg.Form
	actions := []chromedp.Action{
		chromedp.Navigate(s.cfg.PostURL),
		chromedp.WaitVisible(form.SubmitButton, chromedp.ByQuery),
	}
	values := FormValues(listing)
	for _, name := range fieldOrder {
		sel, ok := form.Fields[name]
		if !ok || sel == "" || values[name] == "" {
			continue
		}
		actions = append(actions,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, values[name], chromedp.ByQuery),
		)
	}
	if form.ImageInput != "" && len(imagePaths) > 0 {
		actions = append(actions, chromedp.SetUploadFiles(form.ImageInput, imagePaths, chromedp.ByQuery))
		if form.UploadSettle > 0 {
			actions = append(actions, chromedp.Sleep(form.UploadSettle))
		}
	}

	var (
		finalURL string
		html     string
	)
	actions = append(actions,
		chromedp.Click(form.SubmitButton, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.settle()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	start := time.Now()
	if err := s.run(ctx, s.cfg.SubmitTimeout, actions...); err != nil {
		return publish.SubmitResult{}, &publish.SubmitError{Reason: "form interaction failed", Retryable: true, Err: err}
	}
	s.logger.Debug("submission page loaded",
		zap.String("listing_id", listing.ID),
		zap.String("final_url", finalURL),
		zap.Duration("elapsed", time.Since(start)),
	)
	return form.classify(finalURL, html)
}

// Close closes the tab.
func (s *Session) Close() error {
	s.stop()
	s.cancel()
	return nil
}

func (s *Session) settle() time.Duration {
	if s.cfg.SettleDelay > 0 {
		return s.cfg.SettleDelay
	}
	return 500 * time.Millisecond
}

// run executes actions on the tab under timeout, also stopping when ctx ends.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}
