// Package httpprobe checks the stored marketplace session over plain HTTP, without
// starting a browser.
package httpprobe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config controls the probe collector.
type Config struct {
	// BaseURL scopes the cookie jar to the marketplace origin.
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Probe is a cookie-carrying Navigator backed by a Colly collector.
type Probe struct {
	cfg  Config
	base *url.URL

	mu        sync.Mutex
	collector *colly.Collector
}

var (
	_ publish.Navigator = (*Probe)(nil)
	_ publish.CookieJar = (*Probe)(nil)
)

// New builds a Probe.
func New(cfg Config) (*Probe, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid probe base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Probe{cfg: cfg, base: base, collector: c}, nil
}

// SetCookies adds cookies to the collector jar for the base URL.
func (p *Probe) SetCookies(_ context.Context, cookies []publish.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.collector.SetCookies(p.base.String(), toHTTPCookies(cookies)); err != nil {
		return fmt.Errorf("set probe cookies: %w", err)
	}
	return nil
}

// Cookies returns the jar's cookies for the base URL. The HTTP jar does not expose
// attributes, so only name and value are populated.
func (p *Probe) Cookies(_ context.Context) ([]publish.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	jar := p.collector.Cookies(p.base.String())
	out := make([]publish.Cookie, 0, len(jar))
	for _, c := range jar {
		out = append(out, publish.Cookie{Name: c.Name, Value: c.Value, Domain: p.base.Hostname(), Path: "/"})
	}
	return out, nil
}

// Navigate issues a GET and returns the URL reached after redirects.
func (p *Probe) Navigate(ctx context.Context, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("probe canceled: %w", err)
	}
	// Clones share the parent's HTTP backend and therefore its cookie jar.
	p.mu.Lock()
	collector := p.collector.Clone()
	p.mu.Unlock()

	var (
		finalURL string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Request != nil {
			finalURL = r.Request.URL.String()
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("probe visit failed: %w", err)
		}
		if fetchErr != nil {
			return finalURL, fmt.Errorf("probe response failed: %w", fetchErr)
		}
		return finalURL, nil
	}
}

func toHTTPCookies(cookies []publish.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if exp, ok := c.ExpiresAt(); ok {
			hc.Expires = exp
		}
		out = append(out, hc)
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
