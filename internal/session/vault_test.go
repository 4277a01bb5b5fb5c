package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/clock/fake"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type memJar struct {
	cookies []publish.Cookie
	err     error
}

func (j *memJar) Cookies(context.Context) ([]publish.Cookie, error) { return j.cookies, j.err }

func (j *memJar) SetCookies(_ context.Context, c []publish.Cookie) error {
	if j.err != nil {
		return j.err
	}
	j.cookies = append([]publish.Cookie(nil), c...)
	return nil
}

type scriptedNav struct {
	results []navResult
	calls   int
}

type navResult struct {
	url string
	err error
}

func (n *scriptedNav) Navigate(context.Context, string) (string, error) {
	r := n.results[min(n.calls, len(n.results)-1)]
	n.calls++
	return r.url, r.err
}

func newVault(t *testing.T, required ...string) (*Vault, *fake.Clock) {
	t.Helper()
	clk := fake.New(now)
	v, err := NewVault(Config{
		Path:            filepath.Join(t.TempDir(), "session", "olx_cookies.json"),
		ProtectedURL:    "https://www.olx.uz/myaccount/",
		LoginPaths:      []string{"/account", "/login"},
		RequiredCookies: required,
	}, nil, clk, nil)
	require.NoError(t, err)
	return v, clk
}

func expiresIn(d time.Duration) *float64 {
	v := float64(now.Add(d).Unix())
	return &v
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)
	src := &memJar{cookies: []publish.Cookie{
		{Name: "access_token", Value: "abc", Domain: ".olx.uz", Path: "/", Expires: expiresIn(time.Hour)},
		{Name: "PHPSESSID", Value: "s1", Domain: "www.olx.uz", Path: "/"},
	}}

	require.NoError(t, v.Save(ctx, src))
	assert.True(t, v.Exists())
	info, err := os.Stat(v.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dst := &memJar{}
	ok, err := v.Load(ctx, dst)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, src.cookies, dst.cookies)
}

func TestLoadMissingEmptyOrCorrupt(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)

	ok, err := v.Load(ctx, &memJar{})
	require.NoError(t, err)
	assert.False(t, ok, "missing file")

	require.NoError(t, os.MkdirAll(filepath.Dir(v.Path()), 0o750))
	require.NoError(t, os.WriteFile(v.Path(), nil, 0o600))
	ok, err = v.Load(ctx, &memJar{})
	require.NoError(t, err)
	assert.False(t, ok, "empty file")
	assert.False(t, v.Exists())

	require.NoError(t, os.WriteFile(v.Path(), []byte("[{oops"), 0o600))
	ok, err = v.Load(ctx, &memJar{})
	require.NoError(t, err)
	assert.False(t, ok, "corrupt file")

	require.NoError(t, os.WriteFile(v.Path(), []byte("[]"), 0o600))
	ok, err = v.Load(ctx, &memJar{})
	require.NoError(t, err)
	assert.False(t, ok, "no cookies")
}

func TestValidateReachesProtectedPath(t *testing.T) {
	v, clk := newVault(t)
	nav := &scriptedNav{results: []navResult{{url: "https://www.olx.uz/myaccount/ads/"}}}

	assert.True(t, v.Validate(context.Background(), nav))
	assert.Equal(t, 1, nav.calls)
	assert.Empty(t, clk.Sleeps())
}

func TestValidateLoginRedirectIsFinal(t *testing.T) {
	v, clk := newVault(t)
	nav := &scriptedNav{results: []navResult{{url: "https://www.olx.uz/account/?ref=myaccount"}}}

	assert.False(t, v.Validate(context.Background(), nav))
	assert.Equal(t, 1, nav.calls, "a login redirect is not retried")
	assert.Empty(t, clk.Sleeps())
}

func TestValidateRetriesTransientFailures(t *testing.T) {
	v, clk := newVault(t)
	nav := &scriptedNav{results: []navResult{
		{err: errors.New("net::ERR_TIMED_OUT")},
		{url: "https://www.olx.uz/myaccount/"},
	}}

	assert.True(t, v.Validate(context.Background(), nav))
	assert.Equal(t, 2, nav.calls)
	assert.Equal(t, []time.Duration{3 * time.Second}, clk.Sleeps())
}

func TestValidateGivesUpAfterTwoAttempts(t *testing.T) {
	v, clk := newVault(t)
	nav := &scriptedNav{results: []navResult{{url: "https://www.olx.uz/captcha"}}}

	assert.False(t, v.Validate(context.Background(), nav))
	assert.Equal(t, 2, nav.calls)
	assert.Equal(t, []time.Duration{3 * time.Second}, clk.Sleeps())
}

func TestValidateUsesInjectedBackoff(t *testing.T) {
	clk := fake.New(now)
	v, err := NewVault(Config{
		Path:         filepath.Join(t.TempDir(), "s.json"),
		ProtectedURL: "https://www.olx.uz/myaccount/",
		MaxAttempts:  3,
	}, publish.ExponentialBackoff{Base: time.Second, Max: time.Minute}, clk, nil)
	require.NoError(t, err)

	nav := &scriptedNav{results: []navResult{{err: errors.New("boom")}}}
	assert.False(t, v.Validate(context.Background(), nav))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestIsExpiredAdvisory(t *testing.T) {
	ctx := context.Background()

	v, _ := newVault(t, "access_token")
	assert.True(t, v.IsExpired(), "no file")

	require.NoError(t, v.Save(ctx, &memJar{cookies: []publish.Cookie{
		{Name: "access_token", Value: "x", Expires: expiresIn(-time.Minute)},
		{Name: "PHPSESSID", Value: "s"},
	}}))
	assert.True(t, v.IsExpired(), "required cookie expired even though another has no expiry")

	require.NoError(t, v.Save(ctx, &memJar{cookies: []publish.Cookie{
		{Name: "PHPSESSID", Value: "s"},
	}}))
	assert.True(t, v.IsExpired(), "required cookie absent")

	require.NoError(t, v.Save(ctx, &memJar{cookies: []publish.Cookie{
		{Name: "access_token", Value: "x", Expires: expiresIn(time.Hour)},
	}}))
	assert.False(t, v.IsExpired())

	open, _ := newVault(t)
	require.NoError(t, open.Save(ctx, &memJar{cookies: []publish.Cookie{
		{Name: "a", Value: "x", Expires: expiresIn(-time.Hour)},
	}}))
	assert.True(t, open.IsExpired(), "every cookie expired")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)
	require.NoError(t, v.Delete(), "missing file is fine")

	require.NoError(t, v.Save(ctx, &memJar{cookies: []publish.Cookie{{Name: "a", Value: "b"}}}))
	require.NoError(t, v.Delete())
	assert.False(t, v.Exists())
}

func TestNewVaultValidatesConfig(t *testing.T) {
	_, err := NewVault(Config{ProtectedURL: "https://www.olx.uz/myaccount/"}, nil, fake.New(now), nil)
	assert.Error(t, err)
	_, err = NewVault(Config{Path: "x.json", ProtectedURL: "not a url"}, nil, fake.New(now), nil)
	assert.Error(t, err)
}

func TestNewVaultBackoffFromConfig(t *testing.T) {
	clk := fake.New(now)
	v, err := NewVault(Config{
		Path:         filepath.Join(t.TempDir(), "s.json"),
		ProtectedURL: "https://www.olx.uz/myaccount/",
		MaxAttempts:  3,
		Backoff:      "exponential",
		BackoffStep:  2 * time.Second,
		BackoffMax:   3 * time.Second,
	}, nil, clk, nil)
	require.NoError(t, err)

	nav := &scriptedNav{results: []navResult{{err: errors.New("boom")}}}
	assert.False(t, v.Validate(context.Background(), nav))
	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 2)
	assert.GreaterOrEqual(t, sleeps[0], time.Second)
	assert.LessOrEqual(t, sleeps[0], 2*time.Second)
	assert.LessOrEqual(t, sleeps[1], 3*time.Second, "capped at BackoffMax")

	_, err = NewVault(Config{
		Path:         "x.json",
		ProtectedURL: "https://www.olx.uz/myaccount/",
		Backoff:      "fibonacci",
	}, nil, clk, nil)
	assert.ErrorContains(t, err, "unknown session backoff")
}
