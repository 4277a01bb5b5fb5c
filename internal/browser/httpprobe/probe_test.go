package httpprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

func marketplace(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "ok" {
			http.Redirect(w, r, "/account/login?next=/profile", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("<html>welcome</html>"))
	})
	mux.HandleFunc("/account/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestNavigateFollowsLoginRedirect(t *testing.T) {
	srv := marketplace(t)
	p, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	final, err := p.Navigate(context.Background(), srv.URL+"/profile")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/account/login?next=/profile", final)
}

func TestNavigateWithStoredCookies(t *testing.T) {
	srv := marketplace(t)
	p, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, p.SetCookies(context.Background(), []publish.Cookie{
		{Name: "sid", Value: "ok", Path: "/"},
		{Name: ""},
	}))
	final, err := p.Navigate(context.Background(), srv.URL+"/profile")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/profile", final)

	jar, err := p.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, jar, 1)
	assert.Equal(t, "sid", jar[0].Name)
}

func TestNavigateHonoursContext(t *testing.T) {
	srv := marketplace(t)
	p, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Navigate(ctx, srv.URL+"/profile")
	require.ErrorIs(t, err, context.Canceled)
}
