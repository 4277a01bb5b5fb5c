package headless

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

func testForm() FormConfig {
	return FormConfig{
		SubmitButton:    "button[type=submit]",
		SuccessSelector: "#ad-created",
		RemoteIDAttr:    "data-ad-id",
		ErrorSelector:   ".form-error",
		LoginPaths:      []string{"/account/login"},
	}
}

func TestNewRequiresPostURLAndForm(t *testing.T) {
	_, err := New(Config{Form: testForm()}, nil)
	require.Error(t, err)

	_, err = New(Config{PostURL: "https://market.example/post"}, nil)
	require.Error(t, err)

	b, err := New(Config{PostURL: "https://market.example/post", Form: testForm()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, b.cfg.NavigationTimeout)
	assert.Equal(t, 3*time.Minute, b.cfg.SubmitTimeout)
	b.Close()
}

func TestFormValues(t *testing.T) {
	l := publish.Listing{
		Kvartil:   "Yunusobod - 5",
		Xet:       "2/3/9",
		Tell:      "+998 90 123-45-67",
		Narx:      "45 000 $",
		M2:        "54",
		Opisaniya: "  renovated  ",
		Extra:     map[string]string{"heating": "central", "price": "ignored"},
	}
	got := FormValues(l)

	assert.Equal(t, "2-xonali kvartira, Yunusobod - 5", got["title"])
	assert.Equal(t, "45000", got["price"])
	assert.Equal(t, "998901234567", got["phone"])
	assert.Equal(t, "2", got["rooms"])
	assert.Equal(t, "3", got["floor"])
	assert.Equal(t, "9", got["floors"])
	assert.Equal(t, "renovated", got["description"])
	assert.Equal(t, "central", got["heating"])
}

func TestClassify(t *testing.T) {
	form := testForm()
	form.SuccessPathPrefix = "/my/ads"

	t.Run("success marker", func(t *testing.T) {
		res, err := form.classify("https://market.example/done",
			`<html><body><div id="ad-created" data-ad-id="A-77">ok</div></body></html>`)
		require.NoError(t, err)
		assert.Equal(t, "A-77", res.RemoteID)
	})

	t.Run("success path", func(t *testing.T) {
		res, err := form.classify("https://market.example/my/ads?new=1", `<html><body></body></html>`)
		require.NoError(t, err)
		assert.Empty(t, res.RemoteID)
		assert.Equal(t, "https://market.example/my/ads?new=1", res.FinalURL)
	})

	t.Run("login redirect is fatal", func(t *testing.T) {
		_, err := form.classify("https://market.example/account/login?next=/post", `<html></html>`)
		require.ErrorIs(t, err, publish.ErrSessionInvalid)
		assert.False(t, publish.IsRetryable(err))
	})

	t.Run("validation error is retryable", func(t *testing.T) {
		_, err := form.classify("https://market.example/post",
			`<html><body><p class="form-error">  Price   is required </p></body></html>`)
		require.Error(t, err)
		var subErr *publish.SubmitError
		require.ErrorAs(t, err, &subErr)
		assert.Equal(t, "Price is required", subErr.Reason)
		assert.True(t, publish.IsRetryable(err))
	})

	t.Run("no confirmation", func(t *testing.T) {
		_, err := form.classify("https://market.example/post", `<html><body>hm</body></html>`)
		require.Error(t, err)
		assert.True(t, publish.IsRetryable(err))
	})
}

func TestCookieConversion(t *testing.T) {
	exp := float64(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	params := toCookieParams([]publish.Cookie{
		{Name: "sid", Value: "abc", Domain: ".market.example", Expires: &exp, SameSite: "Lax", Secure: true},
		{Name: "", Value: "skipped"},
		{Name: "pref", Value: "dark", Domain: "market.example"},
	})
	require.Len(t, params, 2)
	assert.Equal(t, "/", params[0].Path)
	assert.Equal(t, network.CookieSameSiteLax, params[0].SameSite)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, int64(exp), params[0].Expires.Time().Unix())
	assert.Nil(t, params[1].Expires)

	back := fromNetworkCookies([]*network.Cookie{
		{Name: "sid", Value: "abc", Domain: ".market.example", Path: "/", Expires: exp, SameSite: network.CookieSameSiteLax},
		{Name: "tmp", Value: "1", Session: true, Expires: -1},
		nil,
	})
	require.Len(t, back, 2)
	require.NotNil(t, back[0].Expires)
	assert.InDelta(t, exp, *back[0].Expires, 0.001)
	assert.Equal(t, "Lax", back[0].SameSite)
	assert.Nil(t, back[1].Expires)
}
