package headless

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// FormConfig maps listing values onto the marketplace form and describes how to read
// the page shown after submitting.
type FormConfig struct {
	// Fields maps a form value name (see FormValues) to a CSS selector.
	Fields       map[string]string `mapstructure:"fields"`
	ImageInput   string            `mapstructure:"image_input"`
	SubmitButton string            `mapstructure:"submit_button"`
	UploadSettle time.Duration     `mapstructure:"upload_settle"`
	// SuccessSelector marks the confirmation page; RemoteIDAttr is read from it.
	SuccessSelector string `mapstructure:"success_selector"`
	RemoteIDAttr    string `mapstructure:"remote_id_attr"`
	// SuccessPathPrefix accepts the submission when the final URL path starts with it.
	SuccessPathPrefix string `mapstructure:"success_path_prefix"`
	// ErrorSelector matches validation messages rendered on a rejected form.
	ErrorSelector string   `mapstructure:"error_selector"`
	LoginPaths    []string `mapstructure:"login_paths"`
}

func (f FormConfig) validate() error {
	if f.SubmitButton == "" {
		return fmt.Errorf("browser form submit_button selector is required")
	}
	if f.SuccessSelector == "" && f.SuccessPathPrefix == "" {
		return fmt.Errorf("browser form needs success_selector or success_path_prefix")
	}
	return nil
}

var fieldOrder = []string{
	"title", "description", "price", "district", "rooms", "floor", "floors",
	"area", "condition", "phone", "contact",
}

// FormValues derives the form values for a listing, keyed by form value name.
func FormValues(l publish.Listing) map[string]string {
	xet := publish.ParseXet(l.Xet)
	values := map[string]string{
		"description": strings.TrimSpace(l.Opisaniya),
		"price":       digitsOnly(l.Narx),
		"district":    strings.TrimSpace(l.Kvartil),
		"area":        strings.TrimSpace(l.M2),
		"condition":   strings.TrimSpace(l.Sost),
		"phone":       digitsOnly(l.Tell),
		"contact":     strings.TrimSpace(l.Rieltor),
	}
	if xet[0] > 0 {
		values["rooms"] = strconv.Itoa(xet[0])
	}
	if xet[1] > 0 {
		values["floor"] = strconv.Itoa(xet[1])
	}
	if xet[2] > 0 {
		values["floors"] = strconv.Itoa(xet[2])
	}
	title := strings.TrimSpace(l.Kvartil)
	if values["rooms"] != "" {
		title = fmt.Sprintf("%s-xonali kvartira, %s", values["rooms"], title)
	}
	values["title"] = title
	for k, v := range l.Extra {
		if _, taken := values[k]; !taken {
			values[k] = v
		}
	}
	return values
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// classify turns the post-submit page into a result. Login redirects are fatal for the
// session; rejections and missing confirmation are retryable.
func (f FormConfig) classify(finalURL, html string) (publish.SubmitResult, error) {
	u, err := url.Parse(finalURL)
	if err != nil {
		return publish.SubmitResult{}, &publish.SubmitError{Reason: "unparsable final url", Retryable: true, Err: err}
	}
	for _, p := range f.LoginPaths {
		if p != "" && strings.HasPrefix(u.Path, p) {
			return publish.SubmitResult{}, &publish.SubmitError{
				Reason: "redirected to login",
				Err:    publish.ErrSessionInvalid,
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return publish.SubmitResult{}, &publish.SubmitError{Reason: "unparsable result page", Retryable: true, Err: err}
	}
	if f.ErrorSelector != "" {
		if msgs := doc.Find(f.ErrorSelector); msgs.Length() > 0 {
			text := strings.Join(strings.Fields(msgs.First().Text()), " ")
			if text == "" {
				text = "form rejected"
			}
			return publish.SubmitResult{}, &publish.SubmitError{
				Reason:    text,
				Retryable: true,
				Err:       errors.New("marketplace rejected the form"),
			}
		}
	}

	result := publish.SubmitResult{FinalURL: finalURL}
	if f.SuccessSelector != "" {
		if marker := doc.Find(f.SuccessSelector).First(); marker.Length() > 0 {
			if f.RemoteIDAttr != "" {
				result.RemoteID, _ = marker.Attr(f.RemoteIDAttr)
			}
			return result, nil
		}
	}
	if f.SuccessPathPrefix != "" && strings.HasPrefix(u.Path, f.SuccessPathPrefix) {
		return result, nil
	}
	return publish.SubmitResult{}, &publish.SubmitError{
		Reason:    "no confirmation after submit",
		Retryable: true,
		Err:       fmt.Errorf("unexpected page %s", finalURL),
	}
}

func toCookieParams(cookies []publish.Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if param.Path == "" {
			param.Path = "/"
		}
		if exp, ok := c.ExpiresAt(); ok {
			ts := cdp.TimeSinceEpoch(exp)
			param.Expires = &ts
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none", "no_restriction":
			param.SameSite = network.CookieSameSiteNone
		}
		out = append(out, param)
	}
	return out
}

func fromNetworkCookies(cookies []*network.Cookie) []publish.Cookie {
	out := make([]publish.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		pc := publish.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			exp := c.Expires
			pc.Expires = &exp
		}
		out = append(out, pc)
	}
	return out
}
