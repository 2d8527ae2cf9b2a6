package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"friendsbar/internal/graph"
	"friendsbar/internal/logging"
)

const (
	acceptHeader = "application/json,text/html;q=0.9,*/*;q=0.8"
	cacheBustKey = "_friendsbar_ts"
	maxBodyBytes = 4 << 20
	defaultUA    = "Mozilla/5.0 (X11; Linux x86_64) Valve Steam Client"
)

// HostFetcher performs a GET from inside the host client, where the user's
// session applies and cross-origin restrictions do not.
type HostFetcher interface {
	HostFetch(ctx context.Context, rawURL string) (status int, body string, err error)
}

// CookieSource supplies host cookies for a URL so direct requests carry the
// same session as the host.
type CookieSource interface {
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Timeout   time.Duration
	UserAgent string
	Host      HostFetcher  // optional fallback
	Cookies   CookieSource // optional jar seed
	Client    *http.Client // optional, replaces the default client
}

// Fetcher tries a direct request first and falls back to the host.
type Fetcher struct {
	client    *http.Client
	host      HostFetcher
	cookies   CookieSource
	userAgent string
	now       func() time.Time
}

// NewFetcher builds a Fetcher with a public-suffix-aware cookie jar.
func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	client := opts.Client
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Jar: jar, Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUA
	}
	return &Fetcher{client: client, host: opts.Host, cookies: opts.Cookies, userAgent: ua, now: time.Now}, nil
}

// Text returns the body of rawURL, or an error when neither path succeeds.
func (f *Fetcher) Text(ctx context.Context, rawURL string) (string, error) {
	body, directErr := f.direct(ctx, rawURL)
	if directErr == nil && body != "" {
		return body, nil
	}
	if f.host == nil {
		if directErr == nil {
			directErr = errors.New("empty body")
		}
		return "", directErr
	}

	status, hostBody, hostErr := f.host.HostFetch(ctx, rawURL)
	if hostErr == nil && (status < 200 || status > 299) {
		hostErr = fmt.Errorf("HTTP %d", status)
	}
	if hostErr == nil && hostBody != "" {
		return hostBody, nil
	}
	if hostErr == nil {
		hostErr = errors.New("empty body")
	}
	return "", errors.Join(fmt.Errorf("direct: %w", orEmpty(directErr)), fmt.Errorf("host: %w", hostErr))
}

// JSON fetches rawURL with a cache-busting parameter and decodes it.
func (f *Fetcher) JSON(ctx context.Context, rawURL string) (graph.Value, error) {
	body, err := f.Text(ctx, f.cacheBust(rawURL))
	if err != nil {
		return nil, err
	}
	v, err := graph.ParseJSON([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", redact(rawURL), err)
	}
	return v, nil
}

func (f *Fetcher) direct(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	f.seedCookies(ctx, req.URL)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *Fetcher) seedCookies(ctx context.Context, u *url.URL) {
	if f.cookies == nil || f.client.Jar == nil || len(f.client.Jar.Cookies(u)) > 0 {
		return
	}
	cookies, err := f.cookies.Cookies(ctx, u.String())
	if err != nil {
		logging.AcquireDebug("cookie seed for %s failed: %v", u.Host, err)
		return
	}
	if len(cookies) > 0 {
		f.client.Jar.SetCookies(u, cookies)
	}
}

func (f *Fetcher) cacheBust(rawURL string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + cacheBustKey + "=" + strconv.FormatInt(f.now().UnixMilli(), 10)
}

// redact strips credentials from a URL before it is logged.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<url>"
	}
	q := u.Query()
	for _, k := range []string{"key", "access_token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func orEmpty(err error) error {
	if err == nil {
		return errors.New("empty body")
	}
	return err
}
