package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
)

type fakeHost struct {
	status int
	body   string
	err    error
	calls  int
}

func (h *fakeHost) HostFetch(context.Context, string) (int, string, error) {
	h.calls++
	return h.status, h.body, h.err
}

type fakeCookies []*http.Cookie

func (c fakeCookies) Cookies(context.Context, string) ([]*http.Cookie, error) { return c, nil }

func TestFetcherDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, acceptHeader, r.Header.Get("Accept"))
		assert.Equal(t, defaultUA, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	host := &fakeHost{status: 200, body: "from host"}
	f, err := NewFetcher(FetcherOptions{Host: host})
	require.NoError(t, err)

	body, err := f.Text(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
	assert.Zero(t, host.calls)
}

func TestFetcherFallsBackToHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherOptions{Host: &fakeHost{status: 200, body: "from host"}})
	require.NoError(t, err)

	body, err := f.Text(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "from host", body)
}

func TestFetcherBothFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherOptions{Host: &fakeHost{status: 502}})
	require.NoError(t, err)
	_, err = f.Text(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direct: HTTP 500")
	assert.Contains(t, err.Error(), "host: HTTP 502")

	f, err = NewFetcher(FetcherOptions{})
	require.NoError(t, err)
	_, err = f.Text(context.Background(), srv.URL)
	assert.EqualError(t, err, "HTTP 500")

	f, err = NewFetcher(FetcherOptions{Host: &fakeHost{err: errors.New("detached")}})
	require.NoError(t, err)
	_, err = f.Text(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "detached")
}

func TestFetcherJSONIsCacheBusted(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"response":{"steamid":76561198000000001}}`))
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherOptions{Timeout: time.Second})
	require.NoError(t, err)
	f.now = func() time.Time { return time.UnixMilli(1700000000000) }

	v, err := f.JSON(context.Background(), srv.URL+"/x?a=1")
	require.NoError(t, err)
	assert.Equal(t, "a=1&_friendsbar_ts=1700000000000", query)

	id, ok := identity.Normalize(graph.Path(v, "response.steamid").Str())
	require.True(t, ok)
	assert.Equal(t, identity.ID(76561198000000001), id)
}

func TestFetcherSeedsCookiesFromHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(identity.SessionCookie)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(c.Value))
	}))
	defer srv.Close()

	f, err := NewFetcher(FetcherOptions{Cookies: fakeCookies{{Name: identity.SessionCookie, Value: "76561198000000001||tok"}}})
	require.NoError(t, err)
	body, err := f.Text(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "76561198000000001||tok", body)
}

func TestRedact(t *testing.T) {
	got := redact("https://api.steampowered.com/x?key=abc&steamid=1&access_token=t")
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "=t")
	assert.Contains(t, got, "steamid=1")
}
