//go:build integration

package host_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"friendsbar/internal/anchor"
	"friendsbar/internal/graph"
	"friendsbar/internal/host"
	"friendsbar/internal/render"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedPage = `<html><head><title>SharedJSContext</title></head><body><script>
window.g_steamID = '76561197960265733';
window.App = { m_CurrentUser: { strSteamID: '76561197960265733' } };
class Store {
  constructor() { this.m_mapFriends = new Map([['5', { steamid: '76561197960265733', personaname: 'Gabe', personastate: 1 }]]); }
  GetFriends() { return Array.from(this.m_mapFriends.values()); }
}
window.FriendStore = new Store();
</script></body></html>`

const surfacePage = `<html><head><title>Steam</title><style>body{margin:0;width:1280px}
#bar{position:absolute;top:0;right:0;height:40px;width:400px;display:flex}
#bar button{width:32px;height:32px;margin:4px}</style></head><body>
<div id="bar"><button class="search" aria-label="Search"></button><button></button><button></button><button></button></div>
</body></html>`

func startHost(t *testing.T) (*host.Client, context.Context) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shared":
			fmt.Fprint(w, sharedPage)
		default:
			fmt.Fprint(w, surfacePage)
		}
	}))
	t.Cleanup(ts.Close)

	u, err := launcher.New().Headless(true).Launch()
	require.NoError(t, err, "launch chrome")
	browser := rod.New().ControlURL(u)
	require.NoError(t, browser.Connect())
	t.Cleanup(func() { _ = browser.Close() })

	for _, path := range []string{"/shared", "/surface"} {
		page, err := browser.Page(proto.TargetCreateTarget{URL: ts.URL + path})
		require.NoError(t, err)
		require.NoError(t, page.WaitLoad())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	c := host.New(host.Options{DebuggerURL: u, SurfaceTitles: []string{"Steam"}, SharedContext: "SharedJSContext"})
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c, ctx
}

func TestHostSession_Integration(t *testing.T) {
	c, ctx := startHost(t)

	user, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "76561197960265733", user)

	g, err := c.Global(ctx, "g_steamID")
	require.NoError(t, err)
	assert.Equal(t, "76561197960265733", g)

	missing, err := c.Global(ctx, "nope.deeper")
	require.NoError(t, err)
	assert.Empty(t, missing)

	v, err := c.Execute(ctx, "SharedJSContext", `() => ({ friends: [{ steamid: '1', online: true }] })`)
	require.NoError(t, err)
	assert.Equal(t, "1", graph.Path(v, "friends.0.steamid").Str())

	_, err = c.Execute(ctx, "NoSuchContext", `() => 1`)
	assert.ErrorIs(t, err, host.ErrContextNotFound)
}

func TestHostRemoteGraph_Integration(t *testing.T) {
	c, ctx := startHost(t)

	roots, err := c.Roots(ctx)
	require.NoError(t, err)

	var store graph.Value
	for _, r := range roots {
		if r.Name == "FriendStore" {
			store = r.Value
		}
	}
	require.NotNil(t, store, "FriendStore root")
	assert.Contains(t, store.Keys(0), "GetFriends")

	friends, err := store.Call("GetFriends")
	require.NoError(t, err)
	items := friends.Items(0)
	require.Len(t, items, 1)
	assert.Equal(t, "Gabe", items[0].Get("personaname").Str())

	m := store.Get("m_mapFriends")
	require.NotNil(t, m)
	assert.Equal(t, graph.Map, m.Kind())
	assert.Equal(t, []string{"5"}, m.Keys(0))
	assert.Equal(t, m.Identity(), store.Get("m_mapFriends").Identity())

	c.Invalidate()
}

func TestHostWidget_Integration(t *testing.T) {
	c, ctx := startHost(t)
	w := c.Widget()

	s, err := w.Snapshot(ctx)
	require.NoError(t, err)
	p := anchor.Discover(s)
	require.Equal(t, anchor.ModeAnchored, p.Mode)

	mode, err := w.Mount(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, anchor.ModeAnchored, mode)

	r := render.New(w, 50*time.Millisecond)
	res, err := r.Render(ctx, nil, render.Options{})
	require.NoError(t, err)
	assert.False(t, res.Visible)

	require.NoError(t, w.Teardown(ctx))
	require.NoError(t, w.Teardown(ctx))
}
