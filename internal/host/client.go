// Package host connects to the Steam client's CEF remote debugger and exposes
// its execution contexts through the capability interfaces the rest of the
// module consumes.
//
// Every capability is a thin wrapper over go-rod: contexts are CDP page
// targets found by title, and values cross the wire either as JSON or as
// remote object handles (see remote.go).
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"friendsbar/internal/cache"
	"friendsbar/internal/graph"
	"friendsbar/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrNotConnected is returned when no debugger connection is open.
	ErrNotConnected = errors.New("host: not connected")
	// ErrContextNotFound is returned when no target carries the requested title.
	ErrContextNotFound = errors.New("host: execution context not found")
)

// Options configures a Client.
type Options struct {
	DebuggerURL    string
	SurfaceTitles  []string // surface windows, in preference order
	SharedContext  string   // context holding App, SteamClient and cookies
	ConnectTimeout time.Duration
}

// Target is one debuggable page of the host.
type Target struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

type pageRecord struct {
	meta Target
	page *rod.Page
}

// Client owns the debugger connection.
type Client struct {
	opts Options

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	base       context.Context
	cancel     context.CancelFunc

	pages *cache.TTL[[]pageRecord]

	groupsMu sync.Mutex
	groups   map[string]*rod.Page // object group -> page holding it
}

// pageListTTL bounds how stale the target list may be.
const pageListTTL = 2 * time.Second

// New creates an unconnected client.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.SharedContext == "" {
		opts.SharedContext = "SharedJSContext"
	}
	return &Client{
		opts:   opts,
		pages:  cache.NewTTL[[]pageRecord](pageListTTL),
		groups: make(map[string]*rod.Page),
	}
}

// Start connects to the debugger, reusing a healthy connection.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		logging.HostWarn("stale debugger connection, reconnecting")
		c.closeLocked()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	controlURL, err := resolveControlURL(dialCtx, c.opts.DebuggerURL)
	if err != nil {
		return fmt.Errorf("resolve debugger url: %w", err)
	}

	// The connection outlives ctx; it ends with Close.
	base, stop := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(controlURL).Context(base)
	if err := browser.Connect(); err != nil {
		stop()
		return fmt.Errorf("connect to host debugger: %w", err)
	}

	c.browser = browser
	c.controlURL = controlURL
	c.base, c.cancel = base, stop
	c.pages.Reset()
	logging.Host("connected to host debugger at %s", controlURL)
	return nil
}

func resolveControlURL(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		raw = "http://localhost:8080"
	}
	if strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://") {
		return raw, nil
	}
	type result struct {
		u   string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := launcher.ResolveURL(raw)
		ch <- result{u, err}
	}()
	select {
	case r := <-ch:
		return r.u, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	c.mu.RLock()
	b := c.browser
	c.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.browser, nil
}

// ControlURL returns the websocket debugger URL.
func (c *Client) ControlURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controlURL
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.browser != nil
}

// Close drops the connection. The host client itself keeps running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.browser = nil
	c.controlURL = ""
	c.base, c.cancel = nil, nil
	c.pages.Reset()
	c.groupsMu.Lock()
	clear(c.groups)
	c.groupsMu.Unlock()
}

func (c *Client) baseContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.base == nil {
		return context.Background()
	}
	return c.base
}

// Targets lists the host's page targets.
func (c *Client) Targets(ctx context.Context) ([]Target, error) {
	recs, err := c.pageList(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Target, len(recs))
	for i, r := range recs {
		out[i] = r.meta
	}
	return out, nil
}

func (c *Client) pageList(ctx context.Context) ([]pageRecord, error) {
	if recs, ok := c.pages.Get(); ok {
		return recs, nil
	}
	b, err := c.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	recs := make([]pageRecord, 0, len(pages))
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		recs = append(recs, pageRecord{
			meta: Target{ID: string(info.TargetID), Title: info.Title, URL: info.URL, Type: string(info.Type)},
			page: p,
		})
	}
	c.pages.Set(recs)
	return recs, nil
}

// Page finds the target whose title equals name, falling back to a
// case-insensitive match and then to a title prefix.
func (c *Client) Page(ctx context.Context, name string) (*rod.Page, error) {
	recs, err := c.pageList(ctx)
	if err != nil {
		return nil, err
	}
	if p := matchTitle(recs, name); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrContextNotFound, name)
}

func matchTitle(recs []pageRecord, name string) *rod.Page {
	for _, r := range recs {
		if r.meta.Title == name {
			return r.page
		}
	}
	for _, r := range recs {
		if strings.EqualFold(r.meta.Title, name) {
			return r.page
		}
	}
	lower := strings.ToLower(name)
	for _, r := range recs {
		if lower != "" && strings.HasPrefix(strings.ToLower(r.meta.Title), lower) {
			return r.page
		}
	}
	return nil
}

// surfacePage returns the first configured surface window that exists.
func (c *Client) surfacePage(ctx context.Context) (*rod.Page, error) {
	recs, err := c.pageList(ctx)
	if err != nil {
		return nil, err
	}
	for _, title := range c.opts.SurfaceTitles {
		if p := matchTitle(recs, title); p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no surface among %v", ErrContextNotFound, c.opts.SurfaceTitles)
}

func (c *Client) sharedPage(ctx context.Context) (*rod.Page, error) {
	return c.Page(ctx, c.opts.SharedContext)
}

// evalJSON evaluates a function expression on page and decodes its result
// into out. A nil out discards the result.
func evalJSON(ctx context.Context, page *rod.Page, js string, out any, args ...any) error {
	opts := rod.Eval(js, args...)
	opts.AwaitPromise = true
	res, err := page.Context(ctx).Evaluate(opts)
	if err != nil {
		return err
	}
	if out == nil || res == nil || res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return nil
	}
	return json.Unmarshal([]byte(res.Value.JSON("", "")), out)
}

// evalValue evaluates a function expression on page and returns its result
// as a detached Value.
func evalValue(ctx context.Context, page *rod.Page, js string, args ...any) (graph.Value, error) {
	opts := rod.Eval(js, args...)
	opts.AwaitPromise = true
	res, err := page.Context(ctx).Evaluate(opts)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return graph.UndefinedValue, nil
	}
	return graph.ParseJSON([]byte(res.Value.JSON("", "")))
}

// Execute runs source, a function expression, in the context titled
// contextName and returns its awaited result.
func (c *Client) Execute(ctx context.Context, contextName, source string) (graph.Value, error) {
	page, err := c.Page(ctx, contextName)
	if err != nil {
		return nil, err
	}
	v, err := evalValue(ctx, page, source)
	if err != nil {
		return nil, fmt.Errorf("execute in %s: %w", contextName, err)
	}
	return v, nil
}
