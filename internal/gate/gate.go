// Package gate decides whether the indicator should be hidden for the
// current settings and application context.
package gate

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"friendsbar/internal/cache"
	"friendsbar/internal/graph"
	"friendsbar/internal/logging"
	"friendsbar/internal/settings"
)

//go:embed storeprobe.js
var storeProbeSource string

// Locations lists the navigable locations of the host's windows, lower-cased.
type Locations interface {
	Routes(ctx context.Context) ([]string, error)
}

// WindowState yields the focused-window objects of the host.
type WindowState interface {
	FocusedWindows(ctx context.Context) ([]graph.Value, error)
}

// Executor runs source in a named host execution context.
type Executor interface {
	Execute(ctx context.Context, contextName, source string) (graph.Value, error)
}

// Detection is the context observed at one moment.
type Detection struct {
	Routes     []string
	FromRoutes bool
	FromWindow bool
	FromProbe  bool
	GamePage   bool
}

// Store reports whether any signal saw the storefront.
func (d Detection) Store() bool { return d.FromRoutes || d.FromWindow || d.FromProbe }

// RouteDebug joins the first routes for diagnostics.
func (d Detection) RouteDebug() string {
	if len(d.Routes) == 0 {
		return "(none)"
	}
	routes := d.Routes
	if len(routes) > 6 {
		routes = routes[:6]
	}
	s := strings.Join(routes, " || ")
	if len(s) > 400 {
		s = s[:400]
	}
	return s
}

// StoreDebug names which signals fired.
func (d Detection) StoreDebug() string {
	return fmt.Sprintf("route:%t window:%t tab:%t", d.FromRoutes, d.FromWindow, d.FromProbe)
}

// Decision is the gate's verdict.
type Decision struct {
	Hidden bool
	Reason string
	Detection
}

// Options configures a Gate.
type Options struct {
	Locations    Locations
	Window       WindowState
	Exec         Executor
	Contexts     []string
	ProbeTimeout time.Duration
	CacheTTL     time.Duration
}

// Gate detects application context and applies the hide settings. Detection
// is cached briefly because the cross-context probe is expensive.
type Gate struct {
	opts  Options
	cache *cache.TTL[Detection]
}

// New creates a Gate.
func New(opts Options) *Gate {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	return &Gate{opts: opts, cache: cache.NewTTL[Detection](opts.CacheTTL)}
}

// Invalidate drops the cached detection.
func (g *Gate) Invalidate() { g.cache.Reset() }

// Detect returns the cached detection or runs a fresh one.
func (g *Gate) Detect(ctx context.Context) Detection {
	if d, ok := g.cache.Get(); ok {
		return d
	}
	d := g.detect(ctx)
	if ctx.Err() == nil {
		g.cache.Set(d)
	}
	return d
}

func (g *Gate) detect(ctx context.Context) Detection {
	var d Detection
	if g.opts.Locations != nil {
		routes, err := g.opts.Locations.Routes(ctx)
		if err != nil {
			logging.GateDebug("routes: %v", err)
		}
		d.Routes = routes
	}
	for _, r := range d.Routes {
		d.FromRoutes = d.FromRoutes || IsStoreRoute(r)
		d.GamePage = d.GamePage || IsGamePageRoute(r)
	}
	if g.opts.Window != nil {
		wins, err := g.opts.Window.FocusedWindows(ctx)
		if err != nil {
			logging.GateDebug("window state: %v", err)
		}
		d.FromWindow = WindowStateIsStore(wins)
	}
	d.FromProbe = g.probeStore(ctx)
	logging.GateDebug("detect: %s game:%t", d.StoreDebug(), d.GamePage)
	return d
}

// probeStore asks every candidate context whether it shows the store.
func (g *Gate) probeStore(ctx context.Context) bool {
	if g.opts.Exec == nil || len(g.opts.Contexts) == 0 {
		return false
	}
	hits := make([]bool, len(g.opts.Contexts))
	eg, ectx := errgroup.WithContext(ctx)
	for i, name := range g.opts.Contexts {
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ectx, g.opts.ProbeTimeout)
			defer cancel()
			v, err := g.opts.Exec.Execute(pctx, name, storeProbeSource)
			if err != nil {
				return nil
			}
			hits[i] = probeTrue(v)
			return nil
		})
	}
	_ = eg.Wait()
	for _, h := range hits {
		if h {
			return true
		}
	}
	return false
}

func probeTrue(v graph.Value) bool {
	if !graph.Present(v) {
		return false
	}
	if v.Kind().Container() {
		if r := v.Get("result"); r != nil {
			v = r
		}
	}
	switch v.Kind() {
	case graph.Bool:
		return v.Truthy()
	case graph.String:
		return v.Str() == "true"
	}
	return false
}

// Evaluate applies the hide rules: disabled hides always; with no known
// location only the enabled flag applies; otherwise the store and
// game-page preferences are checked against the detection.
func (g *Gate) Evaluate(ctx context.Context, prefs settings.Snapshot) Decision {
	if !prefs.Enabled {
		return Decision{Hidden: true, Reason: "disabled"}
	}
	d := g.Detect(ctx)
	dec := Decision{Detection: d}
	if len(d.Routes) == 0 {
		return dec
	}
	switch {
	case prefs.HideInStore && d.Store():
		dec.Hidden, dec.Reason = true, "store"
	case prefs.HideOnGamePage && d.GamePage:
		dec.Hidden, dec.Reason = true, "game-page"
	}
	return dec
}
