// Package overlay is the runtime that ties acquisition, gating, mounting and
// rendering together.
//
// A Runtime is constructed once per process from injected capabilities and
// driven by two timers: the refresh timer runs acquisition cycles and the
// mount timer re-evaluates placement and visibility. Surface mutations
// request extra mount passes; requests that arrive while one is queued are
// folded into it. All document work is serialized.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"friendsbar/internal/acquire"
	"friendsbar/internal/anchor"
	"friendsbar/internal/cache"
	"friendsbar/internal/gate"
	"friendsbar/internal/identity"
	"friendsbar/internal/logging"
	"friendsbar/internal/metrics"
	"friendsbar/internal/presence"
	"friendsbar/internal/render"
	"friendsbar/internal/settings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrStopped is returned by operations that need a running runtime.
var ErrStopped = errors.New("overlay: runtime not running")

// Surface is the host document the indicator lives in.
type Surface interface {
	render.View
	Snapshot(ctx context.Context) (*anchor.Surface, error)
	Mount(ctx context.Context, p anchor.Placement) (anchor.Mode, error)
	ApplySizes(ctx context.Context, s anchor.Sizes) error
	ApplyOffsets(ctx context.Context, mode anchor.Mode, x, y int) (int, int, error)
	Teardown(ctx context.Context) error
}

// Listener delivers surface mutations and node taps until ctx is done.
type Listener interface {
	Listen(ctx context.Context, onMutation func(), onTap func(key string)) error
}

// Navigator opens a friend's chat and names the mechanism used.
type Navigator interface {
	OpenChat(ctx context.Context, id identity.ID) (string, error)
}

// Deps are the runtime's collaborators. Listener and Navigator are optional.
type Deps struct {
	Surface      Surface
	Listener     Listener
	Navigator    Navigator
	Session      identity.Session
	Orchestrator *acquire.Orchestrator
	Gate         *gate.Gate
	Settings     *settings.Settings
	Caches       []cache.Invalidator // reset by ForceRefresh and Stop
}

// Options tune the runtime.
type Options struct {
	RefreshEvery  time.Duration
	MountEvery    time.Duration
	GhostDuration time.Duration
	GeometryTTL   time.Duration
	CycleTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = 60 * time.Second
	}
	if o.MountEvery <= 0 {
		o.MountEvery = 2 * time.Second
	}
	if o.GeometryTTL <= 0 {
		o.GeometryTTL = 2 * time.Minute
	}
	if o.CycleTimeout <= 0 {
		o.CycleTimeout = 90 * time.Second
	}
	return o
}

// mountPassTimeout bounds one mount or render pass.
const mountPassTimeout = 10 * time.Second

// Runtime is the explicit context object for one embedded indicator.
type Runtime struct {
	deps Deps
	opts Options

	renderer *render.Renderer
	geometry *anchor.Geometry
	resolver *identity.Resolver
	flight   acquire.Flight
	hub      *stateHub

	surfaceMu sync.Mutex // serializes document work

	recMu   sync.Mutex
	records []presence.Record

	lifeMu    sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	cron      *cron.Cron
	refreshID cron.EntryID
	mountID   cron.EntryID
	mountReq  chan struct{}
	wg        sync.WaitGroup
}

// New builds a runtime. Nothing runs until Start.
func New(deps Deps, opts Options) *Runtime {
	opts = opts.withDefaults()
	r := &Runtime{
		deps:     deps,
		opts:     opts,
		renderer: render.New(deps.Surface, opts.GhostDuration),
		geometry: anchor.NewGeometry(opts.GeometryTTL),
		resolver: identity.NewResolver(deps.Session),
		hub:      newStateHub(),
	}
	deps.Orchestrator.OnAttempt(recordAttempt)
	return r
}

func recordAttempt(a acquire.Attempt) {
	metrics.Attempts.WithLabelValues(a.Strategy, a.Outcome).Inc()
	if n := strings.Count(a.Note, "timeout/null"); n > 0 {
		metrics.ProbeTimeouts.Add(float64(n))
	}
}

// Start launches the timers, the mount loop and the surface listener, then
// requests an immediate mount pass and cycle. Starting twice is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.running {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mountReq = make(chan struct{}, 1)
	r.cron = cron.New()
	r.refreshID = r.cron.Schedule(cron.Every(r.opts.RefreshEvery), cron.FuncJob(r.refreshJob))
	r.mountID = r.cron.Schedule(cron.Every(r.opts.MountEvery), cron.FuncJob(r.RequestMount))
	r.running = true

	r.wg.Add(1)
	go r.mountLoop(r.ctx, r.mountReq)
	if r.deps.Listener != nil {
		r.wg.Add(1)
		go r.listenLoop(r.ctx)
	}
	r.cron.Start()

	r.requestMountLocked()
	r.wg.Add(1)
	go func(ctx context.Context) {
		defer r.wg.Done()
		r.refresh(ctx)
	}(r.ctx)

	logging.Boot("runtime started: refresh every %v, mount every %v", r.opts.RefreshEvery, r.opts.MountEvery)
	return nil
}

// Stop clears both timers, disconnects the listener, removes everything the
// indicator created and resets every cache. It is idempotent.
func (r *Runtime) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	if !r.running {
		r.lifeMu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	c := r.cron
	r.lifeMu.Unlock()

	<-c.Stop().Done()
	r.wg.Wait()

	r.renderer.Reset()
	r.invalidateAll()
	r.setRecords(nil)

	r.surfaceMu.Lock()
	err := r.deps.Surface.Teardown(ctx)
	r.surfaceMu.Unlock()

	r.hub.update(func(s *State) { *s = initialState() })
	metrics.Online.Set(0)
	metrics.Displayed.Set(0)
	metrics.MountMode.Set(float64(anchor.ModeNone))
	logging.Boot("runtime stopped")
	if err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (r *Runtime) Running() bool {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	return r.running
}

// Reconfigure applies new timer cadences to a running runtime.
func (r *Runtime) Reconfigure(refreshEvery, mountEvery time.Duration) {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if refreshEvery > 0 {
		r.opts.RefreshEvery = refreshEvery
	}
	if mountEvery > 0 {
		r.opts.MountEvery = mountEvery
	}
	if !r.running {
		return
	}
	r.cron.Remove(r.refreshID)
	r.cron.Remove(r.mountID)
	r.refreshID = r.cron.Schedule(cron.Every(r.opts.RefreshEvery), cron.FuncJob(r.refreshJob))
	r.mountID = r.cron.Schedule(cron.Every(r.opts.MountEvery), cron.FuncJob(r.RequestMount))
	logging.Boot("timers reconfigured: refresh every %v, mount every %v", r.opts.RefreshEvery, r.opts.MountEvery)
}

// State returns the current live state.
func (r *Runtime) State() State { return r.hub.get() }

// Subscribe calls fn with the current state and again on every change. The
// returned func unsubscribes.
func (r *Runtime) Subscribe(fn func(State)) func() { return r.hub.subscribe(fn) }

// spawn runs fn on a tracked goroutine while the runtime is running.
func (r *Runtime) spawn(fn func(ctx context.Context)) bool {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if !r.running {
		return false
	}
	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(ctx)
	}()
	return true
}

// ForceRefresh invalidates every cache and requests a cycle. A request made
// during a cycle results in exactly one follow-up cycle.
func (r *Runtime) ForceRefresh() error {
	if !r.Running() {
		return ErrStopped
	}
	r.invalidateAll()
	r.spawn(r.refresh)
	return nil
}

// RequestMount asks for a mount and visibility pass. Requests made while
// one is already queued are folded into it.
func (r *Runtime) RequestMount() {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	r.requestMountLocked()
}

func (r *Runtime) requestMountLocked() {
	if !r.running {
		return
	}
	select {
	case r.mountReq <- struct{}{}:
	default:
	}
}

// SettingsChanged re-applies offsets, sizes and visibility after a settings
// write. It never refetches.
func (r *Runtime) SettingsChanged() {
	r.RequestMount()
}

func (r *Runtime) invalidateAll() {
	g := cache.Group{r.deps.Orchestrator, r.geometry}
	if r.deps.Gate != nil {
		g = append(g, r.deps.Gate)
	}
	g = append(g, r.deps.Caches...)
	g.Invalidate()
}

func (r *Runtime) refreshJob() {
	r.lifeMu.Lock()
	ctx := r.ctx
	running := r.running
	r.lifeMu.Unlock()
	if running {
		r.refresh(ctx)
	}
}

// refresh runs a cycle under the single-flight guard.
func (r *Runtime) refresh(ctx context.Context) {
	if !r.flight.Do(func() { r.cycle(ctx) }) {
		logging.AcquireDebug("cycle already running, follow-up queued")
	}
}

// cycle is one acquire, merge, sort and render pass.
func (r *Runtime) cycle(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	id := uuid.NewString()
	log := logging.WithCycle(logging.CategoryAcquire, id)
	ctx, cancel := context.WithTimeout(parent, r.opts.CycleTimeout)
	defer cancel()
	start := time.Now()

	r.mountPass(ctx)

	resolved := r.resolver.Resolve(ctx)
	prefs := r.deps.Settings.Snapshot(ctx)
	out, err := r.deps.Orchestrator.Run(ctx, acquire.Input{
		Identity: resolved.ID,
		Token:    resolved.Token,
		APIKey:   prefs.WebAPIKey,
	})
	elapsed := time.Since(start)

	common := func(s *State) {
		s.CycleID = id
		s.Identity = ""
		if resolved.ID.Valid() {
			s.Identity = resolved.ID.String()
		}
		s.HasSessionToken = resolved.Token != ""
		s.HasWebAPIKey = prefs.WebAPIKey != ""
		s.SourceDebug = out.Debug
		s.ProbeDebug = out.ProbeDebug
		s.Attempts = out.Attempts
	}

	if err != nil && parent.Err() != nil {
		metrics.ObserveCycle("canceled", elapsed)
		log.Debug("cycle abandoned: %v", err)
		return
	}
	if err != nil {
		metrics.ObserveCycle("error", elapsed)
		metrics.Online.Set(0)
		metrics.Displayed.Set(0)
		log.Warn("cycle failed after %v: %v (%s)", elapsed, err, out.Debug)
		r.setRecords(nil)
		r.hub.update(func(s *State) {
			common(s)
			s.OnlineCount, s.DisplayedCount = 0, 0
			s.Source = "error"
			s.Error = err.Error()
		})
		r.hide(parent)
		return
	}

	outcome := "success"
	if len(out.Records) == 0 {
		outcome = "empty"
	}
	metrics.ObserveCycle(outcome, elapsed)
	metrics.Online.Set(float64(len(out.Records)))

	r.setRecords(out.Records)
	r.hub.update(func(s *State) {
		common(s)
		s.OnlineCount = len(out.Records)
		s.DisplayedCount = render.Displayed(len(out.Records))
		s.Source = out.Source
		s.LastUpdated = time.Now()
		s.Error = ""
	})
	r.renderPass(ctx)
	log.Info("cycle done in %v: %d online via %s", elapsed, len(out.Records), out.Source)
}

func (r *Runtime) setRecords(records []presence.Record) {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	r.records = records
}

func (r *Runtime) currentRecords() []presence.Record {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	return r.records
}

func (r *Runtime) mountLoop(ctx context.Context, req <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-req:
			pass, cancel := context.WithTimeout(ctx, mountPassTimeout)
			r.mountPass(pass)
			r.renderPass(pass)
			cancel()
		}
	}
}

// mountPass discovers the anchor and moves the root there, then sizes and
// offsets it. An anchored placement always wins over fallback.
func (r *Runtime) mountPass(ctx context.Context) {
	r.surfaceMu.Lock()
	defer r.surfaceMu.Unlock()

	s, err := r.deps.Surface.Snapshot(ctx)
	if err != nil {
		logging.AnchorDebug("snapshot failed: %v", err)
		r.setMode(anchor.ModeNone)
		return
	}
	p := anchor.Discover(s)
	mode, err := r.deps.Surface.Mount(ctx, p)
	if err != nil {
		logging.AnchorDebug("mount %s failed: %v", p.Mode, err)
		r.setMode(anchor.ModeNone)
		return
	}
	if mode != anchor.ModeNone {
		scope := -1
		if mode == anchor.ModeAnchored && p.Mode == anchor.ModeAnchored {
			scope = p.Row
		}
		if sizes, ok := r.geometry.Sizes(s, scope); ok {
			if err := r.deps.Surface.ApplySizes(ctx, sizes); err != nil {
				logging.AnchorDebug("apply sizes: %v", err)
			}
		}
		x, y := r.deps.Settings.XOffset(ctx), r.deps.Settings.YOffset(ctx)
		if _, _, err := r.deps.Surface.ApplyOffsets(ctx, mode, x, y); err != nil {
			logging.AnchorDebug("apply offsets: %v", err)
		}
	}
	r.setMode(mode)
}

func (r *Runtime) setMode(mode anchor.Mode) {
	metrics.MountMode.Set(float64(mode))
	r.hub.update(func(s *State) {
		s.Mounted = mode != anchor.ModeNone
		s.MountMode = mode.String()
	})
}

// renderPass consults the gate and reconciles the current records.
func (r *Runtime) renderPass(ctx context.Context) {
	prefs := r.deps.Settings.Snapshot(ctx)
	var d gate.Decision
	if r.deps.Gate != nil {
		d = r.deps.Gate.Evaluate(ctx, prefs)
	} else if !prefs.Enabled {
		d = gate.Decision{Hidden: true, Reason: "disabled"}
	}
	records := r.currentRecords()

	r.surfaceMu.Lock()
	res, err := r.renderer.Render(ctx, records, render.Options{CountOnly: prefs.CountOnly, Hidden: d.Hidden})
	r.surfaceMu.Unlock()
	if err != nil {
		logging.RenderWarn("render failed: %v", err)
	}

	displayed := 0
	if res.Visible && !prefs.CountOnly {
		displayed = render.Displayed(len(records))
	}
	metrics.Displayed.Set(float64(displayed))
	r.hub.update(func(s *State) {
		s.HiddenBySettings = d.Hidden
		s.RouteDebug = d.RouteDebug()
		s.StoreDebug = d.StoreDebug()
		s.HasWebAPIKey = prefs.WebAPIKey != ""
	})
}

func (r *Runtime) hide(ctx context.Context) {
	r.surfaceMu.Lock()
	defer r.surfaceMu.Unlock()
	if err := r.deps.Surface.SetVisible(ctx, false); err != nil {
		logging.RenderDebug("hide: %v", err)
	}
}

func (r *Runtime) listenLoop(ctx context.Context) {
	defer r.wg.Done()
	retry := time.NewTimer(0)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
		}
		err := r.deps.Listener.Listen(ctx, r.RequestMount, func(key string) {
			r.spawn(func(ctx context.Context) {
				if err := r.HandleTap(ctx, key); err != nil {
					logging.RenderWarn("tap %s: %v", key, err)
				}
			})
		})
		if ctx.Err() != nil {
			return
		}
		logging.HostDebug("surface listener ended: %v", err)
		retry.Reset(r.opts.MountEvery)
	}
}

// HandleTap performs the action for a tapped node: the count node toggles
// count-only mode; a friend node opens the chat or toggles count-only mode,
// per the tap action setting.
func (r *Runtime) HandleTap(ctx context.Context, key string) error {
	switch key {
	case render.KeyCountToggle:
		return r.toggleCountOnly(ctx)
	case render.KeyOverflow:
		return nil
	}
	id, ok := render.FriendFromKey(key)
	if !ok {
		return fmt.Errorf("unknown node %q", key)
	}
	if r.deps.Settings.TapAction(ctx) == settings.TapToggleCount {
		return r.toggleCountOnly(ctx)
	}
	if r.deps.Navigator == nil {
		return errors.New("no chat navigator")
	}
	via, err := r.deps.Navigator.OpenChat(ctx, id)
	if err != nil {
		return fmt.Errorf("open chat with %s: %w", id, err)
	}
	logging.RenderDebug("opened chat with %s via %s", id, via)
	return nil
}

func (r *Runtime) toggleCountOnly(ctx context.Context) error {
	on, err := r.deps.Settings.ToggleCountOnly(ctx)
	if err != nil {
		return fmt.Errorf("toggle count-only: %w", err)
	}
	logging.RenderDebug("count-only mode %t", on)
	r.renderPass(ctx)
	return nil
}
