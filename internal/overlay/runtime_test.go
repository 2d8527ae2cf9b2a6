package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"friendsbar/internal/acquire"
	"friendsbar/internal/anchor"
	"friendsbar/internal/cache"
	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
	"friendsbar/internal/render"
	"friendsbar/internal/settings"
)

type fakeSurface struct {
	mu        sync.Mutex
	mode      anchor.Mode
	snapErr   error
	keys      []string
	visible   bool
	commits   int
	offsets   [][2]int
	teardowns int
}

func (s *fakeSurface) Snapshot(context.Context) (*anchor.Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	return &anchor.Surface{Width: 1280, Height: 800, Nodes: []anchor.Node{{Tag: "body"}}}, nil
}

func (s *fakeSurface) Mount(context.Context, anchor.Placement) (anchor.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (s *fakeSurface) ApplySizes(context.Context, anchor.Sizes) error { return nil }

func (s *fakeSurface) ApplyOffsets(_ context.Context, _ anchor.Mode, x, y int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, [2]int{x, y})
	return x, y, nil
}

func (s *fakeSurface) Teardown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns++
	s.keys = nil
	return nil
}

func (s *fakeSurface) Measure(context.Context) (map[string]anchor.Rect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]anchor.Rect{}
	for i, k := range s.keys {
		out[k] = anchor.Rect{Left: float64(i * 40), Width: 32, Height: 32}
	}
	return out, nil
}

func (s *fakeSurface) Commit(_ context.Context, items []render.Item, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	s.keys = s.keys[:0]
	for _, it := range items {
		s.keys = append(s.keys, it.Key)
	}
	return nil
}

func (s *fakeSurface) Animate(context.Context, []render.Animation) error { return nil }
func (s *fakeSurface) Settle(context.Context, []string) error            { return nil }
func (s *fakeSurface) RemoveGhost(context.Context, string) error         { return nil }

func (s *fakeSurface) SetVisible(_ context.Context, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = v
	return nil
}

func (s *fakeSurface) snapshot() (bool, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible, append([]string(nil), s.keys...)
}

type fakeSession struct{ user string }

func (f fakeSession) CurrentUser(context.Context) (string, error)  { return f.user, nil }
func (fakeSession) Cookie(context.Context, string) (string, error) { return "", nil }
func (fakeSession) Global(context.Context, string) (string, error) { return "", nil }

type fakeStrategy struct {
	mu    sync.Mutex
	raws  []graph.Value
	err   error
	calls int
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Produce(context.Context, acquire.Input) ([]graph.Value, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.raws, "", f.err
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNavigator struct {
	mu     sync.Mutex
	opened []identity.ID
}

func (n *fakeNavigator) OpenChat(_ context.Context, id identity.ID) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, id)
	return "webchat", nil
}

// fakeListener blocks until ctx is done and exposes the callbacks it got.
type fakeListener struct {
	mu       sync.Mutex
	mutation func()
	tap      func(string)
}

func (l *fakeListener) Listen(ctx context.Context, onMutation func(), onTap func(string)) error {
	l.mu.Lock()
	l.mutation, l.tap = onMutation, onTap
	l.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (l *fakeListener) tapFn() func(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tap
}

type fakeCache struct {
	mu sync.Mutex
	n  int
}

func (c *fakeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *fakeCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func friend(id, name string, state int) graph.Value {
	return graph.NewObject("steamid", id, "personaname", name, "personastate", state)
}

type fixture struct {
	rt       *Runtime
	surface  *fakeSurface
	strategy *fakeStrategy
	prefs    *settings.Settings
	nav      *fakeNavigator
	listener *fakeListener
	extra    *fakeCache
}

func newFixture(t *testing.T, raws ...graph.Value) *fixture {
	t.Helper()
	f := &fixture{
		surface:  &fakeSurface{mode: anchor.ModeAnchored},
		strategy: &fakeStrategy{raws: raws},
		prefs:    settings.New(settings.NewMemoryStore()),
		nav:      &fakeNavigator{},
		listener: &fakeListener{},
		extra:    &fakeCache{},
	}
	f.rt = New(Deps{
		Surface:      f.surface,
		Listener:     f.listener,
		Navigator:    f.nav,
		Session:      fakeSession{user: "76561197960265733"},
		Orchestrator: acquire.NewOrchestrator(f.strategy),
		Settings:     f.prefs,
		Caches:       []cache.Invalidator{f.extra},
	}, Options{RefreshEvery: time.Hour, MountEvery: time.Hour, GhostDuration: time.Millisecond})
	return f
}

func TestCycleSuccess(t *testing.T) {
	f := newFixture(t,
		friend("76561198000000002", "zed", 1),
		friend("76561198000000001", "Amy", 1),
	)
	f.rt.cycle(context.Background())

	st := f.rt.State()
	assert.True(t, st.Mounted)
	assert.Equal(t, "anchored", st.MountMode)
	assert.Equal(t, 2, st.OnlineCount)
	assert.Equal(t, 2, st.DisplayedCount)
	assert.Equal(t, "fake(2)", st.Source)
	assert.Equal(t, "76561197960265733", st.Identity)
	assert.False(t, st.HasSessionToken)
	assert.False(t, st.HasWebAPIKey)
	assert.NotEmpty(t, st.CycleID)
	assert.False(t, st.LastUpdated.IsZero())
	require.Len(t, st.Attempts, 1)
	assert.Equal(t, acquire.OutcomeHit, st.Attempts[0].Outcome)

	visible, keys := f.surface.snapshot()
	assert.True(t, visible)
	assert.Equal(t, []string{"friend:76561198000000001", "friend:76561198000000002"}, keys)
	assert.Equal(t, [][2]int{{0, 0}}, f.surface.offsets)
}

func TestCycleFailureHides(t *testing.T) {
	f := newFixture(t, friend("76561198000000001", "Amy", 1))
	f.rt.cycle(context.Background())
	visible, _ := f.surface.snapshot()
	require.True(t, visible)

	f.strategy.mu.Lock()
	f.strategy.err = errors.New("boom")
	f.strategy.mu.Unlock()
	f.rt.cycle(context.Background())

	st := f.rt.State()
	assert.Equal(t, "error", st.Source)
	assert.Zero(t, st.OnlineCount)
	assert.Zero(t, st.DisplayedCount)
	assert.Contains(t, st.Error, "all acquisition strategies failed")
	visible, _ = f.surface.snapshot()
	assert.False(t, visible)
	assert.Empty(t, f.rt.currentRecords())
}

func TestCycleEmptyListHides(t *testing.T) {
	f := newFixture(t)
	f.rt.cycle(context.Background())

	st := f.rt.State()
	assert.Equal(t, "none", st.Source)
	assert.Empty(t, st.Error)
	visible, _ := f.surface.snapshot()
	assert.False(t, visible)
}

func TestDisabledHidesWithoutGate(t *testing.T) {
	f := newFixture(t, friend("76561198000000001", "Amy", 1))
	require.NoError(t, f.prefs.SetEnabled(context.Background(), false))
	f.rt.cycle(context.Background())

	st := f.rt.State()
	assert.Equal(t, 1, st.OnlineCount)
	assert.True(t, st.HiddenBySettings)
	visible, _ := f.surface.snapshot()
	assert.False(t, visible)
}

func TestMountPassWithoutSurface(t *testing.T) {
	f := newFixture(t)
	f.surface.snapErr = errors.New("no surface")
	f.rt.mountPass(context.Background())

	st := f.rt.State()
	assert.False(t, st.Mounted)
	assert.Equal(t, "none", st.MountMode)
}

func TestMountPassAppliesOffsets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.prefs.SetXOffset(ctx, 12)
	require.NoError(t, err)
	_, err = f.prefs.SetYOffset(ctx, -4)
	require.NoError(t, err)

	f.surface.mode = anchor.ModeFallback
	f.rt.mountPass(ctx)
	assert.Equal(t, "fallback", f.rt.State().MountMode)
	assert.Equal(t, [][2]int{{12, -4}}, f.surface.offsets)
}

func TestHandleTap(t *testing.T) {
	f := newFixture(t, friend("76561198000000001", "Amy", 1))
	ctx := context.Background()
	f.rt.cycle(ctx)

	// Count node toggles count-only mode and re-renders without a refetch.
	require.NoError(t, f.rt.HandleTap(ctx, render.KeyCountToggle))
	assert.True(t, f.prefs.CountOnly(ctx))
	_, keys := f.surface.snapshot()
	assert.Equal(t, []string{render.KeyCountToggle}, keys)
	assert.Equal(t, 1, f.strategy.callCount())

	require.NoError(t, f.rt.HandleTap(ctx, render.KeyCountToggle))
	assert.False(t, f.prefs.CountOnly(ctx))

	require.NoError(t, f.rt.HandleTap(ctx, render.KeyOverflow))

	require.NoError(t, f.rt.HandleTap(ctx, "friend:76561198000000001"))
	assert.Equal(t, []identity.ID{76561198000000001}, f.nav.opened)

	require.NoError(t, f.prefs.SetTapAction(ctx, settings.TapToggleCount))
	require.NoError(t, f.rt.HandleTap(ctx, "friend:76561198000000001"))
	assert.True(t, f.prefs.CountOnly(ctx))
	assert.Len(t, f.nav.opened, 1)

	assert.Error(t, f.rt.HandleTap(ctx, "bogus"))
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, friend("76561198000000001", "Amy", 1))

	var mu sync.Mutex
	var got []State
	unsub := f.rt.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})
	mu.Lock()
	require.Len(t, got, 1, "called immediately")
	assert.Equal(t, "none", got[0].Source)
	mu.Unlock()

	f.rt.cycle(context.Background())
	unsub()
	unsub()

	mu.Lock()
	n := len(got)
	last := got[n-1]
	mu.Unlock()
	assert.Greater(t, n, 1)
	assert.Equal(t, 1, last.OnlineCount)

	f.rt.cycle(context.Background())
	mu.Lock()
	assert.Len(t, got, n, "no calls after unsubscribe")
	mu.Unlock()
}

func TestStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, friend("76561198000000001", "Amy", 1))
	ctx := context.Background()

	assert.ErrorIs(t, f.rt.ForceRefresh(), ErrStopped)
	require.NoError(t, f.rt.Start(ctx))
	require.NoError(t, f.rt.Start(ctx), "second start is a no-op")
	assert.True(t, f.rt.Running())

	assert.Eventually(t, func() bool { return f.rt.State().OnlineCount == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.rt.ForceRefresh())
	assert.Eventually(t, func() bool { return f.strategy.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.extra.count(), 1)

	// Taps arrive through the listener.
	assert.Eventually(t, func() bool { return f.listener.tapFn() != nil }, 2*time.Second, 5*time.Millisecond)
	f.listener.tapFn()(render.KeyCountToggle)
	assert.Eventually(t, func() bool { return f.prefs.CountOnly(ctx) }, 2*time.Second, 5*time.Millisecond)

	f.rt.Reconfigure(2*time.Hour, time.Hour)

	require.NoError(t, f.rt.Stop(ctx))
	require.NoError(t, f.rt.Stop(ctx), "second stop is a no-op")
	assert.False(t, f.rt.Running())
	assert.Equal(t, 1, f.surface.teardowns)
	assert.Equal(t, initialState(), f.rt.State())
	assert.ErrorIs(t, f.rt.ForceRefresh(), ErrStopped)

	// Restart after stop works.
	require.NoError(t, f.rt.Start(ctx))
	assert.Eventually(t, func() bool { return f.rt.State().OnlineCount == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.rt.Stop(ctx))
}

func TestEqualState(t *testing.T) {
	a := initialState()
	b := initialState()
	assert.True(t, equalState(a, b))

	b.Attempts = []acquire.Attempt{{Strategy: "x"}}
	assert.False(t, equalState(a, b))
	a.Attempts = []acquire.Attempt{{Strategy: "x"}}
	assert.True(t, equalState(a, b))
	a.OnlineCount = 3
	assert.False(t, equalState(a, b))

	c, d := initialState(), initialState()
	c.Attempts = []acquire.Attempt{}
	assert.True(t, equalState(c, d), "nil and empty attempts")
	c.LastUpdated = time.Unix(100, 0)
	d.LastUpdated = time.Unix(100, 0).UTC()
	assert.True(t, equalState(c, d), "same instant in another zone")
}

func TestSlowSubscriberEndsOnLatestState(t *testing.T) {
	h := newStateHub()

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var last State
	h.subscribe(func(s State) {
		if s.OnlineCount == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.update(func(s *State) { s.OnlineCount = 1 })
	}()
	<-entered
	go func() {
		defer wg.Done()
		h.update(func(s *State) { s.OnlineCount = 2 })
	}()
	// Give the second update time to race the blocked delivery.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, h.get().OnlineCount)
	assert.Equal(t, 2, last.OnlineCount)
}
