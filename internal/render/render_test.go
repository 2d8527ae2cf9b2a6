package render

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"friendsbar/internal/anchor"
	"friendsbar/internal/identity"
	"friendsbar/internal/presence"
)

// fakeView lays keyed nodes out left to right, 40px apart.
type fakeView struct {
	mu       sync.Mutex
	keys     []string
	items    map[string]Item
	ghosts   map[string]int
	anims    [][]Animation
	visible  bool
	commits  int
	removed  []string
	measured int
	settled  []string
	animErr  error
}

func newFakeView() *fakeView {
	return &fakeView{items: map[string]Item{}, ghosts: map[string]int{}}
}

func (v *fakeView) Measure(context.Context) (map[string]anchor.Rect, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.measured++
	out := map[string]anchor.Rect{}
	for i, k := range v.keys {
		out[k] = anchor.Rect{Left: float64(i * 40), Width: 32, Height: 32}
	}
	return out, nil
}

func (v *fakeView) Commit(_ context.Context, items []Item, leaving []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commits++
	v.keys = v.keys[:0]
	for _, it := range items {
		v.keys = append(v.keys, it.Key)
		v.items[it.Key] = it
	}
	for _, k := range leaving {
		v.ghosts[k]++
	}
	return nil
}

func (v *fakeView) Animate(_ context.Context, anims []Animation) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.anims = append(v.anims, anims)
	return v.animErr
}

func (v *fakeView) Settle(_ context.Context, keys []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settled = append(v.settled, keys...)
	return nil
}

func (v *fakeView) RemoveGhost(_ context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.ghosts, key)
	v.removed = append(v.removed, key)
	return nil
}

func (v *fakeView) SetVisible(_ context.Context, visible bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = visible
	return nil
}

func (v *fakeView) ghostCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ghosts)
}

func rec(n int, name string) presence.Record {
	return presence.Record{ID: identity.ID(76561198000000000 + uint64(n)), Name: name, Avatar: presence.DefaultAvatar}
}

func TestTitleAndActivity(t *testing.T) {
	r := presence.Record{Name: "Alice"}
	assert.Equal(t, "Alice - online", Title(r))
	assert.Equal(t, "online", ActivityClass(r))

	r.Idle = true
	assert.Equal(t, "Alice - online (idle)", Title(r))
	assert.Equal(t, "online-idle", ActivityClass(r))

	r.InActivity, r.Activity = true, "Portal 2"
	assert.Equal(t, "Alice - in game (idle) - Portal 2", Title(r))
	assert.Equal(t, "ingame-idle", ActivityClass(r))

	r.Idle = false
	assert.Equal(t, "ingame", ActivityClass(r))
}

func TestBuildOverflow(t *testing.T) {
	var records []presence.Record
	for i := 1; i <= 13; i++ {
		records = append(records, rec(i, fmt.Sprint("f", i)))
	}
	items := Build(records, false)
	require.Len(t, items, MaxVisible+1)
	last := items[MaxVisible]
	assert.Equal(t, Item{Key: KeyOverflow, Kind: KindOverflow, Text: "+3", Title: "3 more online"}, last)
	assert.Equal(t, "friend:76561198000000001", items[0].Key)
	assert.Equal(t, 10, Displayed(13))
	assert.Equal(t, 2, Displayed(2))

	items = Build(records[:10], false)
	assert.Len(t, items, 10, "no overflow node at exactly the limit")
}

func TestBuildCountOnly(t *testing.T) {
	items := Build([]presence.Record{rec(1, "a"), rec(2, "b")}, true)
	require.Len(t, items, 1)
	assert.Equal(t, KeyCountToggle, items[0].Key)
	assert.Equal(t, "2", items[0].Text)
	assert.Empty(t, Build(nil, true))
}

func TestFriendFromKey(t *testing.T) {
	id, ok := FriendFromKey(FriendKey(76561198000000001))
	require.True(t, ok)
	assert.Equal(t, identity.ID(76561198000000001), id)

	_, ok = FriendFromKey(KeyOverflow)
	assert.False(t, ok)
}

func TestRenderEnterMoveLeave(t *testing.T) {
	defer goleak.VerifyNone(t)

	view := newFakeView()
	r := New(view, 10*time.Millisecond)
	ctx := context.Background()

	res, err := r.Render(ctx, []presence.Record{rec(1, "a"), rec(2, "b"), rec(3, "c")}, Options{})
	require.NoError(t, err)
	assert.True(t, view.visible)
	assert.Len(t, res.Entered, 3)
	assert.Empty(t, res.Moved)

	// b leaves, c moves into its slot, d enters.
	res, err = r.Render(ctx, []presence.Record{rec(1, "a"), rec(3, "c"), rec(4, "d")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"friend:76561198000000002"}, res.Left)
	assert.Equal(t, []string{"friend:76561198000000004"}, res.Entered)
	assert.Equal(t, []string{"friend:76561198000000003"}, res.Moved)

	want := []Animation{
		{Key: "friend:76561198000000003", DX: 40},
		{Key: "friend:76561198000000004", Enter: true},
	}
	if diff := cmp.Diff(want, view.anims[1]); diff != "" {
		t.Errorf("animations (-want +got):\n%s", diff)
	}

	assert.Eventually(t, func() bool { return view.ghostCount() == 0 && r.PendingGhosts() == 0 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"friend:76561198000000002"}, view.removed)
}

func TestRenderSettlesWhenAnimateFails(t *testing.T) {
	view := newFakeView()
	r := New(view, time.Millisecond)
	ctx := context.Background()

	_, err := r.Render(ctx, []presence.Record{rec(1, "a")}, Options{})
	require.NoError(t, err)
	assert.Empty(t, view.settled, "successful animation leaves nodes to the transition")

	view.animErr = fmt.Errorf("target closed")
	res, err := r.Render(ctx, []presence.Record{rec(2, "b"), rec(1, "a")}, Options{})
	require.NoError(t, err, "animation is best effort")
	assert.True(t, view.visible)
	assert.Equal(t, []string{"friend:76561198000000002"}, res.Entered)
	assert.Equal(t, []string{"friend:76561198000000001"}, res.Moved)
	assert.ElementsMatch(t, []string{"friend:76561198000000001", "friend:76561198000000002"}, view.settled)
}

func TestRenderUnchangedKeysDoNotAnimate(t *testing.T) {
	view := newFakeView()
	r := New(view, time.Millisecond)
	list := []presence.Record{rec(1, "a"), rec(2, "b")}

	_, err := r.Render(context.Background(), list, Options{})
	require.NoError(t, err)

	list[0].InActivity = true
	res, err := r.Render(context.Background(), list, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Entered)
	assert.Empty(t, res.Moved)
	assert.Len(t, view.anims, 1, "second render had nothing to animate")
	assert.Equal(t, "ingame", view.items[FriendKey(list[0].ID)].Activity, "content updated in place")
}

func TestRenderHiddenAndEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)

	view := newFakeView()
	r := New(view, time.Millisecond)
	ctx := context.Background()

	_, err := r.Render(ctx, []presence.Record{rec(1, "a")}, Options{})
	require.NoError(t, err)

	res, err := r.Render(ctx, []presence.Record{rec(2, "b")}, Options{Hidden: true})
	require.NoError(t, err)
	assert.False(t, view.visible)
	assert.Equal(t, []string{"friend:76561198000000001"}, res.Keys, "hiding keeps the nodes")
	assert.Equal(t, 1, view.commits)

	_, err = r.Render(ctx, nil, Options{})
	require.NoError(t, err)
	assert.False(t, view.visible)
	assert.Empty(t, r.Keys())
	assert.Zero(t, r.PendingGhosts(), "clearing does not spawn ghosts")
}

func TestRenderCountOnlyToggle(t *testing.T) {
	defer goleak.VerifyNone(t)

	view := newFakeView()
	r := New(view, time.Millisecond)
	list := []presence.Record{rec(1, "a"), rec(2, "b")}

	_, err := r.Render(context.Background(), list, Options{})
	require.NoError(t, err)
	res, err := r.Render(context.Background(), list, Options{CountOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{KeyCountToggle}, res.Keys)
	assert.Len(t, res.Left, 2)

	r.Reset()
	assert.Zero(t, r.PendingGhosts())
	assert.Empty(t, r.Keys())
}
