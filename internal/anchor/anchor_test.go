package anchor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type surfaceBuilder struct {
	s Surface
}

func (b *surfaceBuilder) add(parent int, n Node) int {
	n.Parent = parent
	if n.Opacity == 0 {
		n.Opacity = 1
	}
	n.Visible = true
	b.s.Nodes = append(b.s.Nodes, n)
	return len(b.s.Nodes) - 1
}

func button(left float64, extra ...func(*Node)) Node {
	n := Node{Tag: "button", Rect: Rect{Left: left, Top: 4, Width: 32, Height: 32}}
	for _, fn := range extra {
		fn(&n)
	}
	return n
}

// topBar builds a 1280x800 surface with a four-button strip on the right of
// the header, a search box wrapping the first button, and an avatar image.
func topBar(t *testing.T, withSearch bool) (*Surface, map[string]int) {
	t.Helper()
	b := &surfaceBuilder{s: Surface{Width: 1280, Height: 800}}
	ids := map[string]int{}
	ids["body"] = b.add(-1, Node{Tag: "body", Rect: Rect{Width: 1280, Height: 800}})
	ids["header"] = b.add(ids["body"], Node{Tag: "div", Rect: Rect{Width: 1280, Height: 40}})
	ids["nav"] = b.add(ids["header"], button(10))
	ids["strip"] = b.add(ids["header"], Node{Tag: "div", Class: "TopBarRight", Rect: Rect{Left: 900, Top: 4, Width: 380, Height: 32}})

	wrapClass := "IconWrap"
	if withSearch {
		wrapClass = "SearchBox"
	}
	ids["wrap"] = b.add(ids["strip"], Node{Tag: "div", Class: wrapClass, Rect: Rect{Left: 900, Top: 4, Width: 32, Height: 32}})
	ids["b0"] = b.add(ids["wrap"], button(900))
	ids["b1"] = b.add(ids["strip"], button(940))
	ids["b2"] = b.add(ids["strip"], button(980))
	ids["b3"] = b.add(ids["strip"], button(1020))
	ids["avatar"] = b.add(ids["strip"], Node{Tag: "img", Rect: Rect{Left: 1240, Top: 4, Width: 32, Height: 32}})
	b.s.Body = ids["body"]
	return &b.s, ids
}

func TestButtonsEnvelope(t *testing.T) {
	s, ids := topBar(t, false)
	assert.Equal(t, []int{ids["b0"], ids["b1"], ids["b2"], ids["b3"]}, s.Buttons(-1))

	s.Nodes[ids["b1"]].Opacity = 0.01
	s.Nodes[ids["b2"]].Visible = false
	s.Nodes[ids["b3"]].Rect.Top = 151
	assert.Equal(t, []int{ids["b0"]}, s.Buttons(-1))
}

func TestDiscoverAnchorsBeforeSearch(t *testing.T) {
	s, ids := topBar(t, true)
	p := Discover(s)

	require.Equal(t, ModeAnchored, p.Mode)
	assert.Equal(t, ids["strip"], p.Row, "the compact strip outscores the full-width header")
	assert.Equal(t, ids["wrap"], p.Before)
	assert.Equal(t, []int{ids["b0"], ids["b1"], ids["b2"], ids["b3"]}, p.Buttons)
	assert.InDelta(t, 410, p.Score, 0.001)
}

func TestDiscoverAnchorsBeforeFirstButton(t *testing.T) {
	s, ids := topBar(t, false)
	p := Discover(s)

	require.Equal(t, ModeAnchored, p.Mode)
	assert.Equal(t, ids["wrap"], p.Before, "lifted to the row's direct child")
}

func TestDiscoverIgnoresOwnNodes(t *testing.T) {
	s, ids := topBar(t, false)
	s.Nodes[ids["strip"]].Owned = true

	p := Discover(s)
	assert.Equal(t, ModeFallback, p.Mode)
	assert.Equal(t, ids["body"], p.Row)
	assert.Equal(t, -1, p.Before)
}

func TestDiscoverFallbackAndNone(t *testing.T) {
	s, ids := topBar(t, false)
	s.Nodes[ids["b2"]].Tag = "div"
	s.Nodes[ids["b3"]].Tag = "div"
	assert.Equal(t, ModeFallback, Discover(s).Mode)

	s.Body = -1
	assert.Equal(t, ModeNone, Discover(s).Mode)
	assert.Equal(t, ModeNone, Discover(nil).Mode)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "none", ModeNone.String())
	assert.Equal(t, "anchored", ModeAnchored.String())
	assert.Equal(t, "fallback", ModeFallback.String())
}

func TestSizesFor(t *testing.T) {
	assert.Equal(t, Sizes{Icon: 32, Overflow: 30, Activity: 6}, SizesFor(32))
	assert.Equal(t, Sizes{Icon: 48, Overflow: 46, Activity: 10}, SizesFor(60))
	assert.Equal(t, Sizes{Icon: 28, Overflow: 26, Activity: 6}, SizesFor(10))
	assert.Equal(t, DefaultSizes, SizesFor(0))
}

func TestMeasurePrefersAvatar(t *testing.T) {
	s, ids := topBar(t, false)
	s.Nodes[ids["avatar"]].Rect = Rect{Left: 1240, Top: 2, Width: 40, Height: 38}
	m, ok := Measure(s, -1)
	require.True(t, ok)
	assert.Equal(t, 38, m)

	s.Nodes[ids["avatar"]].Rect.Width = 60 // no longer square
	m, ok = Measure(s, -1)
	require.True(t, ok)
	assert.Equal(t, 32, m, "falls back to the last button")

	_, ok = Measure(&Surface{Width: 100}, -1)
	assert.False(t, ok)
}

func TestMeasureScopedToRow(t *testing.T) {
	s, ids := topBar(t, false)
	// A larger square image in the header but outside the button strip.
	s.Nodes = append(s.Nodes, Node{Tag: "img", Parent: ids["header"], Visible: true, Opacity: 1,
		Rect: Rect{Left: 1236, Top: 0, Width: 44, Height: 44}})

	m, ok := Measure(s, -1)
	require.True(t, ok)
	assert.Equal(t, 44, m, "whole band picks the rightmost image")

	m, ok = Measure(s, ids["strip"])
	require.True(t, ok)
	assert.Equal(t, 32, m, "the row's own avatar wins")

	// Without an image in the row its buttons are used before the band.
	s.Nodes[ids["avatar"]].Tag = "span"
	s.Nodes[ids["b3"]].Rect = Rect{Left: 1020, Top: 4, Width: 36, Height: 36}
	m, ok = Measure(s, ids["strip"])
	require.True(t, ok)
	assert.Equal(t, 36, m)

	// An empty scope falls back to the band.
	m, ok = Measure(s, ids["nav"])
	require.True(t, ok)
	assert.Equal(t, 44, m)
}

func TestGeometryCaches(t *testing.T) {
	s, ids := topBar(t, false)
	g := NewGeometry(time.Minute)

	sz, ok := g.Sizes(s, -1)
	require.True(t, ok)
	assert.Equal(t, 32, sz.Icon)

	s.Nodes[ids["avatar"]].Rect = Rect{Left: 1240, Top: 2, Width: 44, Height: 44}
	sz, _ = g.Sizes(s, -1)
	assert.Equal(t, 32, sz.Icon)

	g.Invalidate()
	sz, _ = g.Sizes(s, -1)
	assert.Equal(t, 44, sz.Icon)
}

func TestClampOffset(t *testing.T) {
	box := Rect{Left: 1180, Top: 10, Width: 100, Height: 30}

	x, y := ClampOffset(100, -25, box, 1280, 800)
	assert.Equal(t, -2.0, x)
	assert.Equal(t, -8.0, y)

	x, y = ClampOffset(-2000, 900, box, 1280, 800)
	assert.Equal(t, -1178.0, x)
	assert.Equal(t, 758.0, y)

	x, y = ClampOffset(5, 5, Rect{}, 1280, 800)
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 5.0, y)
}

func TestOffsetsByMode(t *testing.T) {
	box := Rect{Left: 1180, Top: 10, Width: 100, Height: 30}
	x, y := Offsets(ModeAnchored, 100, 40, box, 1280, 800)
	assert.Equal(t, 100, x)
	assert.Equal(t, 40, y)

	x, y = Offsets(ModeFallback, 100, 40, box, 1280, 800)
	assert.Equal(t, -2, x)
	assert.Equal(t, 40, y)
}
