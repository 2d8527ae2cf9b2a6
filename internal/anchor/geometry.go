package anchor

import (
	"math"
	"sort"
	"time"

	"friendsbar/internal/cache"
)

// Sizes are the indicator's CSS pixel sizes.
type Sizes struct {
	Icon     int `json:"icon"`
	Overflow int `json:"overflow"`
	Activity int `json:"activity"`
}

// DefaultSizes applies when nothing could be measured.
var DefaultSizes = SizesFor(32)

// SizesFor derives all sizes from a measured reference size.
func SizesFor(measured int) Sizes {
	if measured <= 0 {
		measured = 32
	}
	icon := clampInt(measured, 28, 48)
	return Sizes{
		Icon:     icon,
		Overflow: max(24, icon-2),
		Activity: clampInt(int(math.Round(float64(icon)*0.2)), 5, 10),
	}
}

// Measure finds the reference size near the anchor: the rightmost
// avatar-like square image inside scope, else the rightmost qualifying button
// inside scope. When scope is -1 or holds neither, the whole top band is
// searched the same way. It reports false when nothing qualifies.
func Measure(s *Surface, scope int) (int, bool) {
	if scope >= 0 {
		if m, ok := s.measureIn(scope); ok {
			return m, true
		}
	}
	return s.measureIn(-1)
}

func (s *Surface) measureIn(scope int) (int, bool) {
	var imgs []int
	for i, n := range s.Nodes {
		if !n.Image() || n.Owned || s.owned(i) {
			continue
		}
		if scope >= 0 && !s.Contains(scope, i) {
			continue
		}
		r := n.Rect
		if r.Right() < s.Width*rightOfCenter || r.Top < bandTop || r.Top > buttonBandMax {
			continue
		}
		if r.Width < 20 || r.Width > 64 || r.Height < 20 || r.Height > 64 {
			continue
		}
		if math.Abs(r.Width-r.Height) > 6 {
			continue
		}
		imgs = append(imgs, i)
	}
	if len(imgs) > 0 {
		sort.SliceStable(imgs, func(a, b int) bool { return s.Nodes[imgs[a]].Rect.Right() < s.Nodes[imgs[b]].Rect.Right() })
		r := s.Nodes[imgs[len(imgs)-1]].Rect
		return int(math.Round(math.Min(r.Width, r.Height))), true
	}
	buttons := s.Buttons(scope)
	if len(buttons) == 0 {
		return 0, false
	}
	r := s.Nodes[buttons[len(buttons)-1]].Rect
	return int(math.Round(math.Min(r.Width, r.Height))), true
}

// Geometry caches measured sizes for a while; measuring walks every node.
type Geometry struct {
	cache *cache.TTL[Sizes]
}

// NewGeometry creates a size cache with the given validity window.
func NewGeometry(ttl time.Duration) *Geometry {
	return &Geometry{cache: cache.NewTTL[Sizes](ttl)}
}

// Sizes returns cached sizes, measuring s around scope when the cache is
// cold. ok is false when nothing could be measured; the previous sizes should
// then be kept.
func (g *Geometry) Sizes(s *Surface, scope int) (Sizes, bool) {
	if v, ok := g.cache.Get(); ok {
		return v, true
	}
	measured, ok := Measure(s, scope)
	if !ok {
		return Sizes{}, false
	}
	v := SizesFor(measured)
	g.cache.Set(v)
	return v, true
}

// Invalidate drops the cached sizes.
func (g *Geometry) Invalidate() { g.cache.Reset() }

// EdgeMargin keeps fallback placement off the viewport edge.
const EdgeMargin = 2

// ClampOffset limits a requested translation so that box, measured at zero
// offset, stays within the viewport less EdgeMargin. Empty boxes pass the
// request through unchanged.
func ClampOffset(x, y float64, box Rect, viewW, viewH float64) (float64, float64) {
	if box.Width < 1 || box.Height < 1 {
		return x, y
	}
	minX := EdgeMargin - box.Left
	maxX := viewW - EdgeMargin - box.Right()
	minY := EdgeMargin - box.Top
	maxY := viewH - EdgeMargin - box.Bottom()
	return math.Round(math.Max(minX, math.Min(maxX, x))), math.Round(math.Max(minY, math.Min(maxY, y)))
}

// Offsets returns the translation to apply in mode. box is the indicator's
// bounding box at zero offset.
func Offsets(mode Mode, x, y int, box Rect, viewW, viewH float64) (int, int) {
	if mode != ModeFallback {
		return x, y
	}
	cx, cy := ClampOffset(float64(x), float64(y), box, viewW, viewH)
	return int(cx), int(cy)
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
