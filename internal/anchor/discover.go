package anchor

import (
	"math"
	"sort"
	"strings"
)

// Mode is how the indicator is currently mounted.
type Mode int

const (
	ModeNone Mode = iota
	ModeAnchored
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeAnchored:
		return "anchored"
	case ModeFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Placement is the result of discovery. In anchored mode the indicator is
// inserted into Row before its direct child Before, or as the row's first
// child when Before is -1. In fallback mode it is appended to the surface body.
type Placement struct {
	Mode    Mode
	Row     int
	Before  int
	Buttons []int
	Score   float64
}

// Button envelope and header-bar geometry.
const (
	minButton      = 14
	maxButton      = 120
	bandTop        = -8
	buttonBandMax  = 150
	rowBandMax     = 160
	rightOfCenter  = 0.45
	minRowHeight   = 24
	maxRowHeight   = 120
	minRowWidth    = 120
	rowRightEdge   = 0.5
	ancestorLevels = 5
	minRowButtons  = 3
)

// Buttons returns the qualifying top-right icon buttons inside scope (or the
// whole surface when scope is -1), ordered by left edge.
func (s *Surface) Buttons(scope int) []int {
	var out []int
	for i, n := range s.Nodes {
		if !n.Interactive() || n.Owned || s.owned(i) {
			continue
		}
		if scope >= 0 && (i == scope || !s.Contains(scope, i)) {
			continue
		}
		r := n.Rect
		if r.Width < minButton || r.Width > maxButton || r.Height < minButton || r.Height > maxButton {
			continue
		}
		if r.Top < bandTop || r.Top > buttonBandMax {
			continue
		}
		if r.Right() < s.Width*rightOfCenter {
			continue
		}
		if !n.Visible || n.Opacity <= 0.05 {
			continue
		}
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, b int) bool { return s.Nodes[out[a]].Rect.Left < s.Nodes[out[b]].Rect.Left })
	return out
}

// owned reports whether any ancestor of i belongs to the indicator.
func (s *Surface) owned(i int) bool {
	for p := s.parent(i); p >= 0; p = s.parent(p) {
		if s.Nodes[p].Owned {
			return true
		}
	}
	return false
}

func (s *Surface) rowGeometry(r Rect) bool {
	return r.Top > bandTop && r.Top < rowBandMax &&
		r.Height >= minRowHeight && r.Height <= maxRowHeight &&
		r.Width >= minRowWidth && r.Right() > s.Width*rowRightEdge
}

// FindRow scores the ancestors of every qualifying button and returns the
// best one that itself holds at least three buttons.
func (s *Surface) FindRow() (row int, buttons []int, score float64, ok bool) {
	all := s.Buttons(-1)
	if len(all) < minRowButtons {
		return -1, nil, 0, false
	}

	base := make(map[int]float64)
	var order []int
	for _, b := range all {
		for depth, a := range s.Ancestors(b, ancestorLevels) {
			if !s.rowGeometry(s.Nodes[a].Rect) {
				continue
			}
			if _, seen := base[a]; !seen {
				order = append(order, a)
			}
			base[a] += float64(6 - depth)
		}
	}

	row, score = -1, math.Inf(-1)
	for _, cand := range order {
		inRow := s.Buttons(cand)
		if len(inRow) < minRowButtons {
			continue
		}
		r := s.Nodes[cand].Rect
		compact := math.Max(0, 180-r.Height)
		rightPenalty := math.Max(0, s.Width-r.Right())
		sc := base[cand]*10 + float64(len(inRow))*8 + compact - rightPenalty
		if sc > score {
			row, buttons, score = cand, inRow, sc
		}
	}
	return row, buttons, score, row >= 0
}

// SearchAffordance returns the leftmost search-like element in row, lifted to
// its clickable ancestor when that ancestor is still inside row, or -1.
func (s *Surface) SearchAffordance(row int) int {
	var cands []int
	seen := map[int]bool{}
	for i, n := range s.Nodes {
		if i == row || !s.Contains(row, i) || n.Owned || !looksLikeSearch(n) {
			continue
		}
		c := i
		if click := s.closest(i, row, func(n Node) bool { return n.Interactive() || n.Tag == "a" }); click >= 0 && click != row {
			c = click
		}
		if !seen[c] {
			seen[c] = true
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return -1
	}
	sort.SliceStable(cands, func(a, b int) bool { return s.Nodes[cands[a]].Rect.Left < s.Nodes[cands[b]].Rect.Left })
	return cands[0]
}

// childOf lifts node to the direct child of row that contains it, or -1.
func (s *Surface) childOf(row, node int) int {
	for i := node; i >= 0; i = s.parent(i) {
		if s.parent(i) == row {
			return i
		}
	}
	return -1
}

func looksLikeSearch(n Node) bool {
	return strings.Contains(strings.ToLower(n.Aria), "search") ||
		strings.Contains(strings.ToLower(n.Title), "search") ||
		strings.Contains(strings.ToLower(n.Class), "search")
}

// Discover decides where the indicator goes. An anchored placement is always
// returned when a qualifying row exists; otherwise the fallback overlay is
// used, or ModeNone when the surface has no body.
func Discover(s *Surface) Placement {
	if s == nil {
		return Placement{Mode: ModeNone, Row: -1, Before: -1}
	}
	if row, buttons, score, ok := s.FindRow(); ok {
		before := s.SearchAffordance(row)
		if before < 0 && len(buttons) > 0 {
			before = buttons[0]
		}
		return Placement{Mode: ModeAnchored, Row: row, Before: s.childOf(row, before), Buttons: buttons, Score: score}
	}
	if s.Body < 0 || s.Body >= len(s.Nodes) {
		return Placement{Mode: ModeNone, Row: -1, Before: -1}
	}
	return Placement{Mode: ModeFallback, Row: s.Body, Before: -1}
}
