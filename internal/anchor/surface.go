// Package anchor finds where on the host surface the indicator should be
// mounted, sizes it against the surrounding chrome, and clamps user offsets.
//
// It works on a Surface: a flat geometry snapshot of the focused top-level
// document taken by the host layer. Nodes are referenced by index, so the
// decisions made here can be applied back to live elements.
package anchor

import "strings"

// Rect is a viewport-relative bounding box.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Node is one element of a Surface.
type Node struct {
	Parent  int     `json:"parent"` // index of the parent node, -1 for the root
	Tag     string  `json:"tag"`    // lower case
	Role    string  `json:"role,omitempty"`
	Class   string  `json:"class,omitempty"`
	Aria    string  `json:"aria,omitempty"`
	Title   string  `json:"title,omitempty"`
	Rect    Rect    `json:"rect"`
	Visible bool    `json:"visible"` // display and visibility allow rendering
	Opacity float64 `json:"opacity"`
	Owned   bool    `json:"owned,omitempty"` // part of the indicator itself
}

// Interactive reports whether n is a button-like element.
func (n Node) Interactive() bool {
	return n.Tag == "button" || strings.EqualFold(n.Role, "button")
}

// Image reports whether n is an image element.
func (n Node) Image() bool { return n.Tag == "img" }

// Surface is a geometry snapshot of a document. Nodes are in document order,
// so every parent precedes its children.
type Surface struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Body   int     `json:"body"`
	Nodes  []Node  `json:"nodes"`
}

// Contains reports whether node is ancestor itself or one of its descendants.
func (s *Surface) Contains(ancestor, node int) bool {
	for node >= 0 && node < len(s.Nodes) {
		if node == ancestor {
			return true
		}
		node = s.Nodes[node].Parent
	}
	return false
}

// Ancestors returns up to limit ancestors of node, nearest first.
func (s *Surface) Ancestors(node, limit int) []int {
	var out []int
	for p := s.parent(node); p >= 0 && len(out) < limit; p = s.parent(p) {
		out = append(out, p)
	}
	return out
}

func (s *Surface) parent(i int) int {
	if i < 0 || i >= len(s.Nodes) {
		return -1
	}
	return s.Nodes[i].Parent
}

// closest returns the nearest inclusive ancestor of node that satisfies ok
// and stays within scope, or -1.
func (s *Surface) closest(node, scope int, ok func(Node) bool) int {
	for i := node; i >= 0 && i < len(s.Nodes); i = s.Nodes[i].Parent {
		if !s.Contains(scope, i) {
			return -1
		}
		if ok(s.Nodes[i]) {
			return i
		}
	}
	return -1
}
