package graph

// Budget bounds a walk.
type Budget struct {
	MaxDepth   int
	MaxBreadth int // keys / items expanded per node
	MaxNodes   int // container nodes visited in total
}

// DefaultBudget matches the host object-graph scan.
var DefaultBudget = Budget{MaxDepth: 5, MaxBreadth: 120, MaxNodes: 10000}

// Root is a named starting point for a walk.
type Root struct {
	Name  string
	Value Value
}

// Node is what a visitor sees.
type Node struct {
	Value Value
	Depth int
	Path  string // dotted path from the root name
}

// Visitor inspects a node and reports whether the walk should descend into it.
type Visitor func(n Node) bool

// Stats describes a finished walk.
type Stats struct {
	Visited   int
	Truncated bool // stopped because MaxNodes was reached
}

// Walk performs a breadth-first walk over container values reachable from
// roots. Each host object is visited at most once, keyed by Identity.
// Functions are not entered; primitives are never passed to visit.
func Walk(roots []Root, b Budget, visit Visitor) Stats {
	type item struct {
		v     Value
		depth int
		path  string
	}

	seen := make(map[any]struct{})
	queue := make([]item, 0, len(roots))
	for _, r := range roots {
		if r.Value != nil {
			queue = append(queue, item{v: r.Value, path: r.Name})
		}
	}

	var st Stats
	for len(queue) > 0 {
		if b.MaxNodes > 0 && st.Visited >= b.MaxNodes {
			st.Truncated = true
			break
		}
		it := queue[0]
		queue = queue[1:]

		if !it.v.Kind().Container() {
			continue
		}
		id := it.v.Identity()
		if id != nil {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		st.Visited++

		if !visit(Node{Value: it.v, Depth: it.depth, Path: it.path}) {
			continue
		}
		if it.depth >= b.MaxDepth {
			continue
		}

		next := it.depth + 1
		for _, k := range it.v.Keys(b.MaxBreadth) {
			child := it.v.Get(k)
			if child == nil || !child.Kind().Container() {
				continue
			}
			queue = append(queue, item{v: child, depth: next, path: it.path + "." + k})
		}
		if it.v.Kind() == Map {
			// Map values were already reached through their keys.
			continue
		}
		for i, child := range it.v.Items(b.MaxBreadth) {
			if child == nil || !child.Kind().Container() {
				continue
			}
			queue = append(queue, item{v: child, depth: next, path: it.path + "[" + itoa(i) + "]"})
		}
	}
	return st
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
