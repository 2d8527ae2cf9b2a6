package render

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"friendsbar/internal/anchor"
	"friendsbar/internal/logging"
	"friendsbar/internal/presence"
)

// DefaultGhostDuration is how long a leaving node's ghost stays on screen.
const DefaultGhostDuration = 240 * time.Millisecond

// moveThreshold is the smallest position delta worth animating.
const moveThreshold = 0.5

// Animation is one transition to play after a commit.
type Animation struct {
	Key   string  `json:"key"`
	Enter bool    `json:"enter,omitempty"`
	DX    float64 `json:"dx,omitempty"` // offset back to the previous position
	DY    float64 `json:"dy,omitempty"`
}

// View is the host surface the renderer drives.
//
// Commit replaces the root's keyed children with items in order, reusing and
// updating existing nodes by key, and turns the nodes for leaving keys into
// ghosts that play their exit transition. Measure reports the current rects
// of keyed, non-ghost children. Animate applies enter transitions and
// transition-suppressed offsets that are released on the next frame. Settle
// puts the given keys in their final state with no transition pending.
type View interface {
	Measure(ctx context.Context) (map[string]anchor.Rect, error)
	Commit(ctx context.Context, items []Item, leaving []string) error
	Animate(ctx context.Context, anims []Animation) error
	Settle(ctx context.Context, keys []string) error
	RemoveGhost(ctx context.Context, key string) error
	SetVisible(ctx context.Context, visible bool) error
}

// Options control one render.
type Options struct {
	CountOnly bool
	Hidden    bool // context gate or settings say hide
}

// Result describes what a render changed.
type Result struct {
	Visible bool
	Keys    []string
	Entered []string
	Left    []string
	Moved   []string
}

// Renderer reconciles keyed nodes. It owns the rendered key set; nothing else
// should add or remove keyed children of the root.
type Renderer struct {
	view       View
	ghostAfter time.Duration

	mu     sync.Mutex
	keys   []string
	ghosts map[string]*time.Timer
}

// New creates a renderer over view.
func New(view View, ghostDuration time.Duration) *Renderer {
	if ghostDuration <= 0 {
		ghostDuration = DefaultGhostDuration
	}
	return &Renderer{
		view:       view,
		ghostAfter: ghostDuration,
		ghosts:     make(map[string]*time.Timer),
	}
}

// Keys returns the currently rendered keys in order.
func (r *Renderer) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// Render reconciles the view with records. Hidden renders leave the nodes in
// place and only hide the root; an empty list clears it without ghosts.
func (r *Renderer) Render(ctx context.Context, records []presence.Record, opts Options) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.Hidden {
		return Result{Keys: append([]string(nil), r.keys...)}, r.view.SetVisible(ctx, false)
	}
	if len(records) == 0 {
		if err := r.view.Commit(ctx, nil, nil); err != nil {
			return Result{}, fmt.Errorf("clear: %w", err)
		}
		r.keys = nil
		return Result{}, r.view.SetVisible(ctx, false)
	}

	items := Build(records, opts.CountOnly)
	next := make(map[string]bool, len(items))
	res := Result{Visible: true, Keys: make([]string, 0, len(items))}
	for _, it := range items {
		next[it.Key] = true
		res.Keys = append(res.Keys, it.Key)
	}
	for _, k := range r.keys {
		if !next[k] {
			res.Left = append(res.Left, k)
		}
	}

	before, err := r.view.Measure(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("measure: %w", err)
	}
	if err := r.view.Commit(ctx, items, res.Left); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	r.keys = res.Keys
	for _, k := range res.Left {
		r.scheduleGhostRemoval(k)
	}

	after, err := r.view.Measure(ctx)
	if err != nil {
		return res, fmt.Errorf("measure: %w", err)
	}
	var anims []Animation
	for _, k := range res.Keys {
		now, ok := after[k]
		if !ok {
			continue
		}
		old, had := before[k]
		if !had {
			anims = append(anims, Animation{Key: k, Enter: true})
			res.Entered = append(res.Entered, k)
			continue
		}
		dx, dy := old.Left-now.Left, old.Top-now.Top
		if math.Abs(dx) < moveThreshold && math.Abs(dy) < moveThreshold {
			continue
		}
		anims = append(anims, Animation{Key: k, DX: dx, DY: dy})
		res.Moved = append(res.Moved, k)
	}
	if len(anims) > 0 {
		if err := r.view.Animate(ctx, anims); err != nil {
			logging.RenderWarn("animate: %v", err)
			// New nodes are built hidden; without the transition they would stay so.
			keys := make([]string, 0, len(anims))
			for _, a := range anims {
				keys = append(keys, a.Key)
			}
			if err := r.view.Settle(ctx, keys); err != nil {
				logging.RenderWarn("settle: %v", err)
			}
		}
	}
	logging.RenderDebug("render: %d keys, +%d -%d ~%d", len(res.Keys), len(res.Entered), len(res.Left), len(res.Moved))
	return res, r.view.SetVisible(ctx, true)
}

// scheduleGhostRemoval must be called with r.mu held.
func (r *Renderer) scheduleGhostRemoval(key string) {
	if t, ok := r.ghosts[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(r.ghostAfter, func() {
		r.mu.Lock()
		if r.ghosts[key] == t {
			delete(r.ghosts, key)
		}
		r.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.view.RemoveGhost(ctx, key); err != nil {
			logging.RenderDebug("remove ghost %s: %v", key, err)
		}
	})
	r.ghosts[key] = t
}

// PendingGhosts returns the number of ghosts awaiting removal.
func (r *Renderer) PendingGhosts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ghosts)
}

// Reset cancels pending ghost removals and forgets the rendered set. It does
// not touch the view; the caller tears the root down.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.ghosts {
		t.Stop()
		delete(r.ghosts, k)
	}
	r.keys = nil
}
