package host

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"friendsbar/internal/anchor"
	"friendsbar/internal/logging"
	"friendsbar/internal/render"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var (
	//go:embed js/widget.js
	widgetJS string
	//go:embed js/widgetop.js
	widgetOpJS string
)

// Binding names exposed to the surface document.
const (
	bindingMutation = "friendsbarMutation"
	bindingTap      = "friendsbarTap"
)

// Widget drives the indicator inside the focused surface window. It
// implements render.View.
type Widget struct {
	surface func(ctx context.Context) (*rod.Page, error)
	retire  func(ctx context.Context, page *rod.Page)

	mu    sync.Mutex
	last  *rod.Page
	moved chan struct{} // closed when last changes to another target
}

var _ render.View = (*Widget)(nil)

// Widget returns the surface driver for c.
func (c *Client) Widget() *Widget {
	return &Widget{
		surface: c.surfacePage,
		retire: func(ctx context.Context, page *rod.Page) {
			if _, err := opOn(ctx, page, "teardown", nil, false); err != nil {
				logging.HostDebug("teardown on previous surface: %v", err)
			}
		},
		moved: make(chan struct{}),
	}
}

// page resolves the surface window, tearing the indicator down in the
// previous window when focus moved to another one.
func (w *Widget) page(ctx context.Context) (*rod.Page, error) {
	page, _, err := w.watch(ctx)
	return page, err
}

// watch is page plus a channel that is closed once the surface moves away
// from the returned page.
func (w *Widget) watch(ctx context.Context) (*rod.Page, <-chan struct{}, error) {
	page, err := w.surface(ctx)
	if err != nil {
		return nil, nil, err
	}
	w.mu.Lock()
	prev := w.last
	if prev == nil || prev.TargetID != page.TargetID {
		close(w.moved)
		w.moved = make(chan struct{})
	}
	w.last = page
	moved := w.moved
	w.mu.Unlock()
	if prev != nil && prev.TargetID != page.TargetID {
		logging.HostDebug("surface moved from %s to %s", prev.TargetID, page.TargetID)
		w.retire(ctx, prev)
	}
	return page, moved, nil
}

type opResult struct {
	Missing bool            `json:"missing"`
	Value   json.RawMessage `json:"value"`
}

// opOn invokes a runtime operation, installing the runtime first when the
// document does not have it yet. It reports whether the runtime was present.
func opOn(ctx context.Context, page *rod.Page, op string, out any, install bool, args ...any) (bool, error) {
	if args == nil {
		args = []any{}
	}
	var res opResult
	if err := evalJSON(ctx, page, widgetOpJS, &res, op, args); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if res.Missing {
		if !install {
			return false, nil
		}
		if err := evalJSON(ctx, page, widgetJS, nil); err != nil {
			return false, fmt.Errorf("install runtime: %w", err)
		}
		res = opResult{}
		if err := evalJSON(ctx, page, widgetOpJS, &res, op, args); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		if res.Missing {
			return false, fmt.Errorf("%s: runtime did not install", op)
		}
	}
	if out != nil && len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, out); err != nil {
			return true, fmt.Errorf("%s: decode: %w", op, err)
		}
	}
	return true, nil
}

func (w *Widget) op(ctx context.Context, op string, out any, args ...any) error {
	page, err := w.page(ctx)
	if err != nil {
		return err
	}
	_, err = opOn(ctx, page, op, out, true, args...)
	return err
}

// Snapshot captures the surface geometry. Placements computed from it refer
// to the same document until the next snapshot.
func (w *Widget) Snapshot(ctx context.Context) (*anchor.Surface, error) {
	var s anchor.Surface
	if err := w.op(ctx, "snapshot", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type mountReply struct {
	Mounted bool   `json:"mounted"`
	Mode    string `json:"mode"`
}

func (r mountReply) mode() anchor.Mode {
	if !r.Mounted {
		return anchor.ModeNone
	}
	return parseMode(r.Mode)
}

func parseMode(s string) anchor.Mode {
	switch s {
	case "anchored":
		return anchor.ModeAnchored
	case "fallback":
		return anchor.ModeFallback
	default:
		return anchor.ModeNone
	}
}

// Mount moves the indicator root to p and reports where it ended up. It is
// a no-op when the root is already in place.
func (w *Widget) Mount(ctx context.Context, p anchor.Placement) (anchor.Mode, error) {
	var r mountReply
	if err := w.op(ctx, "mount", &r, p.Mode.String(), p.Row, p.Before); err != nil {
		return anchor.ModeNone, err
	}
	return r.mode(), nil
}

// State reports the current mount mode without changing it.
func (w *Widget) State(ctx context.Context) (anchor.Mode, error) {
	var r mountReply
	if err := w.op(ctx, "state", &r); err != nil {
		return anchor.ModeNone, err
	}
	return r.mode(), nil
}

// ApplySizes sets the icon, overflow and activity bar sizes.
func (w *Widget) ApplySizes(ctx context.Context, s anchor.Sizes) error {
	return w.op(ctx, "sizes", nil, s.Icon, s.Overflow, s.Activity)
}

// ApplyOffsets measures the root at zero offset and translates it by the
// user offsets, clamped in fallback mode. It returns the applied offsets.
func (w *Widget) ApplyOffsets(ctx context.Context, mode anchor.Mode, x, y int) (int, int, error) {
	var box struct {
		Rect   anchor.Rect `json:"rect"`
		Width  float64     `json:"width"`
		Height float64     `json:"height"`
	}
	if err := w.op(ctx, "box", &box); err != nil {
		return 0, 0, err
	}
	ax, ay := anchor.Offsets(mode, x, y, box.Rect, box.Width, box.Height)
	if err := w.op(ctx, "offset", nil, ax, ay); err != nil {
		return 0, 0, err
	}
	return ax, ay, nil
}

func (w *Widget) Measure(ctx context.Context) (map[string]anchor.Rect, error) {
	out := make(map[string]anchor.Rect)
	if err := w.op(ctx, "measure", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Widget) Commit(ctx context.Context, items []render.Item, leaving []string) error {
	if items == nil {
		items = []render.Item{}
	}
	if leaving == nil {
		leaving = []string{}
	}
	return w.op(ctx, "commit", nil, items, leaving)
}

func (w *Widget) Animate(ctx context.Context, anims []render.Animation) error {
	if len(anims) == 0 {
		return nil
	}
	return w.op(ctx, "animate", nil, anims)
}

func (w *Widget) Settle(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return w.op(ctx, "settle", nil, keys)
}

func (w *Widget) RemoveGhost(ctx context.Context, key string) error {
	return w.op(ctx, "removeGhost", nil, key)
}

func (w *Widget) SetVisible(ctx context.Context, visible bool) error {
	return w.op(ctx, "visible", nil, visible)
}

// Teardown removes the root, styles and observer from the surface. It does
// nothing when the runtime is not installed.
func (w *Widget) Teardown(ctx context.Context) error {
	w.mu.Lock()
	page := w.last
	w.last = nil
	w.mu.Unlock()
	if page == nil {
		return nil
	}
	_, err := opOn(ctx, page, "teardown", nil, false)
	return err
}

// Listen registers the surface bindings and delivers structural mutations
// (debounced in the document) and node taps until ctx is done. When the
// surface moves to another window the bindings follow it, and onMutation is
// called once so the indicator is remounted there.
func (w *Widget) Listen(ctx context.Context, onMutation func(), onTap func(key string)) error {
	return w.follow(ctx, func(ctx context.Context, page *rod.Page) error {
		return listenOn(ctx, page, onMutation, onTap)
	}, onMutation)
}

// follow runs listen on the current surface page and restarts it on the new
// page whenever the surface moves. listen must return once its ctx is done.
func (w *Widget) follow(ctx context.Context, listen func(ctx context.Context, page *rod.Page) error, onMoved func()) error {
	for first := true; ; first = false {
		page, moved, err := w.watch(ctx)
		if err != nil {
			return err
		}
		if !first {
			logging.HostDebug("listener rebound to %s", page.TargetID)
			onMoved()
		}

		lctx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() { errc <- listen(lctx, page) }()

		select {
		case err = <-errc:
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				err = fmt.Errorf("surface %s: event stream ended", page.TargetID)
			}
			return err
		case <-moved:
			cancel()
			<-errc
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// listenOn binds the surface callbacks on page and blocks until its event
// stream ends or ctx is done.
func listenOn(ctx context.Context, page *rod.Page, onMutation func(), onTap func(key string)) error {
	p := page.Context(ctx)
	for _, name := range []string{bindingMutation, bindingTap} {
		if err := (proto.RuntimeAddBinding{Name: name}).Call(p); err != nil {
			return fmt.Errorf("add binding %s: %w", name, err)
		}
	}

	wait := p.EachEvent(func(e *proto.RuntimeBindingCalled) {
		switch e.Name {
		case bindingMutation:
			onMutation()
		case bindingTap:
			onTap(e.Payload)
		}
	})
	wait()
	return nil
}
