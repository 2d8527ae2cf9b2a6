package host

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"friendsbar/internal/graph"
	"friendsbar/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

var (
	//go:embed js/expand.js
	expandJS string
	//go:embed js/member.js
	memberJS string
	//go:embed js/call.js
	callJS string
	//go:embed js/roots.js
	rootsJS string
	//go:embed js/windows.js
	windowsJS string
)

// Object groups. Each is released wholesale before it is refilled.
const (
	groupRoots  = "friendsbar-roots"
	groupWindow = "friendsbar-window"
)

// expandLimit caps members fetched per object; Keys and Items never
// return more than this.
const expandLimit = 240

// remoteCallTimeout bounds every CDP round trip made by a remote value.
const remoteCallTimeout = 2 * time.Second

// DefaultRoots are the shared-context globals a scan starts from. Loaded
// module exports that look friend-related and the window itself follow them.
var DefaultRoots = []string{
	"App", "SteamClient", "g_FriendDataStore", "g_PersonaStore",
	"g_FriendsUIApp", "FriendStore", "g_FriendsStore", "friendStore",
}

// moduleRootLimit caps module-registry roots so the root bag stays within
// expandLimit.
const moduleRootLimit = 200

const (
	moduleRootPrefix = "module:"
	windowRoot       = "window"
)

// scope ties remote values to the page and call context they were made in.
// Values cached across cycles outlive the context that created them, so
// calls fall back to the connection's base context once it is done.
type scope struct {
	page  *rod.Page
	group string
	base  context.Context

	mu  sync.Mutex
	ctx context.Context
}

func (s *scope) context() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	c := s.ctx
	s.mu.Unlock()
	if c == nil || c.Err() != nil {
		c = s.base
	}
	return context.WithTimeout(c, remoteCallTimeout)
}

type remoteID struct {
	sc  *scope
	tag int64
}

// remote is a lazily expanded handle to a live host object. Members are
// read once and kept until Refresh.
type remote struct {
	sc    *scope
	id    proto.RuntimeRemoteObjectID
	kind  graph.Kind
	arity int

	mu       sync.Mutex
	expanded bool
	tag      int64
	keys     []string
	vals     map[string]graph.Value
	items    []graph.Value
}

// fromRemote converts a CDP remote object. arity is only meaningful for
// functions.
func fromRemote(sc *scope, ro *proto.RuntimeRemoteObject, arity int) graph.Value {
	if ro == nil {
		return graph.UndefinedValue
	}
	switch ro.Type {
	case proto.RuntimeRemoteObjectTypeUndefined, proto.RuntimeRemoteObjectTypeSymbol:
		return graph.UndefinedValue
	case proto.RuntimeRemoteObjectTypeBoolean:
		return graph.Boolean(ro.Value.Bool())
	case proto.RuntimeRemoteObjectTypeString:
		return graph.Str(ro.Value.Str())
	case proto.RuntimeRemoteObjectTypeNumber:
		if ro.UnserializableValue != "" {
			f, err := strconv.ParseFloat(string(ro.UnserializableValue), 64)
			if err != nil {
				return graph.UndefinedValue
			}
			return graph.Num(f)
		}
		return graph.Num(ro.Value.Num())
	case proto.RuntimeRemoteObjectTypeBigint:
		return graph.Str(strings.TrimSuffix(string(ro.UnserializableValue), "n"))
	case proto.RuntimeRemoteObjectTypeFunction:
		return &remote{sc: sc, id: ro.ObjectID, kind: graph.Func, arity: arity}
	}

	if ro.Subtype == proto.RuntimeRemoteObjectSubtypeNull || ro.ObjectID == "" {
		return graph.NullValue
	}
	kind := graph.Object
	switch ro.Subtype {
	case proto.RuntimeRemoteObjectSubtypeArray:
		kind = graph.Array
	case proto.RuntimeRemoteObjectSubtypeMap:
		kind = graph.Map
	case proto.RuntimeRemoteObjectSubtypeSet:
		kind = graph.Set
	}
	return &remote{sc: sc, id: ro.ObjectID, kind: kind, arity: -1}
}

func (r *remote) callOn(fn string, args ...*proto.RuntimeCallArgument) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := r.sc.context()
	defer cancel()
	res, err := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: fn,
		ObjectID:            r.id,
		Arguments:           args,
		AwaitPromise:        true,
		Silent:              true,
		ObjectGroup:         r.sc.group,
	}.Call(r.sc.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, exceptionError(res.ExceptionDetails)
	}
	return res.Result, nil
}

func exceptionError(d *proto.RuntimeExceptionDetails) error {
	msg := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		msg = d.Exception.Description
	}
	if strings.Contains(msg, "friendsbar: not callable") {
		return graph.ErrNotCallable
	}
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	return errors.New("host exception: " + msg)
}

// Refresh drops the memoized members so the next read sees the object's
// current state. Handles previously returned for members stay valid but are
// not updated.
func (r *remote) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expanded = false
	r.keys, r.vals, r.items = nil, nil, nil
}

// expand fetches the tag, member names and member handles in two round trips.
// It must be called with r.mu held.
func (r *remote) expand() {
	if r.expanded {
		return
	}
	r.expanded = true
	func() {
		if !r.kind.Container() {
			return
		}
		bag, err := r.callOn(expandJS, &proto.RuntimeCallArgument{Value: gson.New(expandLimit)})
		if err != nil || bag == nil || bag.ObjectID == "" {
			logging.HostDebug("expand failed: %v", err)
			return
		}
		ctx, cancel := r.sc.context()
		defer cancel()
		props, err := proto.RuntimeGetProperties{ObjectID: bag.ObjectID, OwnProperties: true}.Call(r.sc.page.Context(ctx))
		if err != nil {
			logging.HostDebug("expand properties failed: %v", err)
			return
		}

		slots := make(map[int]*proto.RuntimeRemoteObject, len(props.Result))
		for _, p := range props.Result {
			if i, err := strconv.Atoi(p.Name); err == nil {
				slots[i] = p.Value
			}
		}
		if t := slots[0]; t != nil {
			r.tag = int64(t.Value.Num())
		}
		var meta struct {
			Keys  []string       `json:"keys"`
			Arity map[string]int `json:"arity"`
		}
		if m := slots[1]; m != nil {
			_ = json.Unmarshal([]byte(m.Value.Str()), &meta)
		}

		n := len(slots) - 2
		switch r.kind {
		case graph.Array, graph.Set:
			for i := 0; i < n; i++ {
				r.items = append(r.items, fromRemote(r.sc, slots[i+2], -1))
			}
		default:
			r.vals = make(map[string]graph.Value, len(meta.Keys))
			for i, k := range meta.Keys {
				if i >= n {
					break
				}
				arity, ok := meta.Arity[k]
				if !ok {
					arity = -1
				}
				v := fromRemote(r.sc, slots[i+2], arity)
				r.keys = append(r.keys, k)
				r.vals[k] = v
				if r.kind == graph.Map {
					r.items = append(r.items, v)
				}
			}
		}
	}()
}

func (r *remote) Kind() graph.Kind { return r.kind }
func (r *remote) Arity() int       { return r.arity }
func (r *remote) Str() string      { return "" }
func (r *remote) Truthy() bool     { return true }
func (r *remote) Num() (float64, bool) {
	return 0, false
}

func (r *remote) Identity() any {
	if r.kind == graph.Func {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expand()
	if r.tag == 0 {
		return nil
	}
	return remoteID{sc: r.sc, tag: r.tag}
}

func (r *remote) Keys(limit int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expand()
	if limit > 0 && len(r.keys) > limit {
		return r.keys[:limit]
	}
	return r.keys
}

func (r *remote) Items(limit int) []graph.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expand()
	if limit > 0 && len(r.items) > limit {
		return r.items[:limit]
	}
	return r.items
}

func (r *remote) Get(key string) graph.Value {
	if r.kind == graph.Func {
		return nil
	}
	if v, done := r.memberOf(key); done {
		return v
	}
	ro, err := r.callOn(memberJS, &proto.RuntimeCallArgument{Value: gson.New(key)})
	if err != nil {
		return nil
	}
	v := fromRemote(r.sc, ro, -1)
	if !graph.Present(v) {
		return nil
	}
	return v
}

// memberOf answers Get from the expanded members. done is false when the
// member has to be read from the host.
func (r *remote) memberOf(key string) (graph.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expand()
	switch r.kind {
	case graph.Array, graph.Set:
		i, err := strconv.Atoi(key)
		if err != nil || r.kind == graph.Set || i < 0 || i >= len(r.items) {
			return nil, true
		}
		return r.items[i], true
	}
	if v, ok := r.vals[key]; ok {
		return v, true
	}
	return nil, false
}

func (r *remote) Call(method string, args ...any) (graph.Value, error) {
	if r.kind == graph.Func {
		return nil, graph.ErrNotCallable
	}
	callArgs := []*proto.RuntimeCallArgument{{Value: gson.New(method)}}
	for _, a := range args {
		callArgs = append(callArgs, callArgument(a))
	}
	ro, err := r.callOn(callJS, callArgs...)
	if err != nil {
		return nil, err
	}
	return fromRemote(r.sc, ro, -1), nil
}

func callArgument(a any) *proto.RuntimeCallArgument {
	switch t := a.(type) {
	case *remote:
		return &proto.RuntimeCallArgument{ObjectID: t.id}
	case graph.Value:
		if n, ok := t.Num(); ok && t.Kind() == graph.Number {
			return &proto.RuntimeCallArgument{Value: gson.New(n)}
		}
		return &proto.RuntimeCallArgument{Value: gson.New(t.Str())}
	default:
		return &proto.RuntimeCallArgument{Value: gson.New(a)}
	}
}

// newScope releases group on page and returns a fresh scope for it.
func (c *Client) newScope(ctx context.Context, page *rod.Page, group string) *scope {
	c.groupsMu.Lock()
	prev := c.groups[group]
	c.groups[group] = page
	c.groupsMu.Unlock()
	if prev != nil {
		if err := (proto.RuntimeReleaseObjectGroup{ObjectGroup: group}).Call(prev.Context(ctx)); err != nil {
			logging.HostDebug("release %s: %v", group, err)
		}
	}
	return &scope{page: page, group: group, base: c.baseContext(), ctx: ctx}
}

// globalCall runs fn with globalThis as receiver and returns a remote handle.
func globalCall(ctx context.Context, sc *scope, fn string, args ...*proto.RuntimeCallArgument) (graph.Value, error) {
	glob, err := proto.RuntimeEvaluate{Expression: "globalThis", ObjectGroup: sc.group}.Call(sc.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	if glob.ExceptionDetails != nil {
		return nil, exceptionError(glob.ExceptionDetails)
	}
	g := &remote{sc: sc, id: glob.Result.ObjectID, kind: graph.Object, arity: -1}
	ro, err := g.callOn(fn, args...)
	if err != nil {
		return nil, err
	}
	return fromRemote(sc, ro, -1), nil
}

// Roots returns live handles to the shared context's friend-related globals.
// Each call releases the handles of the previous call.
func (c *Client) Roots(ctx context.Context) ([]graph.Root, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return nil, err
	}
	sc := c.newScope(ctx, page, groupRoots)
	bag, err := globalCall(ctx, sc, rootsJS,
		&proto.RuntimeCallArgument{Value: gson.New(DefaultRoots)},
		&proto.RuntimeCallArgument{Value: gson.New(moduleRootLimit)})
	if err != nil {
		return nil, fmt.Errorf("roots: %w", err)
	}
	return orderRoots(bag), nil
}

// orderRoots lists the named globals in DefaultRoots order, then module
// exports in registry order, then the window.
func orderRoots(bag graph.Value) []graph.Root {
	var out []graph.Root
	for _, name := range DefaultRoots {
		if v := bag.Get(name); graph.Present(v) {
			out = append(out, graph.Root{Name: name, Value: v})
		}
	}
	for _, k := range bag.Keys(0) {
		if !strings.HasPrefix(k, moduleRootPrefix) {
			continue
		}
		if v := bag.Get(k); graph.Present(v) {
			out = append(out, graph.Root{Name: k, Value: v})
		}
	}
	if v := bag.Get(windowRoot); graph.Present(v) {
		out = append(out, graph.Root{Name: windowRoot, Value: v})
	}
	return out
}

// FocusedWindows returns handles to the host's focused-window objects.
func (c *Client) FocusedWindows(ctx context.Context) ([]graph.Value, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return nil, err
	}
	sc := c.newScope(ctx, page, groupWindow)
	list, err := globalCall(ctx, sc, windowsJS)
	if err != nil {
		return nil, fmt.Errorf("focused windows: %w", err)
	}
	return list.Items(0), nil
}

// Invalidate releases every remote handle and forgets the target list.
func (c *Client) Invalidate() {
	c.pages.Reset()
	c.groupsMu.Lock()
	groups := make(map[string]*rod.Page, len(c.groups))
	for g, p := range c.groups {
		groups[g] = p
	}
	clear(c.groups)
	c.groupsMu.Unlock()

	ctx, cancel := context.WithTimeout(c.baseContext(), remoteCallTimeout)
	defer cancel()
	for g, p := range groups {
		_ = proto.RuntimeReleaseObjectGroup{ObjectGroup: g}.Call(p.Context(ctx))
	}
}
