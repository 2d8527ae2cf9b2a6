// Package graph models host in-memory state as opaque values and walks it
// under an explicit budget.
//
// Implementations exist for decoded JSON and hand-built trees (this package)
// and for live objects inside the host client (package host). Scans only see
// the Value interface, so tests can mock the host with plain Go values.
package graph

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Kind classifies a Value.
type Kind uint8

const (
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Object
	Array
	Map
	Set
	Func
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Object:
		return "object"
	case Array:
		return "array"
	case Map:
		return "map"
	case Set:
		return "set"
	case Func:
		return "function"
	default:
		return "undefined"
	}
}

// Container reports whether values of this kind can hold children.
func (k Kind) Container() bool {
	return k == Object || k == Array || k == Map || k == Set
}

// ErrNotCallable is returned when Call targets a missing or non-function member.
var ErrNotCallable = errors.New("graph: member is not callable")

// Value is one node of the host object graph.
//
// Accessors never fail: a value that cannot be read behaves as Undefined.
// Call is the only operation that reports errors, because invoking host code
// can throw.
type Value interface {
	Kind() Kind
	// Identity is stable for the lifetime of the underlying object and nil for
	// primitives. Two values with equal Identity are the same host object.
	Identity() any
	// Keys lists own property names, then callable members reachable through
	// the prototype chain (objects), or stringified keys (maps).
	Keys(limit int) []string
	// Get reads a property, or a map entry for maps. Returns nil when absent.
	Get(key string) Value
	// Items lists elements (arrays, sets) or values (maps).
	Items(limit int) []Value
	// Arity is the declared parameter count of a function, -1 otherwise.
	Arity() int
	// Call invokes a method of this value with the receiver bound.
	Call(method string, args ...any) (Value, error)
	// Str coerces primitives to their string form; "" for containers.
	Str() string
	// Num returns the numeric form of numbers and numeric strings.
	Num() (float64, bool)
	// Truthy follows host truthiness.
	Truthy() bool
}

// Present reports whether v holds something other than null or undefined.
func Present(v Value) bool {
	return v != nil && v.Kind() != Undefined && v.Kind() != Null
}

// Refresher is implemented by values that memoize what they read from the
// host.
type Refresher interface {
	Refresh()
}

// Refresh makes v read its members again on next access. Values that do not
// memoize are left alone.
func Refresh(v Value) {
	if r, ok := v.(Refresher); ok {
		r.Refresh()
	}
}

// Path reads a dotted path from v. A segment ending in "()" invokes that
// zero-argument method instead of reading a property. Errors from calls and
// missing segments both yield nil.
func Path(v Value, path string) Value {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if !Present(cur) {
			return nil
		}
		if name, ok := strings.CutSuffix(seg, "()"); ok {
			out, err := cur.Call(name)
			if err != nil {
				return nil
			}
			cur = out
			continue
		}
		cur = cur.Get(seg)
	}
	if !Present(cur) {
		return nil
	}
	return cur
}

// =============================================================================
// In-memory values
// =============================================================================

type primitive struct {
	kind Kind
	s    string
	n    float64
	b    bool
}

// Str returns a string value.
func Str(s string) Value { return &primitive{kind: String, s: s} }

// Num returns a number value.
func Num(n float64) Value { return &primitive{kind: Number, n: n} }

// Boolean returns a boolean value.
func Boolean(b bool) Value { return &primitive{kind: Bool, b: b} }

// NullValue is the host null.
var NullValue Value = &primitive{kind: Null}

// UndefinedValue is the host undefined.
var UndefinedValue Value = &primitive{kind: Undefined}

func (p *primitive) Kind() Kind                         { return p.kind }
func (p *primitive) Identity() any                      { return nil }
func (p *primitive) Keys(int) []string                  { return nil }
func (p *primitive) Get(string) Value                   { return nil }
func (p *primitive) Items(int) []Value                  { return nil }
func (p *primitive) Arity() int                         { return -1 }
func (p *primitive) Call(string, ...any) (Value, error) { return nil, ErrNotCallable }

func (p *primitive) Str() string {
	switch p.kind {
	case String:
		return p.s
	case Number:
		if p.n == math.Trunc(p.n) && math.Abs(p.n) < 1e21 {
			return strconv.FormatFloat(p.n, 'f', 0, 64)
		}
		return strconv.FormatFloat(p.n, 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(p.b)
	case Null:
		return "null"
	default:
		return ""
	}
}

func (p *primitive) Num() (float64, bool) {
	switch p.kind {
	case Number:
		return p.n, !math.IsNaN(p.n)
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(p.s), 64)
		return f, err == nil
	case Bool:
		if p.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (p *primitive) Truthy() bool {
	switch p.kind {
	case String:
		return p.s != ""
	case Number:
		return p.n != 0 && !math.IsNaN(p.n)
	case Bool:
		return p.b
	default:
		return false
	}
}

// Obj is an ordered in-memory object. Methods are Fn values stored as members.
type Obj struct {
	keys []string
	vals map[string]Value
}

// NewObject builds an object from alternating key, value pairs. Plain Go
// values are converted with From.
func NewObject(kv ...any) *Obj {
	o := &Obj{vals: make(map[string]Value, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i].(string), From(kv[i+1]))
	}
	return o
}

// Set adds or replaces a member, keeping first-insertion order.
func (o *Obj) Set(key string, v Value) *Obj {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
	return o
}

func (o *Obj) Kind() Kind    { return Object }
func (o *Obj) Identity() any { return o }
func (o *Obj) Arity() int    { return -1 }
func (o *Obj) Str() string   { return "" }
func (o *Obj) Truthy() bool  { return true }
func (o *Obj) Num() (float64, bool) {
	return 0, false
}
func (o *Obj) Items(int) []Value { return nil }

func (o *Obj) Keys(limit int) []string {
	return head(o.keys, limit)
}

func (o *Obj) Get(key string) Value {
	if v, ok := o.vals[key]; ok {
		return v
	}
	return nil
}

func (o *Obj) Call(method string, args ...any) (Value, error) {
	fn, ok := o.vals[method].(*Fn)
	if !ok {
		return nil, ErrNotCallable
	}
	return fn.invoke(o, args)
}

// Arr is an in-memory array.
type Arr struct {
	elems []Value
}

// NewArray builds an array, converting plain Go values with From.
func NewArray(items ...any) *Arr {
	a := &Arr{elems: make([]Value, 0, len(items))}
	for _, it := range items {
		a.elems = append(a.elems, From(it))
	}
	return a
}

func (a *Arr) Kind() Kind    { return Array }
func (a *Arr) Identity() any { return a }
func (a *Arr) Arity() int    { return -1 }
func (a *Arr) Str() string   { return "" }
func (a *Arr) Truthy() bool  { return true }
func (a *Arr) Num() (float64, bool) {
	return 0, false
}
func (a *Arr) Keys(int) []string { return nil }
func (a *Arr) Items(limit int) []Value {
	return head(a.elems, limit)
}

func (a *Arr) Get(key string) Value {
	if key == "length" {
		return Num(float64(len(a.elems)))
	}
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= len(a.elems) {
		return nil
	}
	return a.elems[i]
}

func (a *Arr) Call(string, ...any) (Value, error) { return nil, ErrNotCallable }

// MapVal is an in-memory keyed collection with host Map semantics.
type MapVal struct {
	keys []string
	vals map[string]Value
}

// NewMap builds a map from alternating key, value pairs.
func NewMap(kv ...any) *MapVal {
	m := &MapVal{vals: map[string]Value{}}
	for i := 0; i+1 < len(kv); i += 2 {
		k := From(kv[i]).Str()
		if _, ok := m.vals[k]; !ok {
			m.keys = append(m.keys, k)
		}
		m.vals[k] = From(kv[i+1])
	}
	return m
}

func (m *MapVal) Kind() Kind    { return Map }
func (m *MapVal) Identity() any { return m }
func (m *MapVal) Arity() int    { return -1 }
func (m *MapVal) Str() string   { return "" }
func (m *MapVal) Truthy() bool  { return true }
func (m *MapVal) Num() (float64, bool) {
	return 0, false
}
func (m *MapVal) Keys(limit int) []string { return head(m.keys, limit) }
func (m *MapVal) Get(key string) Value {
	if key == "size" {
		return Num(float64(len(m.keys)))
	}
	return m.vals[key]
}

func (m *MapVal) Items(limit int) []Value {
	out := make([]Value, 0, len(m.keys))
	for _, k := range head(m.keys, limit) {
		out = append(out, m.vals[k])
	}
	return out
}

func (m *MapVal) Call(method string, args ...any) (Value, error) {
	if method == "get" && len(args) == 1 {
		if v := m.vals[From(args[0]).Str()]; v != nil {
			return v, nil
		}
		return UndefinedValue, nil
	}
	return nil, ErrNotCallable
}

// SetVal is an in-memory set.
type SetVal struct {
	Arr
}

// NewSet builds a set. Duplicates are not removed.
func NewSet(items ...any) *SetVal {
	return &SetVal{Arr: *NewArray(items...)}
}

func (s *SetVal) Kind() Kind    { return Set }
func (s *SetVal) Identity() any { return s }
func (s *SetVal) Get(key string) Value {
	if key == "size" {
		return Num(float64(len(s.elems)))
	}
	return nil
}

// Fn is an in-memory function. Impl receives the receiver it was called on.
type Fn struct {
	Params int
	Impl   func(recv Value, args []any) (Value, error)
}

// Method wraps a zero-argument implementation.
func Method(impl func() any) *Fn {
	return &Fn{Impl: func(Value, []any) (Value, error) { return From(impl()), nil }}
}

func (f *Fn) Kind() Kind    { return Func }
func (f *Fn) Identity() any { return f }
func (f *Fn) Arity() int    { return f.Params }
func (f *Fn) Str() string   { return "" }
func (f *Fn) Truthy() bool  { return true }
func (f *Fn) Num() (float64, bool) {
	return 0, false
}
func (f *Fn) Keys(int) []string { return nil }
func (f *Fn) Get(string) Value  { return nil }
func (f *Fn) Items(int) []Value { return nil }
func (f *Fn) Call(string, ...any) (Value, error) {
	return nil, ErrNotCallable
}

func (f *Fn) invoke(recv Value, args []any) (out Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errors.New("graph: method panicked")
		}
	}()
	return f.Impl(recv, args)
}

// From converts plain Go values (including decoded JSON) into Values.
// Values pass through unchanged.
func From(v any) Value {
	switch t := v.(type) {
	case nil:
		return NullValue
	case Value:
		return t
	case string:
		return Str(t)
	case bool:
		return Boolean(t)
	case int:
		return Num(float64(t))
	case int64:
		return Num(float64(t))
	case uint64:
		return Num(float64(t))
	case float64:
		return Num(t)
	case []any:
		return NewArray(t...)
	case map[string]any:
		o := &Obj{vals: make(map[string]Value, len(t))}
		for _, k := range sortedKeys(t) {
			o.Set(k, From(t[k]))
		}
		return o
	case func() any:
		return Method(t)
	default:
		return UndefinedValue
	}
}

func head[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
