package acquire

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"friendsbar/internal/cache"
	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
	"friendsbar/internal/logging"
	"friendsbar/internal/presence"
)

// containerKeys mark a value as a friend store without further scoring.
var containerKeys = []string{
	"m_mapFriends", "m_mapFriendSteamIDToFriend", "m_mapFriendSteamIDToPersona",
	"m_mapFriendSteamIDToUser", "m_mapPlayers", "m_mapPlayerCache", "m_mapPersonaStates",
	"m_mapPresence", "m_mapOnlineFriends", "m_rgFriends", "friends", "rgFriends",
	"GetFriends", "GetFriendList", "GetOnlineFriends", "GetCachedFriends", "GetPersona", "GetFriend",
}

// listMethods are zero-argument methods known to return friend collections.
var listMethods = []string{
	"GetFriends", "GetFriendList", "GetFriendsList", "GetOnlineFriends", "GetCachedFriends",
	"GetFriendPersonaStates", "GetPersonaStates", "GetFriendSummaries", "GetPlayerSummaries",
	"GetPresence", "GetFriendPresence",
}

// resolverMethods look a single friend up by identity.
var resolverMethods = []string{"GetPersona", "GetFriend", "GetFriendBySteamID", "GetPlayer", "GetUser"}

var (
	signalKey   = regexp.MustCompile(`(?i)friend|persona|social|player|chat|presence|online|state|status`)
	getterName  = regexp.MustCompile(`(?i)^(get|use)`)
	friendish   = regexp.MustCompile(`(?i)friend|persona|social|player|chat|presence|online`)
	mutatorName = regexp.MustCompile(`(?i)register|add|remove|send|invite|open|show|set|toggle|start|stop|clear|post|display|connect|dialog`)
	collectKey  = regexp.MustCompile(`(?i)friend|persona|player|user|presence|online|list|map|rg|data`)
)

const (
	collectDepth    = 4
	collectNodes    = 2000
	maxResolveCalls = 200
)

// ObjectGraphStrategy walks host in-memory stores and module exports looking
// for friend containers, then harvests record-like objects out of them. The
// containers found are reused for containerTTL, but their contents are read
// fresh on every Produce.
type ObjectGraphStrategy struct {
	roots      RootSource
	budget     graph.Budget
	containers *cache.TTL[[]graph.Value]
}

// NewObjectGraphStrategy creates the host scan. containerTTL bounds how long
// discovered containers are reused before a rescan.
func NewObjectGraphStrategy(roots RootSource, budget graph.Budget, containerTTL time.Duration) *ObjectGraphStrategy {
	if budget.MaxNodes <= 0 {
		budget = graph.DefaultBudget
	}
	return &ObjectGraphStrategy{roots: roots, budget: budget, containers: cache.NewTTL[[]graph.Value](containerTTL)}
}

func (s *ObjectGraphStrategy) Name() string { return "host-object-graph" }

// Invalidate drops the container cache.
func (s *ObjectGraphStrategy) Invalidate() { s.containers.Reset() }

func (s *ObjectGraphStrategy) Produce(ctx context.Context, in Input) ([]graph.Value, string, error) {
	if s.roots == nil {
		return nil, "", ErrNoHost
	}
	containers, cached := s.containers.Get()
	var stats graph.Stats
	if !cached {
		roots, err := s.roots.Roots(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("roots: %w", err)
		}
		if len(roots) == 0 {
			return nil, "", ErrNoHost
		}
		containers, stats = FindContainers(roots, s.budget)
		s.containers.Set(containers)
		logging.AcquireDebug("object graph: %d containers, %d nodes visited, truncated=%t",
			len(containers), stats.Visited, stats.Truncated)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if cached {
		// Containers are live; their members must be read again.
		for _, c := range containers {
			graph.Refresh(c)
		}
	}

	raws := HarvestRecords(containers)
	return raws, fmt.Sprintf("containers:%d cached:%t visited:%d", len(containers), cached, stats.Visited), nil
}

// LooksLikeFriendContainer reports whether v carries a known friend-store
// member, or at least two friend-related keys among its first 120.
func LooksLikeFriendContainer(v graph.Value) bool {
	if !graph.Present(v) || !v.Kind().Container() {
		return false
	}
	for _, k := range containerKeys {
		if graph.Present(v.Get(k)) {
			return true
		}
	}
	signals := 0
	for _, k := range v.Keys(120) {
		if signalKey.MatchString(k) {
			signals++
			if signals >= 2 {
				return true
			}
		}
	}
	return false
}

// IsFriendGetter reports whether a member named name with the given arity
// may be called to obtain a friend container.
func IsFriendGetter(name string, arity int) bool {
	return arity == 0 && getterName.MatchString(name) && friendish.MatchString(name) && !mutatorName.MatchString(name)
}

// FindContainers walks roots within b and returns the friend containers found,
// including the results of safe zero-argument getters.
func FindContainers(roots []graph.Root, b graph.Budget) ([]graph.Value, graph.Stats) {
	var out []graph.Value
	seen := make(map[any]bool)
	add := func(v graph.Value) {
		if !LooksLikeFriendContainer(v) && !(graph.Present(v) && v.Kind() == graph.Array) {
			return
		}
		id := v.Identity()
		if id != nil && seen[id] {
			return
		}
		if id != nil {
			seen[id] = true
		}
		out = append(out, v)
	}

	stats := graph.Walk(roots, b, func(n graph.Node) bool {
		if LooksLikeFriendContainer(n.Value) {
			add(n.Value)
		}
		if n.Value.Kind() != graph.Object {
			return true
		}
		for _, k := range n.Value.Keys(b.MaxBreadth) {
			member := n.Value.Get(k)
			if member == nil || member.Kind() != graph.Func || !IsFriendGetter(k, member.Arity()) {
				continue
			}
			res, err := n.Value.Call(k)
			if err != nil {
				logging.AcquireDebug("getter %s.%s: %v", n.Path, k, err)
				continue
			}
			add(res)
		}
		return true
	})
	return out, stats
}

// HarvestRecords pulls raw records that normalize out of containers, in
// discovery order.
func HarvestRecords(containers []graph.Value) []graph.Value {
	var raws []graph.Value
	seen := make(map[any]bool)
	ids := make(map[identity.ID]bool)
	var idOrder []identity.ID

	keep := func(v graph.Value) {
		if id := v.Identity(); id != nil {
			if seen[id] {
				return
			}
			seen[id] = true
		}
		if _, ok := presence.Normalize(v); ok {
			raws = append(raws, v)
			return
		}
		// Offline or partial entries still tell us which identities exist.
		if idv := presence.IDField.Lookup(v); idv != nil {
			if id, ok := identity.Normalize(idv.Str()); ok && !ids[id] {
				ids[id] = true
				idOrder = append(idOrder, id)
			}
		}
	}

	for _, c := range containers {
		for _, v := range collect(c) {
			keep(v)
		}
		for _, m := range listMethods {
			fn := c.Get(m)
			if fn == nil || fn.Kind() != graph.Func || fn.Arity() > 1 {
				continue
			}
			res, err := c.Call(m)
			if err != nil || !graph.Present(res) {
				continue
			}
			for _, v := range collect(res) {
				keep(v)
			}
		}
	}

	resolved := make(map[identity.ID]bool)
	for _, r := range presence.NormalizeAll(raws) {
		resolved[r.ID] = true
	}
	calls := 0
	for _, c := range containers {
		for _, m := range resolverMethods {
			fn := c.Get(m)
			if fn == nil || fn.Kind() != graph.Func || fn.Arity() != 1 {
				continue
			}
			for _, id := range idOrder {
				if resolved[id] || calls >= maxResolveCalls {
					continue
				}
				calls++
				res, err := c.Call(m, id.String())
				if err != nil || !graph.Present(res) {
					continue
				}
				if r, ok := presence.Normalize(res); ok && r.ID == id {
					raws = append(raws, res)
					resolved[id] = true
				}
			}
		}
	}
	return raws
}

// collect returns every object reachable from v within a small budget.
func collect(v graph.Value) []graph.Value {
	var out []graph.Value
	graph.Walk([]graph.Root{{Name: "c", Value: v}},
		graph.Budget{MaxDepth: collectDepth, MaxBreadth: 120, MaxNodes: collectNodes},
		func(n graph.Node) bool {
			if k := n.Value.Kind(); k == graph.Object || (k == graph.Array && n.Depth > 0) {
				out = append(out, n.Value)
			}
			if n.Depth < 2 || n.Value.Kind() != graph.Object {
				return true
			}
			// Deep inside plain objects only follow collection-like members.
			for _, k := range n.Value.Keys(20) {
				if collectKey.MatchString(k) {
					return true
				}
			}
			return false
		})
	return out
}
