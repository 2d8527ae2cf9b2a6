package gate

import (
	"net/url"
	"regexp"
	"strings"

	"friendsbar/internal/graph"
)

// IsStoreRoute reports whether a location looks like the storefront. The raw
// value and up to two rounds of URL decoding are checked.
func IsStoreRoute(route string) bool {
	for _, v := range decodedVariants(strings.ToLower(route)) {
		if hasStoreSignal(v) {
			return true
		}
	}
	return false
}

func decodedVariants(route string) []string {
	out := []string{route}
	cur := route
	for range 2 {
		dec, err := url.PathUnescape(cur)
		if err != nil || dec == cur {
			break
		}
		out = append(out, dec)
		cur = dec
	}
	return out
}

func hasStoreSignal(v string) bool {
	return strings.Contains(v, "/store") ||
		strings.Contains(v, "#/store") ||
		strings.Contains(v, "tab=store") ||
		strings.Contains(v, "storehome") ||
		strings.Contains(v, "store.steampowered.com") ||
		strings.Contains(v, "store%2esteampowered%2ecom") ||
		(strings.Contains(v, "openurl") && strings.Contains(v, "store"))
}

var gamePagePatterns = []string{
	"/library/app/", "/library/details/", "/app/", "appid=", "gamedetails", "appdetails",
}

// IsGamePageRoute reports whether a location is a game-details page.
func IsGamePageRoute(route string) bool {
	route = strings.ToLower(route)
	for _, p := range gamePagePatterns {
		if strings.Contains(route, p) {
			return true
		}
	}
	return false
}

// LooksLikeStore reports whether a window-state string names the storefront.
func LooksLikeStore(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "store.steampowered.com") ||
		strings.Contains(t, "#/store") ||
		strings.Contains(t, "/store") ||
		strings.Contains(t, "tab=store") ||
		strings.Contains(t, "storehome") ||
		(strings.Contains(t, "openurl") && strings.Contains(t, "store"))
}

var (
	windowStateKey = regexp.MustCompile(`(?i)url|href|path|route|uri|src|title|name|location`)

	directWindowPaths = []string{
		"strTitle", "m_strTitle", "title", "name", "WindowType", "m_eWindowType",
		"route", "path", "url", "href", "location.href", "BrowserWindow.location.href",
		"BrowserWindow.document.URL", "BrowserWindow.document.location.href",
	}
)

// Window-state scan budget.
const (
	windowStateNodes = 250
	windowStateKeys  = 80
)

// WindowStateIsStore inspects focused-window candidates: first well-known
// members, then a bounded breadth-first scan of location-like string keys.
func WindowStateIsStore(candidates []graph.Value) bool {
	for _, c := range candidates {
		if !graph.Present(c) {
			continue
		}
		for _, p := range directWindowPaths {
			if v := graph.Path(c, p); v != nil && v.Kind() == graph.String && LooksLikeStore(v.Str()) {
				return true
			}
		}
		if !c.Kind().Container() {
			continue
		}

		found := false
		graph.Walk([]graph.Root{{Name: "window", Value: c}},
			graph.Budget{MaxDepth: 64, MaxBreadth: windowStateKeys, MaxNodes: windowStateNodes},
			func(n graph.Node) bool {
				if found {
					return false
				}
				for _, k := range n.Value.Keys(windowStateKeys) {
					if !windowStateKey.MatchString(k) {
						continue
					}
					if v := n.Value.Get(k); v != nil && v.Kind() == graph.String && LooksLikeStore(v.Str()) {
						found = true
						return false
					}
				}
				return true
			})
		if found {
			return true
		}
	}
	return false
}
