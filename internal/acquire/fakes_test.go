package acquire

import (
	"context"
	"errors"
	"strings"
	"sync"

	"friendsbar/internal/graph"
)

// fakeFetch answers JSON by longest URL prefix and text by exact URL.
// Unmatched URLs fail with HTTP 404.
type fakeFetch struct {
	mu     sync.Mutex
	json   map[string]string
	text   map[string]string
	called []string
}

func newFakeFetch() *fakeFetch {
	return &fakeFetch{json: map[string]string{}, text: map[string]string{}}
}

func (f *fakeFetch) match(m map[string]string, u string, exact bool) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, u)
	if exact {
		body, ok := m[u]
		return body, ok
	}
	best := ""
	for prefix := range m {
		if strings.HasPrefix(u, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", false
	}
	return m[best], true
}

func (f *fakeFetch) JSON(_ context.Context, u string) (graph.Value, error) {
	body, ok := f.match(f.json, u, false)
	if !ok {
		return nil, errors.New("HTTP 404")
	}
	return graph.ParseJSON([]byte(body))
}

func (f *fakeFetch) Text(_ context.Context, u string) (string, error) {
	body, ok := f.match(f.text, u, true)
	if !ok {
		return "", errors.New("HTTP 404")
	}
	return body, nil
}

func (f *fakeFetch) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

func (f *fakeFetch) countContaining(sub string) int {
	n := 0
	for _, c := range f.calls() {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}

func friendRaw(id, name string, state int) graph.Value {
	return graph.NewObject("steamid", id, "personaname", name, "personastate", state)
}
