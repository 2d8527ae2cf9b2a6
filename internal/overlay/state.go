package overlay

import (
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"friendsbar/internal/acquire"
)

// State is the live snapshot exposed to the settings surface.
type State struct {
	Mounted          bool              `json:"mounted"`
	MountMode        string            `json:"mountMode"`
	OnlineCount      int               `json:"onlineCount"`
	DisplayedCount   int               `json:"displayedCount"`
	Source           string            `json:"source"`
	LastUpdated      time.Time         `json:"lastUpdated"`
	Identity         string            `json:"identity,omitempty"`
	HasSessionToken  bool              `json:"hasSessionToken"`
	HasWebAPIKey     bool              `json:"hasWebApiKey"`
	SourceDebug      string            `json:"sourceDebug"`
	ProbeDebug       string            `json:"probeDebug"`
	RouteDebug       string            `json:"routeDebug"`
	StoreDebug       string            `json:"storeDebug"`
	HiddenBySettings bool              `json:"hiddenBySettings"`
	Error            string            `json:"error,omitempty"`
	CycleID          string            `json:"cycleId,omitempty"`
	Attempts         []acquire.Attempt `json:"attempts,omitempty"`
}

func initialState() State {
	return State{MountMode: "none", Source: "none"}
}

// stateHub holds the current State and fans changes out to subscribers.
// Deliveries are serialized in update order, so the last state a subscriber
// sees is always the current one. Subscribers must not call update.
type stateHub struct {
	notifyMu sync.Mutex

	mu   sync.Mutex
	cur  State
	subs map[int]func(State)
	next int
}

func newStateHub() *stateHub {
	return &stateHub{cur: initialState(), subs: make(map[int]func(State))}
}

func (h *stateHub) get() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// update applies fn and notifies subscribers when the state changed.
// Subscribers run outside mu so they may read the state.
func (h *stateHub) update(fn func(*State)) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	prev := h.cur
	fn(&h.cur)
	next := h.cur
	if equalState(prev, next) {
		h.mu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s(next)
	}
}

func (h *stateHub) subscribe(fn func(State)) func() {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	cur := h.cur
	h.mu.Unlock()

	fn(cur)
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

var stateOpts = cmpopts.EquateEmpty()

func equalState(a, b State) bool {
	return cmp.Equal(a, b, stateOpts)
}
