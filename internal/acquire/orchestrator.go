package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"friendsbar/internal/cache"
	"friendsbar/internal/graph"
	"friendsbar/internal/logging"
	"friendsbar/internal/presence"
)

// Attempt outcomes.
const (
	OutcomeHit   = "hit"
	OutcomeEmpty = "empty"
	OutcomeSkip  = "skip"
	OutcomeError = "error"
)

// Attempt records one strategy invocation. Diagnostics only.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Count    int           `json:"count"`
	Outcome  string        `json:"outcome"`
	Note     string        `json:"note,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Outcome is the product of one acquisition cycle.
type Outcome struct {
	Records    []presence.Record
	Source     string // "<strategy>(<n>)", or "none"
	Debug      string // "<strategy>:<n>" per attempt, joined with " | "
	Attempts   []Attempt
	ProbeDebug string
}

// Orchestrator tries strategies in priority order and stops at the first one
// whose records merge to a non-empty list.
type Orchestrator struct {
	strategies []Strategy
	onAttempt  func(Attempt)
}

// NewOrchestrator creates an orchestrator over strategies, highest priority
// first.
func NewOrchestrator(strategies ...Strategy) *Orchestrator {
	return &Orchestrator{strategies: strategies}
}

// OnAttempt registers a hook called after every attempt.
func (o *Orchestrator) OnAttempt(fn func(Attempt)) *Orchestrator {
	o.onAttempt = fn
	return o
}

// Strategies returns the configured strategies in priority order.
func (o *Orchestrator) Strategies() []Strategy { return o.strategies }

// Invalidate resets every strategy-owned cache.
func (o *Orchestrator) Invalidate() {
	var g cache.Group
	for _, s := range o.strategies {
		if inv, ok := s.(cache.Invalidator); ok {
			g = append(g, inv)
		}
	}
	g.Invalidate()
}

// Run executes one cycle. A strategy error is recorded and the next strategy
// tried. Run returns ErrAllFailed when no applicable strategy completed, and
// ctx.Err() when the cycle was abandoned.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Outcome, error) {
	var out Outcome
	var debug []string
	completed := 0

	finish := func() {
		out.Debug = strings.Join(debug, " | ")
		for _, s := range o.strategies {
			if p, ok := s.(interface{ LastProbe() string }); ok {
				out.ProbeDebug = p.LastProbe()
			}
		}
	}

	for _, s := range o.strategies {
		if err := ctx.Err(); err != nil {
			finish()
			return out, err
		}

		start := time.Now()
		raws, note, err := produce(ctx, s, in)
		records := presence.NormalizeAll(raws)
		att := Attempt{Strategy: s.Name(), Count: len(records), Note: note, Duration: time.Since(start)}

		switch {
		case isSkip(err):
			att.Outcome, att.Note = OutcomeSkip, err.Error()
		case err != nil:
			att.Outcome, att.Note = OutcomeError, err.Error()
			logging.AcquireWarn("%s failed: %v", s.Name(), err)
		case len(records) == 0:
			att.Outcome = OutcomeEmpty
			completed++
		default:
			att.Outcome = OutcomeHit
			completed++
		}
		out.Attempts = append(out.Attempts, att)
		debug = append(debug, fmt.Sprintf("%s:%d", att.Strategy, att.Count))
		if o.onAttempt != nil {
			o.onAttempt(att)
		}

		if att.Outcome == OutcomeHit {
			presence.Sort(records)
			out.Records = records
			out.Source = fmt.Sprintf("%s(%d)", s.Name(), len(records))
			finish()
			return out, nil
		}
	}

	finish()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if completed == 0 {
		return out, ErrAllFailed
	}
	out.Source = "none"
	return out, nil
}

// produce calls s, converting a panic into an error.
func produce(ctx context.Context, s Strategy, in Input) (raws []graph.Value, note string, err error) {
	defer func() {
		if r := recover(); r != nil {
			raws, note, err = nil, "", fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Produce(ctx, in)
}

// Flight lets one cycle run at a time. A request that arrives while a cycle
// is running is folded into a single follow-up run.
type Flight struct {
	mu      sync.Mutex
	running bool
	pending bool
}

// Do runs fn, then once more if any request arrived meanwhile. It returns
// false without running fn when another caller is already running; that
// caller will perform the follow-up.
func (f *Flight) Do(fn func()) bool {
	f.mu.Lock()
	if f.running {
		f.pending = true
		f.mu.Unlock()
		return false
	}
	f.running = true
	f.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			f.mu.Lock()
			f.running, f.pending = false, false
			f.mu.Unlock()
			panic(r)
		}
	}()

	for {
		fn()
		f.mu.Lock()
		if !f.pending {
			f.running = false
			f.mu.Unlock()
			return true
		}
		f.pending = false
		f.mu.Unlock()
	}
}

// Running reports whether a cycle is in progress.
func (f *Flight) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Pending reports whether a follow-up has been requested.
func (f *Flight) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// IsAllFailed reports whether err is a cycle-level failure.
func IsAllFailed(err error) bool { return errors.Is(err, ErrAllFailed) }
