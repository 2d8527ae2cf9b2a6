package acquire

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"friendsbar/internal/graph"
	"friendsbar/internal/logging"
)

//go:embed probe.js
var probeSource string

// DefaultProbeContexts are the candidate execution contexts, in order.
var DefaultProbeContexts = []string{"SP", "sp", "SharedJSContext", "Steam", "SteamUI", "MainMenu", "GamepadUI", "Library"}

var (
	rowKeys    = []string{"friends", "players", "result", "data", "items", "rows", "entries", "list", "personas", "values"}
	nestedKeys = []string{"response", "payload", "body", "output"}
	spaces     = regexp.MustCompile(`\s+`)
)

// ProbeResult is one context's outcome.
type ProbeResult struct {
	Context string
	Rows    []graph.Value
	Note    string
}

// CrossContextStrategy runs the scan probe inside each candidate context
// concurrently and keeps the context that returned the most rows.
type CrossContextStrategy struct {
	exec     Executor
	contexts []string
	timeout  time.Duration
	source   string

	mu   sync.Mutex
	last string
}

// NewCrossContextStrategy creates the probe strategy. Each context is given
// timeout to answer; a timeout counts as an empty result.
func NewCrossContextStrategy(exec Executor, contexts []string, timeout time.Duration) *CrossContextStrategy {
	if len(contexts) == 0 {
		contexts = DefaultProbeContexts
	}
	if timeout <= 0 {
		timeout = 7 * time.Second
	}
	return &CrossContextStrategy{exec: exec, contexts: contexts, timeout: timeout, source: probeSource}
}

func (s *CrossContextStrategy) Name() string { return "cross-context-probe" }

// LastProbe returns the per-context notes of the most recent run.
func (s *CrossContextStrategy) LastProbe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *CrossContextStrategy) Produce(ctx context.Context, _ Input) ([]graph.Value, string, error) {
	if s.exec == nil {
		return nil, "", ErrNoHost
	}
	results := s.ProbeAll(ctx)

	notes := make([]string, len(results))
	for i, r := range results {
		notes[i] = fmt.Sprintf("%s:%d:%s", r.Context, len(r.Rows), r.Note)
	}
	joined := strings.Join(notes, " | ")
	s.mu.Lock()
	s.last = joined
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, joined, err
	}

	best := make([]ProbeResult, len(results))
	copy(best, results)
	sort.SliceStable(best, func(i, j int) bool { return len(best[i].Rows) > len(best[j].Rows) })
	if len(best) == 0 || len(best[0].Rows) == 0 {
		return nil, joined, nil
	}
	return best[0].Rows, best[0].Context + " " + joined, nil
}

// ProbeAll runs the probe in every context concurrently. Results keep the
// candidate order.
func (s *CrossContextStrategy) ProbeAll(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(s.contexts))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range s.contexts {
		g.Go(func() error {
			results[i] = s.probe(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *CrossContextStrategy) probe(ctx context.Context, name string) ProbeResult {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := ProbeResult{Context: name}
	v, err := s.exec.Execute(pctx, name, s.source)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded):
		res.Note = "timeout/null"
		return res
	case err != nil:
		msg := err.Error()
		if len(msg) > 36 {
			msg = msg[:36]
		}
		res.Note = "error:" + msg
		logging.AcquireDebug("probe %s: %v", name, err)
		return res
	case !graph.Present(v):
		res.Note = "timeout/null"
		return res
	}

	res.Rows = ExtractRows(v)
	res.Note = "ok"
	if d := graph.Path(v, "debug"); d != nil && d.Kind() == graph.String {
		dbg := spaces.ReplaceAllString(d.Str(), " ")
		if len(dbg) > 96 {
			dbg = dbg[:96]
		}
		res.Note = "ok:" + dbg
	}
	return res
}

// ExtractRows finds the record array in a probe result: the value itself
// when it is an array, a JSON string holding one, a well-known member, or
// the same nested under a response envelope.
func ExtractRows(v graph.Value) []graph.Value {
	if !graph.Present(v) {
		return nil
	}
	switch v.Kind() {
	case graph.Array:
		return v.Items(0)
	case graph.String:
		parsed, err := graph.ParseJSON([]byte(v.Str()))
		if err != nil {
			return nil
		}
		return ExtractRows(parsed)
	case graph.Object, graph.Map:
	default:
		return nil
	}
	for _, k := range rowKeys {
		if child := v.Get(k); child != nil && child.Kind() == graph.Array {
			return child.Items(0)
		}
	}
	for _, k := range nestedKeys {
		if rows := ExtractRows(v.Get(k)); len(rows) > 0 {
			return rows
		}
	}
	return nil
}
