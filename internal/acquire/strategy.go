// Package acquire implements the friend-presence acquisition cascade: the
// individual strategies, the orchestrator that tries them in priority order,
// and the single-flight guard around cycles.
package acquire

import (
	"context"
	"errors"

	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
)

// Skip reasons. A strategy returning one of these was not applicable this
// cycle; it is recorded but does not count as a failure.
var (
	ErrNoKey      = errors.New("no web api key")
	ErrNoIdentity = errors.New("identity unresolved")
	ErrNoToken    = errors.New("no session token")
	ErrNoHost     = errors.New("host unavailable")
)

// ErrAllFailed means every applicable strategy failed before producing a list.
var ErrAllFailed = errors.New("all acquisition strategies failed")

func isSkip(err error) bool {
	return errors.Is(err, ErrNoKey) || errors.Is(err, ErrNoIdentity) ||
		errors.Is(err, ErrNoToken) || errors.Is(err, ErrNoHost)
}

// Input is the per-cycle ambient state handed to every strategy.
type Input struct {
	Identity identity.ID
	Token    string
	APIKey   string
}

// Strategy produces raw presence records. Produce must honour ctx.
type Strategy interface {
	Name() string
	Produce(ctx context.Context, in Input) (records []graph.Value, note string, err error)
}

// JSONFetcher fetches and decodes a JSON document.
type JSONFetcher interface {
	JSON(ctx context.Context, rawURL string) (graph.Value, error)
}

// TextFetcher fetches a document body.
type TextFetcher interface {
	Text(ctx context.Context, rawURL string) (string, error)
}

// Executor evaluates source text inside a named host execution context.
// The source is a function expression; its (awaited) result is returned.
type Executor interface {
	Execute(ctx context.Context, contextName, source string) (graph.Value, error)
}

// RootSource yields the host object-graph entry points for a scan.
type RootSource interface {
	Roots(ctx context.Context) ([]graph.Root, error)
}
