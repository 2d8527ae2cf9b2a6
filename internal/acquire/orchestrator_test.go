package acquire

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"friendsbar/internal/graph"
)

type fakeStrategy struct {
	name        string
	raws        []graph.Value
	err         error
	panics      bool
	calls       int
	invalidated int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Produce(context.Context, Input) ([]graph.Value, string, error) {
	f.calls++
	if f.panics {
		panic("boom")
	}
	return f.raws, "note-" + f.name, f.err
}

func (f *fakeStrategy) Invalidate() { f.invalidated++ }

func TestOrchestratorShortCircuits(t *testing.T) {
	a := &fakeStrategy{name: "a", err: ErrNoKey}
	b := &fakeStrategy{name: "b", raws: []graph.Value{
		friendRaw("76561198000000002", "zed", 1),
		friendRaw("76561198000000001", "Amy", 1),
		friendRaw("76561198000000002", "zed", 1),
	}}
	c := &fakeStrategy{name: "c", raws: []graph.Value{friendRaw("76561198000000003", "c", 1)}}

	var hooked []Attempt
	o := NewOrchestrator(a, b, c).OnAttempt(func(at Attempt) { hooked = append(hooked, at) })
	out, err := o.Run(context.Background(), Input{})
	require.NoError(t, err)

	assert.Zero(t, c.calls)
	assert.Equal(t, "b(2)", out.Source)
	assert.Equal(t, "a:0 | b:2", out.Debug)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "Amy", out.Records[0].Name)

	require.Len(t, out.Attempts, 2)
	assert.Equal(t, OutcomeSkip, out.Attempts[0].Outcome)
	assert.Equal(t, ErrNoKey.Error(), out.Attempts[0].Note)
	assert.Equal(t, OutcomeHit, out.Attempts[1].Outcome)
	assert.Equal(t, out.Attempts, hooked)
}

func TestOrchestratorContinuesPastFailures(t *testing.T) {
	a := &fakeStrategy{name: "a", err: errors.New("HTTP 500")}
	b := &fakeStrategy{name: "b", panics: true}
	c := &fakeStrategy{name: "c", raws: []graph.Value{friendRaw("76561198000000003", "c", 0)}}
	d := &fakeStrategy{name: "d", raws: []graph.Value{friendRaw("76561198000000004", "d", 1)}}

	out, err := NewOrchestrator(a, b, c, d).Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "d(1)", out.Source)
	assert.Equal(t, OutcomeError, out.Attempts[0].Outcome)
	assert.Equal(t, "panic: boom", out.Attempts[1].Note)
	assert.Equal(t, OutcomeEmpty, out.Attempts[2].Outcome, "offline-only records merge to nothing")
}

func TestOrchestratorAllFailed(t *testing.T) {
	out, err := NewOrchestrator(
		&fakeStrategy{name: "a", err: ErrNoIdentity},
		&fakeStrategy{name: "b", err: errors.New("x")},
	).Run(context.Background(), Input{})
	assert.True(t, IsAllFailed(err))
	assert.Empty(t, out.Records)
	assert.Equal(t, "a:0 | b:0", out.Debug)
}

func TestOrchestratorEmptyIsNotFailure(t *testing.T) {
	out, err := NewOrchestrator(
		&fakeStrategy{name: "a", err: errors.New("x")},
		&fakeStrategy{name: "b"},
	).Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "none", out.Source)
}

func TestOrchestratorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeStrategy{name: "a"}
	_, err := NewOrchestrator(a).Run(ctx, Input{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.calls)
}

func TestOrchestratorInvalidate(t *testing.T) {
	a := &fakeStrategy{name: "a"}
	b := &fakeStrategy{name: "b"}
	NewOrchestrator(a, b).Invalidate()
	assert.Equal(t, 1, a.invalidated)
	assert.Equal(t, 1, b.invalidated)
}

func TestFlightCoalescesToOneFollowUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	var f Flight
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Do(func() {
			if runs.Add(1) == 1 {
				close(started)
				<-release
			}
		})
	}()

	<-started
	assert.True(t, f.Running())
	assert.False(t, f.Do(func() { t.Error("ran concurrently") }))
	assert.False(t, f.Do(func() { t.Error("ran concurrently") }))
	assert.True(t, f.Pending())
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), runs.Load())
	assert.False(t, f.Running())
	assert.False(t, f.Pending())
}

func TestFlightRecoversFromPanic(t *testing.T) {
	var f Flight
	assert.Panics(t, func() { f.Do(func() { panic("x") }) })
	assert.False(t, f.Running())

	ran := false
	assert.True(t, f.Do(func() { ran = true }))
	assert.True(t, ran)
}
