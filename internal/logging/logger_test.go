package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	UseLogger(zap.New(core))
	t.Cleanup(func() {
		mu.Lock()
		base = nil
		disabled = map[Category]bool{}
		loggers = map[Category]*Logger{}
		mu.Unlock()
	})
	return logs
}

func TestGetTagsCategory(t *testing.T) {
	logs := observe(t)

	Get(CategoryAcquire).Info("cycle %d done", 3)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "cycle 3 done", entry.Message)
	assert.Equal(t, "acquire", entry.ContextMap()["category"])
}

func TestDisabledCategoryIsNoop(t *testing.T) {
	logs := observe(t)
	mu.Lock()
	disabled[CategoryGate] = true
	mu.Unlock()

	GateDebug("hidden %s", "store")
	Acquire("visible")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
}

func TestUninitializedLoggerDoesNotPanic(t *testing.T) {
	mu.Lock()
	base = nil
	loggers = map[Category]*Logger{}
	mu.Unlock()

	assert.NotPanics(t, func() {
		Get(CategoryHost).Error("boom %v", 1)
		WithCycle(CategoryAcquire, "abc").Warn("x")
		StartTimer(CategoryRender, "op").Stop()
	})
}

func TestWithCycleCarriesID(t *testing.T) {
	logs := observe(t)

	l := WithCycle(CategoryAcquire, "cycle-1")
	l.Info("start")

	assert.Equal(t, "cycle-1", l.CycleID())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "cycle-1", logs.All()[0].ContextMap()["cycle"])
}

func TestStopWithThresholdWarnsWhenSlow(t *testing.T) {
	logs := observe(t)

	timer := StartTimer(CategoryHost, "snapshot")
	timer.start = time.Now().Add(-time.Second)
	timer.StopWithThreshold(10 * time.Millisecond)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(Options{Level: "loud"})
	assert.Error(t, err)
}
