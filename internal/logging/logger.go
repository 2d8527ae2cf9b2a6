// Package logging provides categorized logging for friendsbar.
// Each subsystem logs through its own category; categories can be disabled in
// config, in which case Get returns a no-op logger. Output goes through a single
// zap core configured by Initialize.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, shutdown, config reload
	CategoryHost     Category = "host"     // CDP connection, target lookup, evaluation
	CategoryIdentity Category = "identity" // Current-user resolution
	CategoryAcquire  Category = "acquire"  // Strategies and orchestrator cycles
	CategoryAnchor   Category = "anchor"   // Mount discovery
	CategoryRender   Category = "render"   // Keyed reconciliation
	CategoryGate     Category = "gate"     // Store / game page detection
	CategorySettings Category = "settings" // Persisted settings
	CategoryStatus   Category = "status"   // Status HTTP surface
)

// Options mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Options struct {
	Level      string
	Format     string // "json" or "console"
	Disabled   []string
	OutputPath string
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	base     *zap.Logger
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	disabled = map[Category]bool{}
	loggers  = map[Category]*Logger{}
)

// Initialize builds the shared zap logger. Safe to call again on config reload.
func Initialize(opts Options) error {
	var zc zap.Config
	if opts.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	lvl, err := zapcore.ParseLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}
	level.SetLevel(lvl)
	zc.Level = level
	if opts.OutputPath != "" {
		zc.OutputPaths = []string{opts.OutputPath}
	}

	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build zap logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
	base = l
	disabled = make(map[Category]bool, len(opts.Disabled))
	for _, c := range opts.Disabled {
		disabled[Category(strings.TrimSpace(c))] = true
	}
	loggers = make(map[Category]*Logger)
	return nil
}

// UseLogger installs an already-built zap logger (tests, embedding).
func UseLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// SetLevel changes the level without rebuilding the core.
func SetLevel(s string) error {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return base != nil && !disabled[category]
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.With(zap.String("category", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// With returns a logger carrying extra structured fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes buffered entries (call at shutdown)
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})          { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{})     { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})      { Get(CategoryBoot).Warn(format, args...) }
func Host(format string, args ...interface{})          { Get(CategoryHost).Info(format, args...) }
func HostDebug(format string, args ...interface{})     { Get(CategoryHost).Debug(format, args...) }
func HostWarn(format string, args ...interface{})      { Get(CategoryHost).Warn(format, args...) }
func IdentityDebug(format string, args ...interface{}) { Get(CategoryIdentity).Debug(format, args...) }
func Acquire(format string, args ...interface{})       { Get(CategoryAcquire).Info(format, args...) }
func AcquireDebug(format string, args ...interface{})  { Get(CategoryAcquire).Debug(format, args...) }
func AcquireWarn(format string, args ...interface{})   { Get(CategoryAcquire).Warn(format, args...) }
func AnchorDebug(format string, args ...interface{})   { Get(CategoryAnchor).Debug(format, args...) }
func RenderDebug(format string, args ...interface{})   { Get(CategoryRender).Debug(format, args...) }
func RenderWarn(format string, args ...interface{})    { Get(CategoryRender).Warn(format, args...) }
func GateDebug(format string, args ...interface{})     { Get(CategoryGate).Debug(format, args...) }
func SettingsWarn(format string, args ...interface{})  { Get(CategorySettings).Warn(format, args...) }
func Status(format string, args ...interface{})        { Get(CategoryStatus).Info(format, args...) }
func StatusWarn(format string, args ...interface{})    { Get(CategoryStatus).Warn(format, args...) }

// =============================================================================
// CYCLE LOGGER - correlation id per acquisition cycle
// =============================================================================

// CycleLogger prefixes every entry with a cycle correlation id.
type CycleLogger struct {
	*Logger
	cycleID string
}

// WithCycle creates a cycle-scoped logger.
func WithCycle(category Category, cycleID string) *CycleLogger {
	return &CycleLogger{Logger: Get(category).With("cycle", cycleID), cycleID: cycleID}
}

// CycleID returns the correlation id.
func (c *CycleLogger) CycleID() string { return c.cycleID }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
