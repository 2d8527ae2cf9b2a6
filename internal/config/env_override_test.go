package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("debugger url", func(t *testing.T) {
		t.Setenv("FRIENDSBAR_DEBUGGER_URL", "http://127.0.0.1:9222")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "http://127.0.0.1:9222", cfg.Host.DebuggerURL)
	})

	t.Run("log level and status addr", func(t *testing.T) {
		t.Setenv("FRIENDSBAR_LOG_LEVEL", "debug")
		t.Setenv("FRIENDSBAR_STATUS_ADDR", "127.0.0.1:9999")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "127.0.0.1:9999", cfg.Status.Addr)
	})

	t.Run("empty values leave defaults", func(t *testing.T) {
		t.Setenv("FRIENDSBAR_SETTINGS_PATH", "")

		cfg := DefaultConfig()
		before := cfg.Settings.Path
		cfg.applyEnvOverrides()

		assert.Equal(t, before, cfg.Settings.Path)
	})

	t.Run("web api key seed", func(t *testing.T) {
		t.Setenv("FRIENDSBAR_WEB_API_KEY", "ABC")
		assert.Equal(t, "ABC", SeedWebAPIKey())
	})
}
