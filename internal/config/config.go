package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all friendsbar configuration.
type Config struct {
	Host     HostConfig     `yaml:"host"`
	Timers   TimersConfig   `yaml:"timers"`
	Acquire  AcquireConfig  `yaml:"acquire"`
	Render   RenderConfig   `yaml:"render"`
	Settings SettingsConfig `yaml:"settings"`
	Status   StatusConfig   `yaml:"status"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HostConfig describes how to reach the host client's debugger.
type HostConfig struct {
	DebuggerURL    string   `yaml:"debugger_url"`
	SurfaceTitles  []string `yaml:"surface_titles"` // windows the widget may mount into, in preference order
	SharedContext  string   `yaml:"shared_context"` // context that owns host globals
	ProbeContexts  []string `yaml:"probe_contexts"` // cross-context probe candidates, in order
	ConnectTimeout string   `yaml:"connect_timeout"`
}

// TimersConfig configures the two repeating timers.
type TimersConfig struct {
	Refresh string `yaml:"refresh"`
	Mount   string `yaml:"mount"`
}

// AcquireConfig tunes the acquisition cascade.
type AcquireConfig struct {
	NetworkTimeout     string `yaml:"network_timeout"`
	ProbeTimeout       string `yaml:"probe_timeout"`
	StoreProbeTimeout  string `yaml:"store_probe_timeout"`
	ContainerCacheTTL  string `yaml:"container_cache_ttl"`
	StoreCacheTTL      string `yaml:"store_cache_ttl"`
	GeometryCacheTTL   string `yaml:"geometry_cache_ttl"`
	ScanMaxDepth       int    `yaml:"scan_max_depth"`
	ScanMaxBreadth     int    `yaml:"scan_max_breadth"`
	ScanMaxNodes       int    `yaml:"scan_max_nodes"`
	CommunityPageLimit int    `yaml:"community_page_limit"`
	UserAgent          string `yaml:"user_agent"`
}

// RenderConfig configures the indicator row.
type RenderConfig struct {
	MaxVisible    int    `yaml:"max_visible"`
	GhostDuration string `yaml:"ghost_duration"`
}

// SettingsConfig locates the persisted settings store.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig configures the local status surface.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultPath returns ~/.config/friendsbar/config.yaml, or FRIENDSBAR_CONFIG when set.
func DefaultPath() string {
	if p := os.Getenv("FRIENDSBAR_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "friendsbar.yaml"
	}
	return filepath.Join(dir, "friendsbar", "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	settingsPath := "friendsbar.db"
	if dir, err := os.UserConfigDir(); err == nil {
		settingsPath = filepath.Join(dir, "friendsbar", "settings.db")
	}

	return &Config{
		Host: HostConfig{
			DebuggerURL:    "http://localhost:8080",
			SurfaceTitles:  []string{"Steam Big Picture Mode", "Steam", "SP"},
			SharedContext:  "SharedJSContext",
			ProbeContexts:  []string{"SP", "sp", "SharedJSContext", "Steam", "SteamUI", "MainMenu", "GamepadUI", "Library"},
			ConnectTimeout: "10s",
		},
		Timers: TimersConfig{
			Refresh: "60s",
			Mount:   "2s",
		},
		Acquire: AcquireConfig{
			NetworkTimeout:     "15s",
			ProbeTimeout:       "7s",
			StoreProbeTimeout:  "1s",
			ContainerCacheTTL:  "5m",
			StoreCacheTTL:      "5s",
			GeometryCacheTTL:   "2m",
			ScanMaxDepth:       5,
			ScanMaxBreadth:     120,
			ScanMaxNodes:       10000,
			CommunityPageLimit: 8,
			UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) Valve Steam Client",
		},
		Render: RenderConfig{
			MaxVisible:    10,
			GhostDuration: "240ms",
		},
		Settings: SettingsConfig{
			Path: settingsPath,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8787",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("FRIENDSBAR_DEBUGGER_URL"); url != "" {
		c.Host.DebuggerURL = url
	}
	if lvl := os.Getenv("FRIENDSBAR_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if addr := os.Getenv("FRIENDSBAR_STATUS_ADDR"); addr != "" {
		c.Status.Addr = addr
	}
	if path := os.Getenv("FRIENDSBAR_SETTINGS_PATH"); path != "" {
		c.Settings.Path = path
	}
}

// SeedWebAPIKey returns the key from FRIENDSBAR_WEB_API_KEY, if any.
// It only seeds the settings store; a key already stored wins.
func SeedWebAPIKey() string {
	return os.Getenv("FRIENDSBAR_WEB_API_KEY")
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetConnectTimeout returns the debugger connect timeout.
func (c *Config) GetConnectTimeout() time.Duration {
	return parseDuration(c.Host.ConnectTimeout, 10*time.Second)
}

// GetRefreshInterval returns the acquisition cycle cadence.
func (c *Config) GetRefreshInterval() time.Duration {
	return parseDuration(c.Timers.Refresh, 60*time.Second)
}

// GetMountInterval returns the mount / visibility re-evaluation cadence.
func (c *Config) GetMountInterval() time.Duration {
	return parseDuration(c.Timers.Mount, 2*time.Second)
}

// GetNetworkTimeout bounds each network strategy.
func (c *Config) GetNetworkTimeout() time.Duration {
	return parseDuration(c.Acquire.NetworkTimeout, 15*time.Second)
}

// GetProbeTimeout bounds each cross-context probe.
func (c *Config) GetProbeTimeout() time.Duration {
	return parseDuration(c.Acquire.ProbeTimeout, 7*time.Second)
}

// GetStoreProbeTimeout bounds each cross-context store probe.
func (c *Config) GetStoreProbeTimeout() time.Duration {
	return parseDuration(c.Acquire.StoreProbeTimeout, time.Second)
}

// GetContainerCacheTTL returns how long discovered friend containers stay valid.
func (c *Config) GetContainerCacheTTL() time.Duration {
	return parseDuration(c.Acquire.ContainerCacheTTL, 5*time.Minute)
}

// GetStoreCacheTTL returns how long store-context detection stays valid.
func (c *Config) GetStoreCacheTTL() time.Duration {
	return parseDuration(c.Acquire.StoreCacheTTL, 5*time.Second)
}

// GetGeometryCacheTTL returns how long the measured icon size stays valid.
func (c *Config) GetGeometryCacheTTL() time.Duration {
	return parseDuration(c.Acquire.GeometryCacheTTL, 2*time.Minute)
}

// GetGhostDuration returns how long a leaving node lingers.
func (c *Config) GetGhostDuration() time.Duration {
	return parseDuration(c.Render.GhostDuration, 240*time.Millisecond)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Host.DebuggerURL == "" {
		return fmt.Errorf("host.debugger_url is required")
	}
	if len(c.Host.SurfaceTitles) == 0 {
		return fmt.Errorf("host.surface_titles must name at least one window")
	}
	for name, raw := range map[string]string{
		"timers.refresh":        c.Timers.Refresh,
		"timers.mount":          c.Timers.Mount,
		"acquire.probe_timeout": c.Acquire.ProbeTimeout,
		"render.ghost_duration": c.Render.GhostDuration,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, raw)
		}
	}
	if c.Acquire.ScanMaxDepth <= 0 || c.Acquire.ScanMaxBreadth <= 0 || c.Acquire.ScanMaxNodes <= 0 {
		return fmt.Errorf("acquire scan budgets must be positive")
	}
	if c.Render.MaxVisible <= 0 {
		return fmt.Errorf("render.max_visible must be positive, got %d", c.Render.MaxVisible)
	}
	return nil
}
