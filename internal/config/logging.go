package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level    string   `yaml:"level"`              // debug, info, warn, error
	Format   string   `yaml:"format"`             // json, console
	File     string   `yaml:"file,omitempty"`     // defaults to stderr
	Disabled []string `yaml:"disabled,omitempty"` // categories to silence
}
