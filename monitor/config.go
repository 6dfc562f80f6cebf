package monitor

import "github.com/hazyhaar/chatwatch/monitor/internal/config"

// Aliases re-exporting the configuration types so callers outside the
// package can load and construct engine configuration.
type (
	Config         = config.Config
	BrowserConfig  = config.BrowserConfig
	PageConfig     = config.PageConfig
	MonitorConfig  = config.MonitorConfig
	DebounceConfig = config.DebounceConfig
	SinkConfig     = config.SinkConfig
	StoreConfig    = config.StoreConfig
)

// LoadConfig reads a YAML config file and fills in defaults.
func LoadConfig(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config { return config.Default() }
