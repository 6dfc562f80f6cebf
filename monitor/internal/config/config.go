// Package config handles chatwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/chatwatch/page"
)

// Config is the top-level chatwatch configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Page     PageConfig     `yaml:"page"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Debounce DebounceConfig `yaml:"debounce"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	Store    StoreConfig    `yaml:"store"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// Remote is a DevTools websocket URL; empty means launch a local
	// Chrome.
	Remote  string `yaml:"remote"`
	Stealth bool   `yaml:"stealth"`
	// Headful shows the browser window; default is headless.
	Headful bool `yaml:"headful"`
}

// PageConfig defines the chat page to monitor.
type PageConfig struct {
	URL       string         `yaml:"url"`
	Selectors page.Selectors `yaml:"selectors"`
}

// MonitorConfig bounds the state machine's timers and budgets.
type MonitorConfig struct {
	// LocatorSweeps is how many times the container selector list is
	// swept per initialization attempt.
	LocatorSweeps int           `yaml:"locator_sweeps"`
	LocatorDelay  time.Duration `yaml:"locator_delay"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatDeadline time.Duration `yaml:"heartbeat_deadline"`
	FullScanInterval  time.Duration `yaml:"full_scan_interval"`

	// NavigateSettle is how long to wait after an SPA navigation before
	// re-locating the container.
	NavigateSettle time.Duration `yaml:"navigate_settle"`

	RecoveryAttempts int           `yaml:"recovery_attempts"`
	RecoveryDelay    time.Duration `yaml:"recovery_delay"`

	DedupCap       int           `yaml:"dedup_cap"`
	DedupStaleness time.Duration `yaml:"dedup_staleness"`
}

// DebounceConfig controls mutation batching on the Go side.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// SinkConfig defines a notification backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// StoreConfig locates the SQLite databases.
type StoreConfig struct {
	KeywordsPath      string `yaml:"keywords_path"`
	ObservabilityPath string `yaml:"observability_path"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied and no page
// URL set.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values. Selector defaults mirror the
// structural hints of common chat layouts; they are data, overridable
// per deployment.
func (c *Config) ApplyDefaults() {
	if len(c.Page.Selectors.Container) == 0 {
		c.Page.Selectors.Container = []string{
			".chat-content", ".bubbles", ".messages-container", ".history",
			`div[role="main"]`, ".message-list-wrapper", ".chat-container",
			".messages-layout", `div[class^="messages"]`, ".chat-history",
			".messages-list", ".dialog-messages", ".messages", "#message-list",
			"#chat-content",
		}
	}
	if len(c.Page.Selectors.Messages) == 0 {
		c.Page.Selectors.Messages = []string{
			".Message", ".message", ".text-content", ".message-content",
			".message-text", ".text-entity", ".message-text-content",
			`div[class*="message"]`, `div[class*="text"]`, ".bubble",
		}
	}
	if len(c.Page.Selectors.Senders) == 0 {
		c.Page.Selectors.Senders = []string{
			".sender-name", ".peer-title", ".name", ".from-name",
			".message-author", ".author",
		}
	}

	if c.Monitor.LocatorSweeps <= 0 {
		c.Monitor.LocatorSweeps = 3
	}
	if c.Monitor.LocatorDelay <= 0 {
		c.Monitor.LocatorDelay = time.Second
	}
	if c.Monitor.MaxRetries <= 0 {
		c.Monitor.MaxRetries = 5
	}
	if c.Monitor.RetryBackoff <= 0 {
		c.Monitor.RetryBackoff = 5 * time.Second
	}
	if c.Monitor.HeartbeatInterval <= 0 {
		c.Monitor.HeartbeatInterval = time.Minute
	}
	if c.Monitor.HeartbeatDeadline <= 0 {
		c.Monitor.HeartbeatDeadline = 2 * time.Minute
	}
	if c.Monitor.FullScanInterval <= 0 {
		c.Monitor.FullScanInterval = 5 * time.Minute
	}
	if c.Monitor.NavigateSettle <= 0 {
		c.Monitor.NavigateSettle = time.Second
	}
	if c.Monitor.RecoveryAttempts <= 0 {
		c.Monitor.RecoveryAttempts = 3
	}
	if c.Monitor.RecoveryDelay <= 0 {
		c.Monitor.RecoveryDelay = 5 * time.Second
	}
	if c.Monitor.DedupCap <= 0 {
		c.Monitor.DedupCap = 1000
	}
	if c.Monitor.DedupStaleness <= 0 {
		c.Monitor.DedupStaleness = 5 * time.Minute
	}

	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 250 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 200
	}

	if c.Store.KeywordsPath == "" {
		c.Store.KeywordsPath = "chatwatch.db"
	}
	if c.Store.ObservabilityPath == "" {
		c.Store.ObservabilityPath = "chatwatch_obs.db"
	}
}
