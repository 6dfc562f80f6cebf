// Package browser manages the Chrome instance and exposes the monitored
// chat page as a page.Surface: an injected MutationObserver reports added
// message nodes over a CDP binding, and out-of-band page signals
// (navigation, visibility, connectivity) flow through the same channel.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools websocket URL of an external Chrome
	// instance. Empty means launch a local Chrome via launcher.
	RemoteURL string

	// Stealth applies anti-detection patches to new pages.
	Stealth bool

	// Headful shows the browser window. Default is headless.
	Headful bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome connection for the lifetime of the daemon.
type Manager struct {
	cfg    Config
	mu     sync.Mutex
	brow   *rod.Browser
	lnch   *launcher.Launcher
	closed bool
}

// NewManager creates a browser Manager. Call Start to launch or connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches a local Chrome, or connects to the configured remote
// instance, and returns the rod handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.brow != nil {
		return m.brow, nil
	}

	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(!m.cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Info("browser: launched local chrome", "headful", m.cfg.Headful)
	} else {
		m.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		m.cfg.Logger.Warn("browser: ignore cert errors failed", "error", err)
	}

	m.brow = b
	return b, nil
}

// NewPage opens a tab, applying stealth patches when configured.
func (m *Manager) NewPage() (*rod.Page, error) {
	m.mu.Lock()
	b := m.brow
	stealthy := m.cfg.Stealth
	m.mu.Unlock()

	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}
	if stealthy {
		p, err := stealth.Page(b)
		if err != nil {
			return nil, fmt.Errorf("browser: stealth page: %w", err)
		}
		return p, nil
	}
	p, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return p, nil
}

// Close shuts down Chrome. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.brow != nil {
		m.brow.Close()
		m.brow = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}
