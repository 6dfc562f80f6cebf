package monitor

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/chatwatch/monitor/internal/browser"
	"github.com/hazyhaar/chatwatch/page"
)

// OpenSurface launches (or connects to) Chrome per the config and attaches
// to the configured chat page, returning the page surface and a closer
// that tears down both the tab and the browser.
func OpenSurface(ctx context.Context, cfg *Config, logger *slog.Logger) (page.Surface, func() error, error) {
	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Stealth:   cfg.Browser.Stealth,
		Headful:   cfg.Browser.Headful,
		Logger:    logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, nil, err
	}

	surf, err := browser.NewSurface(ctx, mgr, cfg.Page.URL, browser.SurfaceOptions{
		DebounceWindow: cfg.Debounce.Window,
		DebounceMax:    cfg.Debounce.MaxBuffer,
		Logger:         logger,
	})
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}

	closer := func() error {
		surf.Close()
		return mgr.Close()
	}
	return surf, closer, nil
}
