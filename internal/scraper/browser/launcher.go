package browser

import (
	"context"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

// Options configures browser launches
type Options struct {
	Headless      bool
	NoSandbox     bool
	ChromePath    string
	UserAgents    []string
	MaxConcurrent int
}

// OptionsFromConfig maps the scraper and browser config sections
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Headless:      cfg.Scraper.Headless,
		NoSandbox:     cfg.Browser.NoSandbox,
		ChromePath:    cfg.Browser.ChromePath,
		UserAgents:    cfg.Scraper.UserAgents,
		MaxConcurrent: cfg.Browser.MaxConcurrent,
	}
}

// Launcher starts one Chromium process per session and bounds how many
// run at the same time.
type Launcher struct {
	opts   Options
	slots  chan struct{}
	logger types.Logger
}

// NewLauncher creates a launcher; MaxConcurrent <= 0 means one at a time
func NewLauncher(opts Options) *Launcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Launcher{
		opts:   opts,
		slots:  make(chan struct{}, opts.MaxConcurrent),
		logger: logging.GetGlobalLogger().WithField("component", "browser"),
	}
}

// Open launches a browser with a fresh fingerprint and returns a session
// owning it. The caller must Close the session. Launch failures are the
// only errors the scraping path propagates.
func (l *Launcher) Open(ctx context.Context) (*Session, error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a browser slot: %w", ctx.Err())
	}
	release := func() { <-l.slots }

	userAgent := PickUserAgent(l.opts.UserAgents)

	lc := launcher.New().
		Headless(l.opts.Headless).
		NoSandbox(l.opts.NoSandbox).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("lang", Locale).
		Set("window-size", "1920,1080").
		Set("window-position", windowPosition()).
		Set("user-agent", userAgent)

	if chromePath := findChrome(l.opts.ChromePath); chromePath != "" {
		lc = lc.Bin(chromePath)
	}

	controlURL, err := lc.Context(ctx).Launch()
	if err != nil {
		lc.Cleanup()
		release()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Kill()
		lc.Cleanup()
		release()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := l.preparePage(b, userAgent)
	if err != nil {
		_ = b.Close()
		lc.Kill()
		lc.Cleanup()
		release()
		return nil, err
	}

	l.logger.Debug("Browser session opened", map[string]interface{}{
		"headless":   l.opts.Headless,
		"user_agent": userAgent,
	})

	return &Session{
		browser:  b,
		page:     page,
		launcher: lc,
		release:  release,
		logger:   l.logger,
	}, nil
}

// preparePage creates a stealth page and applies the French desktop
// fingerprint. Only page creation failure is fatal; overrides that fail
// are logged.
func (l *Launcher) preparePage(b *rod.Browser, userAgent string) (*rod.Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"viewport", func() error {
			return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
				Width: 1920, Height: 1080, DeviceScaleFactor: 1,
			})
		}},
		{"user_agent", func() error {
			return page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
				UserAgent:      userAgent,
				AcceptLanguage: AcceptLanguage,
			})
		}},
		{"timezone", func() error {
			return proto.EmulationSetTimezoneOverride{TimezoneID: Timezone}.Call(page)
		}},
		{"locale", func() error {
			return proto.EmulationSetLocaleOverride{Locale: Locale}.Call(page)
		}},
		{"init_script", func() error {
			_, err := page.EvalOnNewDocument("(" + initScript + ")();")
			return err
		}},
		{"network", func() error {
			return proto.NetworkEnable{}.Call(page)
		}},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			l.logger.Warn("Failed to apply page override", map[string]interface{}{
				"override": step.name,
				"error":    err.Error(),
			})
		}
	}
	return page, nil
}

// findChrome prefers the configured binary, then CHROME_BIN/CHROME_PATH,
// then common install locations. Empty means let rod download one.
func findChrome(configured string) string {
	candidates := []string{
		configured,
		os.Getenv("CHROME_BIN"),
		os.Getenv("CHROME_PATH"),
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/opt/google/chrome/chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
