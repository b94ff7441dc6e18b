package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/scraper/browser"
	"panierfacile-pricing/internal/scraper/captcha"
	"panierfacile-pricing/internal/scraper/retailers"
)

// ErrRetailerDisabled is returned for retailers switched off in config
var ErrRetailerDisabled = errors.New("retailer disabled")

// UnknownRetailerError is returned for identifiers with no strategy
type UnknownRetailerError struct {
	Name      string
	Available []string
}

func (e *UnknownRetailerError) Error() string {
	return fmt.Sprintf("unknown retailer %q, available: %s", e.Name, strings.Join(e.Available, ", "))
}

// IsUnknownRetailer reports whether err is an *UnknownRetailerError
func IsUnknownRetailer(err error) bool {
	var target *UnknownRetailerError
	return errors.As(err, &target)
}

// Option customizes one scraper built by Factory.Get
type Option func(*scraperOptions)

type scraperOptions struct {
	timeout  time.Duration
	headless *bool
	debugDir string
}

// WithTimeout sets the navigation timeout; a search may take twice as long
func WithTimeout(d time.Duration) Option {
	return func(o *scraperOptions) { o.timeout = d }
}

// WithHeadless overrides scraper.headless
func WithHeadless(headless bool) Option {
	return func(o *scraperOptions) { o.headless = &headless }
}

// WithDebugDir writes debug artifacts to dir on the local filesystem
func WithDebugDir(dir string) Option {
	return func(o *scraperOptions) { o.debugDir = dir }
}

// FactoryOption injects collaborators into a Factory
type FactoryOption func(*Factory)

// WithOpener replaces the Chromium launcher
func WithOpener(opener Opener) FactoryOption {
	return func(f *Factory) { f.opener = opener }
}

// WithGate throttles every scraper through gate
func WithGate(gate Gate) FactoryOption {
	return func(f *Factory) { f.gate = gate }
}

// WithSolver enables captcha solving on blocked pages
func WithSolver(solver captcha.Solver) FactoryOption {
	return func(f *Factory) { f.solver = solver }
}

// WithArtifactSink replaces the configured artifact sink
func WithArtifactSink(sink ArtifactSink) FactoryOption {
	return func(f *Factory) { f.sink = sink }
}

// WithBlockRegistry records blocked searches in registry
func WithBlockRegistry(registry *BlockRegistry) FactoryOption {
	return func(f *Factory) { f.blocked = registry }
}

// WithStrategies replaces the retailer registry
func WithStrategies(constructors map[string]retailers.Constructor) FactoryOption {
	return func(f *Factory) { f.constructors = constructors }
}

// Factory builds retailer scrapers by identifier
type Factory struct {
	config       *config.Config
	constructors map[string]retailers.Constructor
	opener       Opener
	gate         Gate
	solver       captcha.Solver
	sink         ArtifactSink
	blocked      *BlockRegistry
	logger       types.Logger

	launchersMu sync.Mutex
	launchers   map[bool]*browser.Launcher
}

// NewFactory creates a factory over every registered retailer. Without
// WithOpener, scrapers launch Chromium as configured.
func NewFactory(cfg *config.Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		config:       cfg,
		constructors: retailers.All(),
		logger:       logging.GetGlobalLogger().WithField("component", "scraper_factory"),
		launchers:    make(map[bool]*browser.Launcher),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.sink == nil {
		sink, err := NewArtifactSink(cfg)
		if err != nil {
			f.logger.Warn("Falling back to local debug artifacts", map[string]interface{}{"error": err.Error()})
			sink = NewFileSink(cfg.Scraper.DebugDir)
		}
		f.sink = sink
	}
	if f.solver == nil && cfg.Captcha.EnableAutoSolve && cfg.Captcha.APIKey != "" {
		f.solver = captcha.NewTwoCaptchaSolver(cfg)
	}
	return f
}

// Get returns a scraper for name, matched case-insensitively
func (f *Factory) Get(name string, opts ...Option) (*RetailerScraper, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	ctor, ok := f.constructors[key]
	if !ok {
		return nil, &UnknownRetailerError{Name: name, Available: f.Available()}
	}
	if !f.config.RetailerEnabled(key) {
		return nil, fmt.Errorf("%s: %w", key, ErrRetailerDisabled)
	}

	o := scraperOptions{timeout: f.config.Scraper.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = 30 * time.Second
	}

	sink := f.sink
	if o.debugDir != "" {
		sink = NewFileSink(o.debugDir)
	}

	opener := f.opener
	if opener == nil {
		headless := f.config.Scraper.Headless
		if o.headless != nil {
			headless = *o.headless
		}
		opener = LauncherOpener{Launcher: f.launcher(headless)}
	}

	strategy := ctor()
	return &RetailerScraper{
		strategy: strategy,
		opener:   opener,
		gate:     f.gate,
		solver:   f.solver,
		sink:     sink,
		blocked:  f.blocked,
		timeout:  o.timeout,
		logger:   logging.GetGlobalLogger().WithField("retailer", strategy.Name()),
		now:      time.Now,
	}, nil
}

// launcher returns the shared launcher for a headless mode
func (f *Factory) launcher(headless bool) *browser.Launcher {
	f.launchersMu.Lock()
	defer f.launchersMu.Unlock()

	if l, ok := f.launchers[headless]; ok {
		return l
	}
	opts := browser.OptionsFromConfig(f.config)
	opts.Headless = headless
	l := browser.NewLauncher(opts)
	f.launchers[headless] = l
	return l
}

// Search runs one search on retailer with the default options and
// closes the browser afterwards
func (f *Factory) Search(ctx context.Context, retailer, query string) (SearchResult, error) {
	s, err := f.Get(retailer)
	if err != nil {
		return SearchResult{}, err
	}
	defer s.Close()
	return s.Search(ctx, query)
}

// Session returns a scraper for retailer whose browser stays open
// across searches. Batch callers take one per retailer and Close it
// when the batch ends; an open session holds one browser slot.
func (f *Factory) Session(retailer string) (Session, error) {
	s, err := f.Get(retailer)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Available returns the registered identifiers, sorted
func (f *Factory) Available() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled returns the registered identifiers not disabled in config
func (f *Factory) Enabled() []string {
	var names []string
	for _, name := range f.Available() {
		if f.config.RetailerEnabled(name) {
			names = append(names, name)
		}
	}
	return names
}

// Blocked returns the blocked-retailer registry, if any
func (f *Factory) Blocked() *BlockRegistry {
	return f.blocked
}
