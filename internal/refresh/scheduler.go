package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

// Scheduler runs RefreshPopular on a cron schedule
type Scheduler struct {
	cron      *cron.Cron
	refresher *Refresher
	schedule  string
	timeout   time.Duration
	logger    types.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// cronLogger routes cron's own messages to the structured logger
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	l.logger.Error(msg, fields)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// NewScheduler creates a scheduler using six-field cron expressions
// (seconds first)
func NewScheduler(cfg *config.Config, refresher *Refresher) *Scheduler {
	logger := logging.GetGlobalLogger().WithField("component", "scheduler")
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{logger})),
		refresher: refresher,
		schedule:  cfg.Scheduler.PopularRefreshCron,
		timeout:   cfg.BackgroundTasks.TaskTimeout,
		logger:    logger,
	}
}

// Start registers the popular refresh job and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runPopular); err != nil {
		return fmt.Errorf("invalid popular refresh schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Popular ingredient refresh scheduled", map[string]interface{}{"cron": s.schedule})
	return nil
}

// Stop stops the cron loop and waits for a running job up to ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stopped with a job still running")
	}
}

// runPopular skips a tick while the previous run is still going
func (s *Scheduler) runPopular() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Popular refresh still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	_, err := s.refresher.RefreshPopular(ctx)
	if err != nil {
		s.logger.Error("Popular refresh failed", map[string]interface{}{"error": err.Error()})
	}

	s.mu.Lock()
	s.running = false
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()
}

// Status reports the last run for the status endpoint
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"cron":    s.schedule,
		"running": s.running,
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	if entries := s.cron.Entries(); len(entries) > 0 {
		status["next_run"] = entries[0].Next
	}
	return status
}
