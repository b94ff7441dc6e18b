package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

// ErrCircuitOpen is returned while a retailer's circuit breaker rejects
// searches
var ErrCircuitOpen = errors.New("circuit breaker open")

// RetailerLimiter tracks the search budget of one retailer
type RetailerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	requests int64
	failures int64
	mu       sync.RWMutex
}

// CircuitBreaker stops searching a retailer after repeated blocks
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	failureCount int
	lastFailTime time.Time
	state        CircuitState
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// RateLimiter manages rate limiting and circuit breaking per retailer
type RateLimiter struct {
	config          *config.Config
	limiters        map[string]*RetailerLimiter
	circuitBreakers map[string]*CircuitBreaker
	mu              sync.Mutex
	logger          types.Logger
	now             func() time.Time
	cleanupTicker   *time.Ticker
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(cfg *config.Config) *RateLimiter {
	rl := &RateLimiter{
		config:          cfg,
		limiters:        make(map[string]*RetailerLimiter),
		circuitBreakers: make(map[string]*CircuitBreaker),
		logger:          logging.GetGlobalLogger().WithField("component", "rate_limiter"),
		now:             time.Now,
		cleanupTicker:   time.NewTicker(5 * time.Minute),
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanupRoutine()

	return rl
}

// Allow reports whether a search against retailer may start now
func (rl *RateLimiter) Allow(retailer string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	retailer = strings.ToLower(retailer)

	if !rl.isCircuitClosed(retailer) {
		rl.logger.Debug("Search rejected by circuit breaker", map[string]interface{}{"retailer": retailer})
		return false
	}

	limiter := rl.getRetailerLimiter(retailer)
	if !limiter.limiter.Allow() {
		rl.logger.Debug("Search rejected by rate limiter", map[string]interface{}{"retailer": retailer})
		return false
	}
	limiter.touch(rl.now())
	return true
}

// Wait blocks until the retailer's budget allows one more search. It
// fails immediately with ErrCircuitOpen while the circuit is open.
func (rl *RateLimiter) Wait(ctx context.Context, retailer string) error {
	retailer = strings.ToLower(retailer)

	rl.mu.Lock()
	if !rl.isCircuitClosed(retailer) {
		rl.mu.Unlock()
		return fmt.Errorf("%s: %w", retailer, ErrCircuitOpen)
	}
	limiter := rl.getRetailerLimiter(retailer)
	rl.mu.Unlock()

	if err := limiter.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s rate limit: %w", retailer, err)
	}
	limiter.touch(rl.now())

	rl.logger.Debug("Search allowed", map[string]interface{}{
		"retailer": retailer,
		"requests": limiter.count(),
	})
	return nil
}

func (l *RetailerLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.requests++
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *RetailerLimiter) count() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requests
}

// RecordSuccess closes a half-open circuit and clears its failures
func (rl *RateLimiter) RecordSuccess(retailer string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	retailer = strings.ToLower(retailer)

	if cb, exists := rl.circuitBreakers[retailer]; exists {
		if cb.state == CircuitHalfOpen {
			rl.logger.Info("Circuit breaker closed after successful search", map[string]interface{}{"retailer": retailer})
		}
		cb.state = CircuitClosed
		cb.failureCount = 0
	}
}

// RecordFailure counts a blocked or timed out search. A failure while
// half-open reopens the circuit straight away.
func (rl *RateLimiter) RecordFailure(retailer string, reason string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	retailer = strings.ToLower(retailer)

	if limiter, exists := rl.limiters[retailer]; exists {
		limiter.mu.Lock()
		limiter.failures++
		limiter.mu.Unlock()
	}

	cb := rl.getCircuitBreaker(retailer)
	cb.failureCount++
	cb.lastFailTime = rl.now()

	if cb.state == CircuitHalfOpen || (cb.state == CircuitClosed && cb.failureCount >= cb.maxFailures) {
		cb.state = CircuitOpen
		rl.logger.Warn("Circuit breaker opened", map[string]interface{}{
			"retailer": retailer,
			"failures": cb.failureCount,
			"reason":   reason,
		})
	}
}

// getRetailerLimiter gets or creates the limiter of a retailer
func (rl *RateLimiter) getRetailerLimiter(retailer string) *RetailerLimiter {
	if limiter, exists := rl.limiters[retailer]; exists {
		return limiter
	}

	perMinute := rl.config.RetailerRateLimit(retailer)
	rps := rate.Limit(float64(perMinute) / 60.0)
	if perMinute <= 0 {
		rps = rate.Inf
	}
	burst := rl.config.Limiter.Burst
	if burst <= 0 {
		burst = 1
	}

	limiter := &RetailerLimiter{
		limiter:  rate.NewLimiter(rps, burst),
		lastSeen: rl.now(),
	}
	rl.limiters[retailer] = limiter

	rl.logger.Info("Created retailer rate limiter", map[string]interface{}{
		"retailer":   retailer,
		"per_minute": perMinute,
		"burst":      burst,
	})

	return limiter
}

func (rl *RateLimiter) getCircuitBreaker(retailer string) *CircuitBreaker {
	if cb, exists := rl.circuitBreakers[retailer]; exists {
		return cb
	}

	maxFailures := rl.config.Limiter.FailureThreshold
	if maxFailures <= 0 {
		maxFailures = 5
	}
	cb := &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: rl.config.Limiter.ResetTimeout,
		state:        CircuitClosed,
	}
	rl.circuitBreakers[retailer] = cb
	return cb
}

// isCircuitClosed checks if the circuit breaker allows a search,
// moving an expired open circuit to half-open. Callers hold rl.mu.
func (rl *RateLimiter) isCircuitClosed(retailer string) bool {
	cb := rl.getCircuitBreaker(retailer)

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if rl.now().Sub(cb.lastFailTime) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			rl.logger.Info("Circuit breaker transitioned to half-open", map[string]interface{}{"retailer": retailer})
			return true
		}
		return false
	default:
		return false
	}
}

// State returns the circuit state of a retailer
func (rl *RateLimiter) State(retailer string) CircuitState {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cb, ok := rl.circuitBreakers[strings.ToLower(retailer)]; ok {
		return cb.state
	}
	return CircuitClosed
}

// GetRetailerStats returns statistics for a specific retailer
func (rl *RateLimiter) GetRetailerStats(retailer string) map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.stats(strings.ToLower(retailer))
}

func (rl *RateLimiter) stats(retailer string) map[string]interface{} {
	stats := make(map[string]interface{})

	if limiter, exists := rl.limiters[retailer]; exists {
		limiter.mu.RLock()
		stats["requests"] = limiter.requests
		stats["failures"] = limiter.failures
		stats["last_seen"] = limiter.lastSeen
		stats["limit"] = float64(limiter.limiter.Limit())
		stats["burst"] = limiter.limiter.Burst()
		limiter.mu.RUnlock()
	}

	if cb, exists := rl.circuitBreakers[retailer]; exists {
		stats["circuit_state"] = cb.state.String()
		stats["failure_count"] = cb.failureCount
		stats["max_failures"] = cb.maxFailures
		stats["last_fail_time"] = cb.lastFailTime
	}

	return stats
}

// GetAllStats returns statistics for every retailer seen so far
func (rl *RateLimiter) GetAllStats() map[string]map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	retailers := make(map[string]bool)
	for name := range rl.limiters {
		retailers[name] = true
	}
	for name := range rl.circuitBreakers {
		retailers[name] = true
	}

	allStats := make(map[string]map[string]interface{}, len(retailers))
	for name := range retailers {
		allStats[name] = rl.stats(name)
	}
	return allStats
}

func (rl *RateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			rl.cleanupTicker.Stop()
			return
		}
	}
}

// cleanup drops idle limiters and closed circuits without recent failures
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-30 * time.Minute)
	removed := 0

	for name, limiter := range rl.limiters {
		limiter.mu.RLock()
		lastSeen := limiter.lastSeen
		limiter.mu.RUnlock()

		if lastSeen.Before(cutoff) {
			delete(rl.limiters, name)
			removed++
		}
	}

	for name, cb := range rl.circuitBreakers {
		if cb.state == CircuitClosed && cb.lastFailTime.Before(cutoff) {
			delete(rl.circuitBreakers, name)
		}
	}

	if removed > 0 {
		rl.logger.Info("Cleaned up idle rate limiters", map[string]interface{}{"removed_count": removed})
	}
}

// Stop stops the cleanup routine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// String returns string representation of CircuitState
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
