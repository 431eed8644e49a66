// Package resilience provides the failure-handling primitives every provider
// operation is executed through: a circuit breaker, a retry executor, and an
// error recovery manager.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
)

// State represents the state of a circuit breaker
type State int32

const (
	// StateClosed - normal operation, requests pass through
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - testing if the downstream has recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	Name string `yaml:"name" json:"name"`
	// FailureRatio trips the breaker once failures/total reaches it.
	FailureRatio float64 `yaml:"failure_ratio" json:"failure_ratio"`
	// MinThroughput is the sample floor below which the breaker never trips.
	MinThroughput int64 `yaml:"min_throughput" json:"min_throughput"`
	// Window is the rolling interval over which samples are counted.
	Window time.Duration `yaml:"window" json:"window"`
	// Cooldown is how long the breaker stays open before a half-open trial.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// HalfOpenTrials is the number of probe calls permitted while half-open.
	HalfOpenTrials int64 `yaml:"half_open_trials" json:"half_open_trials"`
}

// DefaultBreakerConfig returns the gateway defaults: trip at 50% failures
// over at least 5 samples in a 30s window, 30s cooldown, one probe call.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:           name,
		FailureRatio:   0.5,
		MinThroughput:  5,
		Window:         30 * time.Second,
		Cooldown:       30 * time.Second,
		HalfOpenTrials: 1,
	}
}

// CircuitBreaker guards one operation class of one provider. Never shared
// across providers.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu             sync.Mutex
	state          int32 // State, also read atomically outside mu
	windowStart    time.Time
	windowTotal    int64
	windowFailures int64
	openedAt       time.Time
	halfOpenProbes int64

	totalRequests  int64
	totalRejected  int64
	totalFailures  int64
	totalSuccesses int64
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 1
	}
	return &CircuitBreaker{
		cfg:         cfg,
		logger:      logger,
		state:       int32(StateClosed),
		windowStart: time.Now(),
	}
}

// Execute runs fn under breaker protection. When the breaker is open the call
// fails fast with a circuit_open error and fn is never invoked. One guarded
// call counts as a single sample regardless of retries inside fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case err == nil:
		cb.recordSuccess()
	case gwerrors.IsTerminal(err):
		// Caller mistakes (validation, bad config) say nothing about the
		// downstream's health. Not a breaker sample, but a half-open probe
		// that got this far proves the transport works.
		if cb.State() == StateHalfOpen {
			cb.recordSuccess()
		}
	default:
		cb.recordFailure()
	}
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt64(&cb.totalRequests, 1)
	now := time.Now()
	cb.rollWindowLocked(now)

	switch State(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.cfg.Cooldown {
			atomic.StoreInt32(&cb.state, int32(StateHalfOpen))
			cb.halfOpenProbes = 1
			cb.logger.Info("circuit breaker transitioning to half-open",
				zap.String("name", cb.cfg.Name))
			return nil
		}
		atomic.AddInt64(&cb.totalRejected, 1)
		return cb.openErrorLocked(now)

	case StateHalfOpen:
		if cb.halfOpenProbes < cb.cfg.HalfOpenTrials {
			cb.halfOpenProbes++
			return nil
		}
		atomic.AddInt64(&cb.totalRejected, 1)
		return cb.openErrorLocked(now)

	default:
		atomic.AddInt64(&cb.totalRejected, 1)
		return cb.openErrorLocked(now)
	}
}

func (cb *CircuitBreaker) openErrorLocked(now time.Time) error {
	remaining := cb.cfg.Cooldown - now.Sub(cb.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return gwerrors.New(gwerrors.KindCircuitOpen, "CircuitOpen",
		"circuit breaker "+cb.cfg.Name+" is "+cb.State().String()).
		WithDetail("cooldown_remaining_ms", remaining.Milliseconds())
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt64(&cb.totalSuccesses, 1)
	cb.windowTotal++

	if State(atomic.LoadInt32(&cb.state)) == StateHalfOpen {
		atomic.StoreInt32(&cb.state, int32(StateClosed))
		cb.resetWindowLocked(time.Now())
		cb.logger.Info("circuit breaker closed after successful probe",
			zap.String("name", cb.cfg.Name))
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt64(&cb.totalFailures, 1)
	now := time.Now()
	cb.rollWindowLocked(now)
	cb.windowTotal++
	cb.windowFailures++

	switch State(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		if cb.windowTotal >= cb.cfg.MinThroughput &&
			float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.cfg.FailureRatio {
			atomic.StoreInt32(&cb.state, int32(StateOpen))
			cb.openedAt = now
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.cfg.Name),
				zap.Int64("window_failures", cb.windowFailures),
				zap.Int64("window_total", cb.windowTotal))
		}
	case StateHalfOpen:
		atomic.StoreInt32(&cb.state, int32(StateOpen))
		cb.openedAt = now
		cb.logger.Warn("circuit breaker reopened after failed probe",
			zap.String("name", cb.cfg.Name))
	}
}

// rollWindowLocked resets sample counters once the rolling window elapses.
func (cb *CircuitBreaker) rollWindowLocked(now time.Time) {
	if now.Sub(cb.windowStart) >= cb.cfg.Window {
		cb.resetWindowLocked(now)
	}
}

func (cb *CircuitBreaker) resetWindowLocked(now time.Time) {
	cb.windowStart = now
	cb.windowTotal = 0
	cb.windowFailures = 0
}

// State returns the current breaker state. Safe for concurrent readers.
func (cb *CircuitBreaker) State() State {
	return State(atomic.LoadInt32(&cb.state))
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.StoreInt32(&cb.state, int32(StateClosed))
	cb.resetWindowLocked(time.Now())
	cb.logger.Info("circuit breaker manually reset", zap.String("name", cb.cfg.Name))
}

// BreakerMetrics is a point-in-time breaker snapshot.
type BreakerMetrics struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	TotalRequests  int64  `json:"total_requests"`
	TotalRejected  int64  `json:"total_rejected"`
	TotalFailures  int64  `json:"total_failures"`
	TotalSuccesses int64  `json:"total_successes"`
}

// Metrics returns a consistent snapshot of breaker counters.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	return BreakerMetrics{
		Name:           cb.cfg.Name,
		State:          cb.State().String(),
		TotalRequests:  atomic.LoadInt64(&cb.totalRequests),
		TotalRejected:  atomic.LoadInt64(&cb.totalRejected),
		TotalFailures:  atomic.LoadInt64(&cb.totalFailures),
		TotalSuccesses: atomic.LoadInt64(&cb.totalSuccesses),
	}
}

// ErrorRate returns the lifetime failure ratio, zero when idle.
func (cb *CircuitBreaker) ErrorRate() float64 {
	total := atomic.LoadInt64(&cb.totalSuccesses) + atomic.LoadInt64(&cb.totalFailures)
	if total == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&cb.totalFailures)) / float64(total)
}
