package cms

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // requests flow
	CircuitOpen                         // requests fail fast
	CircuitHalfOpen                     // one probe request is in flight
)

func (s CircuitState) String() string {
	switch s {
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

// CircuitBreakerConfig tunes when the breaker opens and how long it stays
// open.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Failures within FailureWindow that open the circuit (default: 5)
	FailureWindow    time.Duration // Default: 1m
	Cooldown         time.Duration // Time open before a probe is let through (default: 30s)
}

// DefaultCircuitBreakerConfig returns the breaker settings used for the CMS.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker stops calling the CMS for a while after repeated failures so
// page requests fail fast instead of each waiting for a timeout. After the
// cooldown a single probe request decides whether the circuit closes again;
// concurrent requests keep failing fast until it returns.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	windowStart time.Time
	openedAt    time.Time
}

// NewCircuitBreaker creates a closed breaker. Zero fields of cfg take their
// defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{name: name, cfg: cfg, logger: logger, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	probe, ok := cb.admit()
	if !ok {
		return nil, &CircuitOpenError{Name: cb.name}
	}
	body, err := fn(ctx)
	cb.record(probe, err)
	return body, err
}

// admit reports whether a request may run and whether it is the half-open
// probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false, false
		}
		cb.setState(CircuitHalfOpen)
		return true, true
	default:
		return false, false
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := countsAsFailure(err)
	if probe {
		if failed {
			cb.open()
		} else {
			cb.failures = 0
			cb.setState(CircuitClosed)
		}
		return
	}
	if cb.state != CircuitClosed {
		return
	}
	if !failed {
		if err == nil {
			cb.failures = 0
		}
		return
	}

	now := cb.now()
	if cb.failures == 0 || now.Sub(cb.windowStart) > cb.cfg.FailureWindow {
		cb.failures = 0
		cb.windowStart = now
	}
	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.setState(CircuitOpen)
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	cb.logger.Warn("cms circuit state changed",
		zap.String("circuit", cb.name),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", s))
	cb.state = s
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and forgets recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(CircuitClosed)
}
