package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// errBreakerOpen is returned by [breaker.allow] while the breaker rejects
// calls. The gateway treats it as "skip this adapter", not as a caller error.
var errBreakerOpen = errors.New("gateway: adapter circuit open")

// breakerState is the operating mode of a [breaker].
type breakerState int

const (
	// breakerClosed forwards all calls.
	breakerClosed breakerState = iota

	// breakerOpen rejects calls until the reset timeout elapses.
	breakerOpen

	// breakerHalfOpen lets a limited number of probes through to decide
	// whether the adapter has recovered.
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breakerConfig tunes one adapter's circuit breaker.
type breakerConfig struct {
	// maxFailures is the consecutive-failure count that opens the breaker.
	maxFailures int

	// resetTimeout is how long the breaker stays open before probing.
	resetTimeout time.Duration

	// halfOpenMax is the probe budget in the half-open state.
	halfOpenMax int
}

func (c breakerConfig) withDefaults() breakerConfig {
	if c.maxFailures <= 0 {
		c.maxFailures = 5
	}
	if c.resetTimeout <= 0 {
		c.resetTimeout = 30 * time.Second
	}
	if c.halfOpenMax <= 0 {
		c.halfOpenMax = 3
	}
	return c
}

// breaker guards one speech adapter. Repeated failures open it, routing
// traffic to the backup without waiting out retries against a dead vendor.
// Safe for concurrent use.
type breaker struct {
	adapter string
	cfg     breakerConfig
	logger  *slog.Logger
	now     func() time.Time

	mu              sync.Mutex
	state           breakerState
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

func newBreaker(adapter string, cfg breakerConfig, logger *slog.Logger, now func() time.Time) *breaker {
	return &breaker{
		adapter: adapter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     now,
	}
}

// allow reports whether a call may proceed. In the open state it returns
// errBreakerOpen until the reset timeout elapses, then admits probe calls.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.resetTimeout {
			return errBreakerOpen
		}
		b.state = breakerHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenOK = 0
		b.logger.Info("adapter circuit half-open", slog.String("adapter", b.adapter))

	case breakerHalfOpen:
		if b.halfOpenCalls >= b.cfg.halfOpenMax {
			return errBreakerOpen
		}
	}

	if b.state == breakerHalfOpen {
		b.halfOpenCalls++
	}
	return nil
}

// report records the outcome of a call previously admitted by allow.
func (b *breaker) report(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.lastFailure = b.now()
		if b.state == breakerHalfOpen {
			// Any failed probe re-opens immediately.
			b.state = breakerOpen
			b.consecutiveFail = b.cfg.maxFailures
			b.logger.Warn("adapter circuit re-opened", slog.String("adapter", b.adapter))
			return
		}
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.maxFailures {
			b.state = breakerOpen
			b.logger.Warn("adapter circuit opened",
				slog.String("adapter", b.adapter),
				slog.Int("consecutive_failures", b.consecutiveFail))
		}
		return
	}

	if b.state == breakerHalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.halfOpenMax {
			b.state = breakerClosed
			b.consecutiveFail = 0
			b.logger.Info("adapter circuit closed", slog.String("adapter", b.adapter))
		}
		return
	}
	b.consecutiveFail = 0
}

// currentState returns the effective state, reporting half-open once an open
// breaker's reset timeout has elapsed even before the next allow call.
func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && b.now().Sub(b.lastFailure) >= b.cfg.resetTimeout {
		return breakerHalfOpen
	}
	return b.state
}
