// Package gateway routes speech synthesis and recognition calls to vendor
// adapters with retry, failover, and circuit breaking.
//
// Every call first acquires a slot from the process-wide [limiter.Limiter];
// the gateway is the only component that talks to vendors, so the limiter
// cannot be bypassed. Admitted calls run against the primary adapter with
// exponential-backoff retries on retryable errors, then fail over to the
// backup adapter. A per-adapter circuit [breaker] skips adapters that keep
// failing so sessions are not stalled by retries against a dead vendor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sarathi-ai/voicecore/internal/limiter"
	"github.com/sarathi-ai/voicecore/pkg/provider/speech"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Call handling defaults.
const (
	// DefaultCallTimeout bounds one provider attempt.
	DefaultCallTimeout = 15 * time.Second
)

// RetryPolicy controls per-adapter retry behaviour.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries against one adapter,
	// including the first.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; each further retry
	// doubles it.
	BaseBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy is applied when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseBackoff: 200 * time.Millisecond,
	MaxBackoff:  5 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultRetryPolicy.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	return p
}

// backoff returns the delay before retry number retry (1-based).
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.BaseBackoff << (retry - 1)
	if d > p.MaxBackoff || d <= 0 {
		return p.MaxBackoff
	}
	return d
}

// CallOptions carries per-call scheduling metadata.
type CallOptions struct {
	// Identity is the rate-limit subject, typically the session's user ID.
	Identity string

	// Priority orders the call in the limiter queue.
	Priority types.Priority
}

// AdapterStatus is the health view of one configured adapter.
type AdapterStatus struct {
	Name    string `json:"name"`
	Circuit string `json:"circuit"`
}

// Status is the gateway's health snapshot for the operational surface.
type Status struct {
	Primary AdapterStatus  `json:"primary"`
	Backup  *AdapterStatus `json:"backup,omitempty"`
	Limiter limiter.Stats  `json:"limiter"`
}

// Gateway fans speech calls out to the configured adapters.
// It is safe for concurrent use.
type Gateway struct {
	primary *guardedAdapter
	backup  *guardedAdapter // nil when no backup is configured
	lim     *limiter.Limiter
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	breakerCfg breakerConfig
	failovers  func() // observe hook, incremented on each failover
}

// guardedAdapter pairs an adapter with its circuit breaker.
type guardedAdapter struct {
	adapter speech.Adapter
	circuit *breaker
}

// GatewayOption configures a [Gateway].
type GatewayOption func(*Gateway)

// WithBackup sets the failover adapter.
func WithBackup(adapter speech.Adapter) GatewayOption {
	return func(g *Gateway) {
		g.backup = &guardedAdapter{adapter: adapter}
	}
}

// WithRetryPolicy overrides the retry policy. Zero fields keep defaults.
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = p.withDefaults() }
}

// WithCallTimeout bounds each provider attempt. Default 15s.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithGatewayLogger sets the logger for retry and failover events.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// WithBreakerConfig tunes the per-adapter circuit breakers.
func WithBreakerConfig(maxFailures int, resetTimeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.breakerCfg = breakerConfig{maxFailures: maxFailures, resetTimeout: resetTimeout}
	}
}

// WithFailoverHook registers a callback invoked once per failover. The
// observe package uses it to count failovers.
func WithFailoverHook(fn func()) GatewayOption {
	return func(g *Gateway) { g.failovers = fn }
}

// New creates a Gateway over the primary adapter and the process limiter.
func New(primary speech.Adapter, lim *limiter.Limiter, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		primary: &guardedAdapter{adapter: primary},
		lim:     lim,
		retry:   DefaultRetryPolicy,
		timeout: DefaultCallTimeout,
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(g)
	}
	g.primary.circuit = newBreaker(primary.Name(), g.breakerCfg, g.logger, time.Now)
	if g.backup != nil {
		g.backup.circuit = newBreaker(g.backup.adapter.Name(), g.breakerCfg, g.logger, time.Now)
	}
	return g
}

// Synthesize converts req's text to audio through the adapter chain.
func (g *Gateway) Synthesize(ctx context.Context, req types.VoiceRequest, opts CallOptions) ([]byte, error) {
	release, err := g.lim.Acquire(ctx, limiter.Request{
		Identity: opts.Identity,
		Kind:     types.CallTTS,
		Priority: opts.Priority,
	})
	if err != nil {
		return nil, err
	}
	defer release()

	sreq := speech.SynthesisRequest{
		Text:     req.Text,
		Agent:    req.Agent,
		Language: req.Language,
		Quality:  req.Quality,
		Format:   req.Format,
	}
	var audio []byte
	err = g.call(ctx, "tts", func(ctx context.Context, a speech.Adapter) error {
		var cerr error
		audio, cerr = a.Synthesize(ctx, sreq)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Recognize transcribes audio through the adapter chain.
func (g *Gateway) Recognize(ctx context.Context, audio []byte, format types.AudioFormat, language string, opts CallOptions) (types.Transcript, error) {
	release, err := g.lim.Acquire(ctx, limiter.Request{
		Identity: opts.Identity,
		Kind:     types.CallSTT,
		Priority: opts.Priority,
	})
	if err != nil {
		return types.Transcript{}, err
	}
	defer release()

	rreq := speech.RecognitionRequest{
		Audio:    audio,
		Format:   format,
		Language: language,
	}
	var transcript types.Transcript
	err = g.call(ctx, "stt", func(ctx context.Context, a speech.Adapter) error {
		var cerr error
		transcript, cerr = a.Recognize(ctx, rreq)
		return cerr
	})
	if err != nil {
		return types.Transcript{}, err
	}
	return transcript, nil
}

// call runs fn against the primary adapter and fails over to the backup.
// Non-retryable errors (bad input) return immediately; a skipped or
// exhausted primary falls through to the backup.
func (g *Gateway) call(ctx context.Context, kind string, fn func(context.Context, speech.Adapter) error) error {
	primaryErr := g.tryAdapter(ctx, kind, g.primary, fn)
	if primaryErr == nil {
		return nil
	}
	if !shouldFailover(primaryErr) {
		return primaryErr
	}
	if g.backup == nil {
		return primaryErr
	}

	g.logger.Warn("failing over to backup provider",
		slog.String("kind", kind),
		slog.String("primary", g.primary.adapter.Name()),
		slog.String("backup", g.backup.adapter.Name()),
		slog.String("error", primaryErr.Error()))
	if g.failovers != nil {
		g.failovers()
	}

	backupErr := g.tryAdapter(ctx, kind, g.backup, fn)
	if backupErr == nil {
		return nil
	}
	if errors.Is(backupErr, errBreakerOpen) {
		return primaryErr
	}
	return fmt.Errorf("all providers failed: %w (primary: %v)", backupErr, primaryErr)
}

// tryAdapter runs fn against one adapter with the retry policy, honouring
// its circuit breaker.
func (g *Gateway) tryAdapter(ctx context.Context, kind string, ga *guardedAdapter, fn func(context.Context, speech.Adapter) error) error {
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if err := ga.circuit.allow(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := fn(callCtx, ga.adapter)
		cancel()

		// The caller's own cancellation or deadline is not an adapter
		// failure; only the per-call timeout counts against the breaker.
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		ga.circuit.report(err != nil)
		if err == nil {
			return nil
		}
		lastErr = err

		if !speech.IsRetryable(err) || attempt == g.retry.MaxAttempts {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := g.retry.backoff(attempt)
		g.logger.Debug("retrying provider call",
			slog.String("kind", kind),
			slog.String("adapter", ga.adapter.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if serr := g.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return lastErr
}

// shouldFailover reports whether err warrants trying the backup adapter.
// Invalid input would fail identically everywhere, and the caller's own
// cancellation or deadline is not a provider problem.
func shouldFailover(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errBreakerOpen) {
		return true
	}
	return speech.KindOf(err) != speech.KindInvalidInput
}

// Status reports adapter circuit states and limiter load.
func (g *Gateway) Status() Status {
	s := Status{
		Primary: AdapterStatus{
			Name:    g.primary.adapter.Name(),
			Circuit: g.primary.circuit.currentState().String(),
		},
		Limiter: g.lim.Stats(),
	}
	if g.backup != nil {
		s.Backup = &AdapterStatus{
			Name:    g.backup.adapter.Name(),
			Circuit: g.backup.circuit.currentState().String(),
		}
	}
	return s
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
