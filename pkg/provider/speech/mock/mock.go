// Package mock provides a test double for the speech.Adapter interface.
//
// Use Adapter to feed controlled audio/transcript results to consumers and to
// verify the requests the gateway issues. Error sequences allow simulating
// transient vendor failures:
//
//	a := &mock.Adapter{
//	    AdapterName:     "primary",
//	    SynthesizeAudio: []byte("pcm"),
//	    SynthesizeErrs:  []error{speech.NewError("primary", speech.KindTimeout, "t")},
//	}
//
// The first Synthesize call fails with the timeout; subsequent calls return
// SynthesizeAudio.
package mock

import (
	"context"
	"sync"

	"github.com/sarathi-ai/voicecore/pkg/provider/speech"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Adapter is a mock implementation of speech.Adapter. All fields may be set
// before use; methods are safe for concurrent use.
type Adapter struct {
	mu sync.Mutex

	// AdapterName is returned by Name. Defaults to "mock".
	AdapterName string

	// --- Configurable responses ---

	// SynthesizeAudio is returned by Synthesize once SynthesizeErrs is exhausted.
	SynthesizeAudio []byte

	// SynthesizeFunc, if non-nil, overrides SynthesizeAudio/SynthesizeErrs
	// entirely and is invoked for every call.
	SynthesizeFunc func(ctx context.Context, req speech.SynthesisRequest) ([]byte, error)

	// SynthesizeErrs is a queue of errors returned by successive Synthesize
	// calls before SynthesizeAudio is served.
	SynthesizeErrs []error

	// RecognizeResult is returned by Recognize once RecognizeErrs is exhausted.
	RecognizeResult types.Transcript

	// RecognizeFunc, if non-nil, overrides RecognizeResult/RecognizeErrs.
	RecognizeFunc func(ctx context.Context, req speech.RecognitionRequest) (types.Transcript, error)

	// RecognizeErrs is a queue of errors returned by successive Recognize calls.
	RecognizeErrs []error

	// Delay, when non-zero, makes each call block for the given duration or
	// until ctx is cancelled, whichever comes first.
	Delay DelayFunc

	// --- Call records ---

	// SynthesizeCalls records every Synthesize request in order.
	SynthesizeCalls []speech.SynthesisRequest

	// RecognizeCalls records every Recognize request in order.
	RecognizeCalls []speech.RecognitionRequest
}

// DelayFunc blocks until the simulated vendor latency elapses or ctx is done.
// Returning ctx.Err() aborts the call.
type DelayFunc func(ctx context.Context) error

// Compile-time assertion that Adapter satisfies speech.Adapter.
var _ speech.Adapter = (*Adapter)(nil)

// Name implements speech.Adapter.
func (a *Adapter) Name() string {
	if a.AdapterName == "" {
		return "mock"
	}
	return a.AdapterName
}

// Synthesize implements speech.Adapter.
func (a *Adapter) Synthesize(ctx context.Context, req speech.SynthesisRequest) ([]byte, error) {
	a.mu.Lock()
	a.SynthesizeCalls = append(a.SynthesizeCalls, req)
	fn := a.SynthesizeFunc
	var queued error
	if fn == nil && len(a.SynthesizeErrs) > 0 {
		queued = a.SynthesizeErrs[0]
		a.SynthesizeErrs = a.SynthesizeErrs[1:]
	}
	audio := a.SynthesizeAudio
	delay := a.Delay
	a.mu.Unlock()

	if delay != nil {
		if err := delay(ctx); err != nil {
			return nil, err
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if queued != nil {
		return nil, queued
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]byte, len(audio))
	copy(out, audio)
	return out, nil
}

// Recognize implements speech.Adapter.
func (a *Adapter) Recognize(ctx context.Context, req speech.RecognitionRequest) (types.Transcript, error) {
	a.mu.Lock()
	a.RecognizeCalls = append(a.RecognizeCalls, req)
	fn := a.RecognizeFunc
	var queued error
	if fn == nil && len(a.RecognizeErrs) > 0 {
		queued = a.RecognizeErrs[0]
		a.RecognizeErrs = a.RecognizeErrs[1:]
	}
	result := a.RecognizeResult
	delay := a.Delay
	a.mu.Unlock()

	if delay != nil {
		if err := delay(ctx); err != nil {
			return types.Transcript{}, err
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if queued != nil {
		return types.Transcript{}, queued
	}
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}
	return result, nil
}

// SynthesizeCount returns the number of Synthesize calls recorded so far.
func (a *Adapter) SynthesizeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.SynthesizeCalls)
}

// RecognizeCount returns the number of Recognize calls recorded so far.
func (a *Adapter) RecognizeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.RecognizeCalls)
}
