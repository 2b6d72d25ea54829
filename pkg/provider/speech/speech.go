// Package speech defines the Adapter interface for external speech vendors.
//
// An Adapter wraps one vendor's TTS and STT endpoints behind a uniform,
// blocking request/response surface. The gateway layer owns retry, backoff,
// failover, and concurrency limiting — adapters perform exactly one vendor
// round-trip per call and translate vendor failures into typed [*Error]
// values so the gateway can decide what is retryable.
//
// Implementations must be safe for concurrent use; the gateway issues
// multiple calls in parallel up to the configured concurrency bound.
package speech

import (
	"context"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// SynthesisRequest describes one text-to-speech round-trip.
type SynthesisRequest struct {
	// Text is the text to synthesise. Must be non-empty.
	Text string

	// Agent is the persona speaking. Adapters map it to a vendor voice ID.
	Agent string

	// Language is the BCP-47 language tag (e.g., "hi-IN", "en-IN").
	Language string

	// Quality selects the vendor-side synthesis profile.
	Quality types.QualityPreset

	// Format is the requested output encoding.
	Format types.AudioFormat
}

// RecognitionRequest describes one speech-to-text round-trip over a complete
// utterance. Streaming recognition is intentionally out of scope — the
// session layer concatenates buffered audio chunks and submits them as one
// request.
type RecognitionRequest struct {
	// Audio is the complete utterance payload.
	Audio []byte

	// Format describes the encoding of Audio.
	Format types.AudioFormat

	// Language is the BCP-47 recognition hint. Empty lets the vendor
	// auto-detect, where supported.
	Language string
}

// Adapter is the capability interface implemented once per vendor.
//
// Both methods must respect ctx cancellation: they stop waiting and return
// ctx.Err() (wrapped) promptly, though the vendor-side call is not
// guaranteed to halt.
type Adapter interface {
	// Synthesize converts text to audio bytes in the requested format.
	// Failures are reported as [*Error].
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)

	// Recognize transcribes a complete utterance.
	// Failures are reported as [*Error].
	Recognize(ctx context.Context, req RecognitionRequest) (types.Transcript, error)

	// Name identifies the vendor for logs, metrics, and health reporting.
	Name() string
}
