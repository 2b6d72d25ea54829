// Package voicecore defines the shared types used across all voicecore packages.
//
// These types form the lingua franca between the provider gateway, the voice
// cache, the command processor, and the session layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// AudioFormat identifies the container/encoding of an audio payload.
type AudioFormat string

const (
	FormatPCM  AudioFormat = "pcm"
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatOGG  AudioFormat = "ogg"
	FormatFLAC AudioFormat = "flac"
)

// IsValid reports whether f is a recognised audio format.
func (f AudioFormat) IsValid() bool {
	switch f {
	case FormatPCM, FormatWAV, FormatMP3, FormatOGG, FormatFLAC:
		return true
	}
	return false
}

// QualityPreset selects a fixed bitrate/sample-rate profile for synthesis
// and optimization. Presets are ordered from bandwidth-constrained to lossless.
type QualityPreset string

const (
	QualityLow     QualityPreset = "low"     // 64 kbit/s, 16 kHz
	QualityGood    QualityPreset = "good"    // 128 kbit/s, 22.05 kHz
	QualityHigh    QualityPreset = "high"    // 192 kbit/s, 44.1 kHz
	QualityPremium QualityPreset = "premium" // 320 kbit/s, 48 kHz
)

// IsValid reports whether q is a recognised quality preset.
func (q QualityPreset) IsValid() bool {
	switch q {
	case QualityLow, QualityGood, QualityHigh, QualityPremium:
		return true
	}
	return false
}

// VoiceRequest fully describes one synthesis request. It is immutable once
// constructed and deterministically maps to a cache key — two requests with
// the same field values always address the same cached audio.
type VoiceRequest struct {
	// Text is the response text to synthesise.
	Text string

	// Agent is the persona speaking (e.g., "mitra", "guru", "parikshak").
	// The agent selects the vendor voice, so it participates in the cache key.
	Agent string

	// Language is the BCP-47 language tag for synthesis (e.g., "hi-IN", "en-IN").
	Language string

	// Quality selects the synthesis/optimization profile.
	Quality QualityPreset

	// Format is the desired output audio format.
	Format AudioFormat
}

// CacheKey derives the content-addressable cache key for the request.
// The key hashes the agent, language, quality preset, and the normalised
// text, so trivially different spellings of the same utterance (case,
// surrounding whitespace) share one entry.
func (r VoiceRequest) CacheKey() string {
	text := strings.ToLower(strings.TrimSpace(r.Text))
	textSum := sha256.Sum256([]byte(text))

	h := sha256.New()
	h.Write([]byte(r.Agent))
	h.Write([]byte{0})
	h.Write([]byte(r.Language))
	h.Write([]byte{0})
	h.Write([]byte(r.Quality))
	h.Write([]byte{0})
	h.Write([]byte(r.Format))
	h.Write([]byte{0})
	h.Write(textSum[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Transcript is a speech-to-text result.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the recognition confidence score (0.0–1.0). May be zero
	// if the provider does not report confidence.
	Confidence float64

	// Language is the BCP-47 tag the provider recognised, when reported.
	Language string

	// Duration is the length of the recognised utterance, when reported.
	Duration time.Duration
}

// IntentType classifies what a recognised utterance asks the platform to do.
type IntentType string

const (
	IntentAgentSwitch IntentType = "agent_switch"
	IntentAction      IntentType = "action"
	IntentQuestion    IntentType = "question"
	IntentGreeting    IntentType = "greeting"
	IntentUnknown     IntentType = "unknown"
)

// CommandIntent is the output of the command classification pipeline.
// For identical input text, language hint, and recognition confidence the
// pipeline always produces an identical CommandIntent.
type CommandIntent struct {
	// Type is the classified intent category.
	Type IntentType

	// Confidence combines phrase-match strength with the recognition
	// confidence supplied by the caller (0.0–1.0).
	Confidence float64

	// TargetAgent is the persona an agent-switch command addresses.
	// Empty for other intent types.
	TargetAgent string

	// Topics holds extracted topic keywords (e.g., the subject of a
	// question or learning request). May be nil.
	Topics []string

	// Language is the detected input language ("hi" or "en").
	Language string
}

// CallKind distinguishes the two provider call directions.
type CallKind string

const (
	CallTTS CallKind = "tts"
	CallSTT CallKind = "stt"
)

// Priority orders queued provider calls. Interactive session traffic
// outranks background/preload work.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityInteractive
)

// String returns the human-readable name of the priority class.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}
